package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
)

func (s *Store) scanBuilder() *builder {
	return &builder{d: s.d, col: scanColumn}
}

// Count returns the exact number of rows matching the plan.
func (s *Store) Count(ctx context.Context, p *query.Plan) (int64, error) {
	from, err := fromClause(p.Index)
	if err != nil {
		return 0, fail("counting rows", err)
	}
	b := s.scanBuilder()
	b.write("SELECT COUNT(*) FROM ", from)
	if err := b.where(p.Where); err != nil {
		return 0, fail("counting rows", err)
	}
	q, args := b.query()

	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fail("counting rows", err)
	}
	return n, nil
}

func (s *Store) selectPlan(p *query.Plan) (*builder, error) {
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("plan selects no columns")
	}
	from, err := fromClause(p.Index)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		cols[i] = scanColumn(f)
	}
	b := s.scanBuilder()
	b.write("SELECT ", strings.Join(cols, ", "), " FROM ", from)
	if err := b.where(p.Where); err != nil {
		return nil, err
	}
	order := make([]string, 0, len(p.OrderBy)+1)
	for _, f := range p.OrderBy {
		order = append(order, scanColumn(f))
	}
	order = append(order, aliasMain+".id")
	b.write(" ORDER BY ", strings.Join(order, ", "))
	return b, nil
}

// Scan iterates the rows matching the plan with a forward-only cursor and
// hands them to fn in chunks of at most chunkSize rows. Only one chunk is
// held at a time. Iteration stops at the first error returned by fn.
func (s *Store) Scan(ctx context.Context, p *query.Plan, chunkSize int, fn func([]model.Row) error) error {
	b, err := s.selectPlan(p)
	if err != nil {
		return fail("scanning rows", err)
	}
	q, args := b.query()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fail("scanning rows", err)
	}
	defer rows.Close()

	chunk := make([]model.Row, 0, chunkSize)
	for rows.Next() {
		row, err := scanRow(rows, len(p.Fields))
		if err != nil {
			return fail("scanning rows", err)
		}
		chunk = append(chunk, row)
		if len(chunk) == chunkSize {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = make([]model.Row, 0, chunkSize)
		}
	}
	if err := rows.Err(); err != nil {
		return fail("scanning rows", err)
	}
	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}

// Page returns at most limit rows starting at offset, in plan order.
func (s *Store) Page(ctx context.Context, p *query.Plan, offset, limit int) ([]model.Row, error) {
	b, err := s.selectPlan(p)
	if err != nil {
		return nil, fail("reading page", err)
	}
	b.write(" LIMIT ? OFFSET ?")
	b.bind(limit)
	b.bind(offset)
	q, args := b.query()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fail("reading page", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		row, err := scanRow(rows, len(p.Fields))
		if err != nil {
			return nil, fail("reading page", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("reading page", err)
	}
	return out, nil
}

func scanRow(rows *sql.Rows, n int) (model.Row, error) {
	row := make(model.Row, n)
	dest := make([]any, n)
	for i := range row {
		dest[i] = &row[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return row, nil
}

// Lookup returns, for every row of index whose SERVER_ID is in ids, the
// SERVER_ID followed by the requested fields.
func (s *Store) Lookup(ctx context.Context, index model.Index, fields []catalog.Field, ids []string) ([]model.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	from, err := fromClause(index)
	if err != nil {
		return nil, fail("looking up rows", err)
	}
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, aliasMain+`."SERVER_ID"`)
	for _, f := range fields {
		cols = append(cols, scanColumn(f))
	}
	b := s.scanBuilder()
	b.write("SELECT ", strings.Join(cols, ", "), " FROM ", from, " WHERE ")
	if err := b.pred(query.InSet{Field: query.ServerIDField, Values: ids}); err != nil {
		return nil, fail("looking up rows", err)
	}
	q, args := b.query()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fail("looking up rows", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		row, err := scanRow(rows, len(cols))
		if err != nil {
			return nil, fail("looking up rows", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("looking up rows", err)
	}
	return out, nil
}

// Distinct returns the sorted distinct non-NULL values of a field.
func (s *Store) Distinct(ctx context.Context, index model.Index, field catalog.Field) ([]string, error) {
	from, err := fromClause(index)
	if err != nil {
		return nil, fail("listing distinct values", err)
	}
	col := scanColumn(field)
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s", col, from, col, col)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fail("listing distinct values", err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fail("listing distinct values", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("listing distinct values", err)
	}
	return values, nil
}
