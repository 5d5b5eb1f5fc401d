package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
)

// Record is one server row keyed by column name. Missing columns are
// stored as NULL.
type Record map[string]string

// InsertServers appends rows to the server table of index.
func (s *Store) InsertServers(ctx context.Context, index model.Index, records []Record) error {
	table, err := mainTable(index)
	if err != nil {
		return fail("inserting servers", err)
	}
	return s.insert(ctx, table, records, "")
}

// UpsertServerUnique writes businesscontinuity side-table rows, replacing
// any existing row with the same SERVER_ID.
func (s *Store) UpsertServerUnique(ctx context.Context, records []Record) error {
	return s.insert(ctx, tableServerUnique, records, "SERVER_ID")
}

func (s *Store) insert(ctx context.Context, table string, records []Record, conflict string) error {
	op := "inserting into " + table
	known := make(map[string]bool)
	for _, c := range knownColumns(table) {
		known[c] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(op, err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if rec["SERVER_ID"] == "" {
			return fail(op, fmt.Errorf("record without SERVER_ID"))
		}
		cols := make([]string, 0, len(rec))
		for c := range rec {
			if !known[c] {
				return fail(op, fmt.Errorf("unknown column %q", c))
			}
			cols = append(cols, c)
		}
		sort.Strings(cols)

		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
			marks[i] = "?"
			args[i] = rec[c]
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(marks, ", "))
		if conflict != "" {
			sets := make([]string, 0, len(cols))
			for _, c := range quoted {
				if c != quoteIdent(conflict) {
					sets = append(sets, c+" = excluded."+c)
				}
			}
			if len(sets) == 0 {
				q += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteIdent(conflict))
			} else {
				q += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quoteIdent(conflict), strings.Join(sets, ", "))
			}
		}
		if _, err := tx.ExecContext(ctx, s.d.placeholders(q), args...); err != nil {
			return fail(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(op, err)
	}
	return nil
}

// Columns returns the columns that exist in the store for index: the
// server table and, for businesscontinuity, the side table.
func (s *Store) Columns(ctx context.Context, index model.Index) (main, side map[string]bool, err error) {
	table, err := mainTable(index)
	if err != nil {
		return nil, nil, fail("reading columns", err)
	}
	main, err = s.tableColumns(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	side = map[string]bool{}
	if index == model.IndexBusinessContinuity {
		side, err = s.tableColumns(ctx, tableServerUnique)
		if err != nil {
			return nil, nil, err
		}
	}
	return main, side, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.d.placeholders(s.d.columns), table)
	if err != nil {
		return nil, fail("reading columns of "+table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fail("reading columns of "+table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fail("reading columns of "+table, err)
	}
	return cols, nil
}

// EnsureIndexes creates an index for every listbox field of the catalog.
func (s *Store) EnsureIndexes(ctx context.Context, ix *catalog.Index) error {
	table, err := mainTable(ix.Name)
	if err != nil {
		return fail("creating indexes", err)
	}
	for _, f := range ix.Fields() {
		if !f.Listbox || f.Canonical == model.FieldServerID {
			continue
		}
		t := table
		if f.SideTable {
			t = tableServerUnique
		}
		name := "idx_" + t + "_" + strings.ToLower(f.Canonical)
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", quoteIdent(name), t, quoteIdent(f.Canonical))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fail("creating index "+name, err)
		}
	}
	return nil
}

// Analyze refreshes the planner statistics used for row count estimates
// and index selection.
func (s *Store) Analyze(ctx context.Context) error {
	stmt := "ANALYZE"
	if s.d == sqliteDialect {
		stmt = "PRAGMA optimize"
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fail("analyzing", err)
	}
	return nil
}
