package engine

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/emit"
	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
)

// valueSeparator joins the distinct values merged into one cell.
const valueSeparator = " | "

// project turns scanned rows into output rows: store columns are copied,
// ANNOTATION is joined from the annotation store and enrich columns are
// looked up on the other index. Each join costs one batch query per chunk.
func (e *Engine) project(ctx context.Context, p *Prepared, rows []model.Row) ([]model.Row, error) {
	var (
		notes    map[string]string
		enriched map[string][]string
	)
	if p.idIdx >= 0 && len(rows) > 0 {
		ids := distinctIDs(rows, p.idIdx)
		if p.Query.WantsAnnotation() {
			var err error
			notes, err = e.store.AnnotationNotes(ctx, ids)
			if err != nil {
				return nil, err
			}
		}
		if p.Query.Enrich != nil {
			var err error
			enriched, err = e.enrich(ctx, p.Query.Enrich, ids)
			if err != nil {
				return nil, err
			}
		}
	}

	out := make([]model.Row, len(rows))
	for r, row := range rows {
		o := make(model.Row, len(p.Query.Columns))
		var id string
		if p.idIdx >= 0 {
			id = row.Text(p.idIdx)
		}
		for i, c := range p.Query.Columns {
			switch c.Source {
			case query.SourceStore:
				o[i] = row[p.srcIdx[i]]
			case query.SourceAnnotation:
				o[i] = valid(notes[id])
			case query.SourceEnrich:
				if vals, ok := enriched[id]; ok {
					o[i] = valid(vals[p.srcIdx[i]])
				} else {
					o[i] = valid("")
				}
			}
		}
		out[r] = o
	}
	return out, nil
}

// enrich looks up the enrich fields of ids on the other index. Every field
// becomes the sorted distinct non-empty values found for the server.
func (e *Engine) enrich(ctx context.Context, en *query.Enrich, ids []string) (map[string][]string, error) {
	rows, err := e.store.Lookup(ctx, en.Index, en.Fields, ids)
	if err != nil {
		return nil, err
	}
	sets := make(map[string][]map[string]bool)
	for _, row := range rows {
		id := row.Text(0)
		s, ok := sets[id]
		if !ok {
			s = make([]map[string]bool, len(en.Fields))
			for i := range s {
				s[i] = make(map[string]bool)
			}
			sets[id] = s
		}
		for i := range en.Fields {
			if v := row.Text(i + 1); v != "" {
				s[i][v] = true
			}
		}
	}
	out := make(map[string][]string, len(sets))
	for id, s := range sets {
		vals := make([]string, len(s))
		for i, set := range s {
			vals[i] = joinSet(set)
		}
		out[id] = vals
	}
	return out, nil
}

func distinctIDs(rows []model.Row, idx int) []string {
	seen := make(map[string]bool, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id := row.Text(idx)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func valid(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func joinSet(set map[string]bool) string {
	if len(set) == 0 {
		return ""
	}
	vals := make([]string, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return strings.Join(vals, valueSeparator)
}

type group struct {
	key  string
	rows []model.Row
}

// materialize scans and projects every row, then applies unify and
// groupedby. The result is held in memory and bounded by the result cap.
func (e *Engine) materialize(ctx context.Context, p *Prepared) error {
	if err := e.streams.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.streams.Release(1)

	rows := make([]model.Row, 0, p.Count)
	err := e.store.Scan(ctx, p.Plan, e.limits.ChunkSize, func(chunk []model.Row) error {
		out, err := e.project(ctx, p, chunk)
		if err != nil {
			return err
		}
		rows = append(rows, out...)
		return nil
	})
	if err != nil {
		return err
	}

	if len(p.Query.Unify) > 0 {
		rows = unify(rows, columnPositions(p.columns, p.Query.Unify))
	}
	p.rows = rows
	p.Count = int64(len(rows))

	if p.Query.GroupedBy != "" {
		p.groups = groupBy(rows, columnPositions(p.columns, []string{p.Query.GroupedBy})[0])
		p.rows = nil
	}
	return nil
}

func columnPositions(columns, names []string) []int {
	pos := make([]int, len(names))
	for i, n := range names {
		pos[i] = -1
		for j, c := range columns {
			if c == n {
				pos[i] = j
				break
			}
		}
	}
	return pos
}

// unify merges rows sharing the same values in the key columns. Groups
// keep the order in which they were first seen; every column of a merged
// row holds the sorted distinct non-empty values of the group.
func unify(rows []model.Row, key []int) []model.Row {
	if len(rows) == 0 {
		return rows
	}
	width := len(rows[0])
	index := make(map[string]int)
	var sets [][]map[string]bool
	for _, row := range rows {
		k := tupleKey(row, key)
		g, ok := index[k]
		if !ok {
			g = len(sets)
			index[k] = g
			s := make([]map[string]bool, width)
			for i := range s {
				s[i] = make(map[string]bool)
			}
			sets = append(sets, s)
		}
		for i := 0; i < width; i++ {
			if v := row.Text(i); v != "" {
				sets[g][i][v] = true
			}
		}
	}
	out := make([]model.Row, len(sets))
	for g, s := range sets {
		row := make(model.Row, width)
		for i, set := range s {
			row[i] = valid(joinSet(set))
		}
		out[g] = row
	}
	return out
}

func tupleKey(row model.Row, key []int) string {
	var b strings.Builder
	for _, k := range key {
		b.WriteString(row.Text(k))
		b.WriteByte(0)
	}
	return b.String()
}

// groupBy splits rows by the value of one column, in first-seen order.
func groupBy(rows []model.Row, col int) []group {
	index := make(map[string]int)
	var groups []group
	for _, row := range rows {
		k := row.Text(col)
		g, ok := index[k]
		if !ok {
			g = len(groups)
			index[k] = g
			groups = append(groups, group{key: k})
		}
		groups[g].rows = append(groups[g].rows, row)
	}
	return groups
}

func (e *Engine) writeGroups(p *Prepared, em emit.Emitter) error {
	g, ok := em.(emit.Grouper)
	if !ok {
		return errGroupsUnsupported
	}
	for _, grp := range p.groups {
		if err := g.Group(grp.key, p.columns, grp.rows); err != nil {
			return err
		}
	}
	return nil
}
