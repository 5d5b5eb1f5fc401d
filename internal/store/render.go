package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
)

// Table aliases used in scans. Side-table fields of businesscontinuity are
// read through the left join on u.
const (
	aliasMain = "s"
	aliasSide = "u"
)

// builder accumulates SQL text and its bound arguments.
type builder struct {
	d    *dialect
	sql  strings.Builder
	args []any
	col  func(catalog.Field) string
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sql.WriteString(p)
	}
}

func (b *builder) bind(v any) {
	b.args = append(b.args, v)
}

func (b *builder) query() (string, []any) {
	return b.d.placeholders(b.sql.String()), b.args
}

// scanColumn resolves a catalog field to its aliased column in a scan.
func scanColumn(f catalog.Field) string {
	if f.SideTable {
		return aliasSide + "." + quoteIdent(f.Canonical)
	}
	return aliasMain + "." + quoteIdent(f.Canonical)
}

// plainColumn resolves a field to an unaliased column.
func plainColumn(f catalog.Field) string {
	return quoteIdent(f.Canonical)
}

// fromClause returns the FROM clause of an index scan.
func fromClause(index model.Index) (string, error) {
	table, err := mainTable(index)
	if err != nil {
		return "", err
	}
	from := table + " " + aliasMain
	if index == model.IndexBusinessContinuity {
		from += " LEFT JOIN " + tableServerUnique + " " + aliasSide +
			" ON " + aliasSide + `."SERVER_ID" = ` + aliasMain + `."SERVER_ID"`
	}
	return from, nil
}

// where renders p. A nil predicate renders nothing.
func (b *builder) where(p query.Predicate) error {
	if p == nil {
		return nil
	}
	b.write(" WHERE ")
	return b.pred(p)
}

func (b *builder) pred(p query.Predicate) error {
	switch p := p.(type) {
	case query.Contains:
		b.write(b.d.lower(b.col(p.Field)), ` LIKE ? ESCAPE '\'`)
		b.bind("%" + escapeLike(p.Term) + "%")
	case query.Exact:
		col := b.d.lower(b.col(p.Field))
		if len(p.Terms) == 1 {
			b.write(col, " = ?")
			b.bind(p.Terms[0])
			return nil
		}
		return b.set(col, p.Terms, false)
	case query.Regex:
		b.write(b.d.regex(b.col(p.Field)))
		b.bind(b.d.regexArg(p.Pattern))
	case query.InSet:
		return b.set(b.col(p.Field), p.Values, p.Negate)
	case query.Exclude:
		col := b.col(p.Field)
		b.write("(", col, " IS NULL OR NOT (")
		if err := b.pred(p.Pred); err != nil {
			return err
		}
		b.write("))")
	case query.Or:
		return b.join(" OR ", p)
	case query.And:
		return b.join(" AND ", p)
	default:
		return fmt.Errorf("unsupported predicate %T", p)
	}
	return nil
}

func (b *builder) join(sep string, preds []query.Predicate) error {
	b.write("(")
	for i, p := range preds {
		if i > 0 {
			b.write(sep)
		}
		if err := b.pred(p); err != nil {
			return err
		}
	}
	b.write(")")
	return nil
}

func (b *builder) set(col string, values []string, negate bool) error {
	arg, err := b.d.inSetArg(values)
	if err != nil {
		return err
	}
	if negate {
		b.write("NOT (", b.d.inSet(col), ")")
	} else {
		b.write(b.d.inSet(col))
	}
	b.bind(arg)
	return nil
}

func jsonArray(values []string) (any, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
