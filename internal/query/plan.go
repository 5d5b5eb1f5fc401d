package query

import (
	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
)

// Plan is what the store executes: which columns to read, which rows to
// keep and how to order them.
type Plan struct {
	Index model.Index
	// Fields are the columns to read, in the order rows are returned.
	Fields []catalog.Field
	Where  Predicate
	// OrderBy lists the sort keys. The store adds its row id as a final
	// tie-break so offsets are stable.
	OrderBy []catalog.Field
}

// NewPlan builds the plan for q with the given compiled predicate.
// Results are ordered by the projected fields, then SERVER_ID.
func NewPlan(q *Query, where Predicate) *Plan {
	fields := q.StoreFields()
	p := &Plan{
		Index:   q.Index,
		Fields:  fields,
		Where:   where,
		OrderBy: append([]catalog.Field{}, fields...),
	}
	hasID := false
	for _, f := range fields {
		if f.Canonical == model.FieldServerID {
			hasID = true
			break
		}
	}
	if !hasID {
		p.OrderBy = append(p.OrderBy, ServerIDField)
	}
	return p
}

// FieldIndex returns the position of canonical in the plan's row layout,
// or -1.
func (p *Plan) FieldIndex(canonical string) int {
	for i, f := range p.Fields {
		if f.Canonical == canonical {
			return i
		}
	}
	return -1
}
