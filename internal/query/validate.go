package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
)

// Format is the response encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Source says where the value of an output column comes from.
type Source int

const (
	SourceStore      Source = iota // a column of the scanned row
	SourceAnnotation               // the annotation notes joined by SERVER_ID
	SourceEnrich                   // values looked up on the enrich index
)

// Column is one key of an output row.
type Column struct {
	Name   string
	Field  catalog.Field // zero for the virtual ANNOTATION column
	Source Source
}

// Filter is a resolved filter key with its raw terms.
type Filter struct {
	Field catalog.Field
	Terms []string
}

// Enrich describes the lookup on the second index.
type Enrich struct {
	Index   model.Index
	Catalog *catalog.Index
	Fields  []catalog.Field
}

// Query is a request that passed validation, with every name resolved
// against the catalog.
type Query struct {
	Index   model.Index
	Catalog *catalog.Index
	// Filters are ordered by catalog position. ANNOTATION is not among them.
	Filters []Filter
	// Annotation holds the ANNOTATION filter terms; nil when the request
	// does not filter on annotations.
	Annotation []string
	Columns    []Column
	Format     Format
	Unify      []string
	GroupedBy  string
	Enrich     *Enrich
}

// WantsAnnotation reports whether the ANNOTATION column is projected.
func (q *Query) WantsAnnotation() bool {
	for _, c := range q.Columns {
		if c.Source == SourceAnnotation {
			return true
		}
	}
	return false
}

// StoreFields returns the projected fields read from the scanned rows, in
// output order.
func (q *Query) StoreFields() []catalog.Field {
	var out []catalog.Field
	for _, c := range q.Columns {
		if c.Source == SourceStore {
			out = append(out, c.Field)
		}
	}
	return out
}

// ColumnNames returns the output keys in order.
func (q *Query) ColumnNames() []string {
	out := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		out[i] = c.Name
	}
	return out
}

// Materialized reports whether results must be grouped in memory before
// they can be written (unify and groupedby).
func (q *Query) Materialized() bool {
	return len(q.Unify) > 0 || q.GroupedBy != ""
}

// Limits are the request caps enforced during validation.
type Limits struct {
	MaxFilterFields         int
	MaxFilterValuesPerField int
}

// Catalogs hands out the current catalog snapshot of an index.
type Catalogs interface {
	Current(model.Index) (*catalog.Index, error)
}

// Validator checks requests against the field catalog.
type Validator struct {
	limits   Limits
	catalogs Catalogs
	structs  *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator(catalogs Catalogs, limits Limits) *Validator {
	return &Validator{
		limits:   limits,
		catalogs: catalogs,
		structs:  newStructValidator(),
	}
}

// Validate resolves req into a Query. It never touches the store.
func (v *Validator) Validate(req *Request) (*Query, error) {
	if err := v.structs.Struct(req); err != nil {
		return nil, structError(err)
	}
	index := model.Index(req.Index)
	if req.Enrich != nil && req.Enrich.Index == req.Index {
		return nil, invalidf("enrich.index must be different from the main index")
	}

	if len(req.Filters) == 0 {
		return nil, invalidf("The field 'filters' can't be empty")
	}
	if len(req.Filters) > v.limits.MaxFilterFields {
		return nil, &QuotaError{
			Scope:   QuotaFilterFields,
			Message: fmt.Sprintf("Too many fields filters: %d (max: %d)", len(req.Filters), v.limits.MaxFilterFields),
			Count:   int64(len(req.Filters)),
			Limit:   int64(v.limits.MaxFilterFields),
		}
	}
	for _, key := range sortedKeys(req.Filters) {
		if n := len(req.Filters[key]); n > v.limits.MaxFilterValuesPerField {
			return nil, &QuotaError{
				Scope:   QuotaFilterValues,
				Message: fmt.Sprintf("Too many values for '%s': %d (max: %d)", key, n, v.limits.MaxFilterValuesPerField),
				Count:   int64(n),
				Limit:   int64(v.limits.MaxFilterValuesPerField),
			}
		}
	}

	_, annotationFiltered := req.Filters[model.FieldAnnotation]
	annotationProjected := contains(req.Fields, model.FieldAnnotation)
	if (annotationFiltered || annotationProjected) && index != model.IndexInventory {
		return nil, invalidf("ANNOTATION only available for index 'inventory'")
	}

	ix, err := v.catalogs.Current(index)
	if err != nil {
		return nil, err
	}

	q := &Query{
		Index:   index,
		Catalog: ix,
		Format:  FormatJSON,
	}
	if req.Format != "" {
		q.Format = Format(req.Format)
	}

	if err := q.resolveFilters(req.Filters); err != nil {
		return nil, err
	}
	if err := q.resolveProjection(req.Fields, req.ExcludeFields); err != nil {
		return nil, err
	}
	if req.Enrich != nil {
		if err := v.resolveEnrich(q, req.Enrich); err != nil {
			return nil, err
		}
	}
	if err := q.resolveGrouping(req.Unify, req.GroupedBy); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Query) resolveFilters(filters map[string][]string) error {
	byField := make(map[string]*Filter)
	var invalid []string
	for _, key := range sortedKeys(filters) {
		if key == model.FieldAnnotation {
			q.Annotation = append([]string{}, filters[key]...)
			continue
		}
		f, ok := q.Catalog.Resolve(key)
		if !ok {
			invalid = append(invalid, key)
			continue
		}
		if existing, ok := byField[f.Canonical]; ok {
			existing.Terms = append(existing.Terms, filters[key]...)
			continue
		}
		byField[f.Canonical] = &Filter{Field: f, Terms: append([]string{}, filters[key]...)}
	}
	if len(invalid) > 0 {
		return invalidf("Invalid fields for %s index: %s", q.Index, strings.Join(invalid, ", "))
	}
	for _, f := range byField {
		q.Filters = append(q.Filters, *f)
	}
	sort.Slice(q.Filters, func(i, j int) bool {
		return q.Filters[i].Field.Position < q.Filters[j].Field.Position
	})
	return nil
}

func (q *Query) resolveProjection(fields, exclude []string) error {
	var invalid []string
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		if name == model.FieldAnnotation {
			excluded[name] = true
			continue
		}
		f, ok := q.Catalog.Resolve(name)
		if !ok {
			invalid = append(invalid, name)
			continue
		}
		excluded[f.Canonical] = true
	}

	seen := make(map[string]bool)
	add := func(c Column) {
		if seen[c.Name] || excluded[c.Name] {
			return
		}
		seen[c.Name] = true
		q.Columns = append(q.Columns, c)
	}

	if fields == nil {
		for _, f := range q.Catalog.DefaultProjection() {
			add(Column{Name: f.Canonical, Field: f})
		}
	} else {
		for _, name := range fields {
			if name == model.FieldAnnotation {
				add(Column{Name: model.FieldAnnotation, Source: SourceAnnotation})
				continue
			}
			f, ok := q.Catalog.Resolve(name)
			if !ok {
				invalid = append(invalid, name)
				continue
			}
			add(Column{Name: f.Canonical, Field: f})
		}
	}
	if len(invalid) > 0 {
		return invalidf("Invalid fields for %s index: %s", q.Index, strings.Join(invalid, ", "))
	}
	if len(q.Columns) == 0 {
		return invalidf("No fields left to return after exclusions")
	}
	if q.WantsAnnotation() && !seen[model.FieldServerID] {
		return invalidf("ANNOTATION requires SERVER_ID in fields.")
	}
	return nil
}

func (v *Validator) resolveEnrich(q *Query, req *EnrichRequest) error {
	if !q.hasColumn(model.FieldServerID) {
		return invalidf("enrich requires SERVER_ID in fields")
	}
	other := model.Index(req.Index)
	ix, err := v.catalogs.Current(other)
	if err != nil {
		return err
	}
	e := &Enrich{Index: other, Catalog: ix}
	var invalid []string
	for _, name := range req.Fields {
		f, ok := ix.Resolve(name)
		if !ok {
			invalid = append(invalid, name)
			continue
		}
		if f.Canonical == model.FieldServerID {
			continue
		}
		e.Fields = append(e.Fields, f)
		if i := q.columnIndex(f.Canonical); i >= 0 {
			// Enriched values replace a main column of the same name.
			q.Columns[i] = Column{Name: f.Canonical, Field: f, Source: SourceEnrich}
			continue
		}
		q.Columns = append(q.Columns, Column{Name: f.Canonical, Field: f, Source: SourceEnrich})
	}
	if len(invalid) > 0 {
		return invalidf("Invalid fields for %s index: %s", other, strings.Join(invalid, ", "))
	}
	if len(e.Fields) > 0 {
		q.Enrich = e
	}
	return nil
}

func (q *Query) resolveGrouping(unify []string, groupedBy string) error {
	for _, name := range unify {
		col, ok := q.outputName(name)
		if !ok {
			return invalidf("Invalid unify field: %s (it must be one of the returned fields)", name)
		}
		q.Unify = append(q.Unify, col)
	}
	if groupedBy != "" {
		col, ok := q.outputName(groupedBy)
		if !ok {
			return invalidf("Invalid groupedby field: %s (it must be one of the returned fields)", groupedBy)
		}
		q.GroupedBy = col
		// Grouped results have no tabular shape.
		q.Format = FormatJSON
	}
	return nil
}

// outputName maps a request name to the output column it designates.
func (q *Query) outputName(name string) (string, bool) {
	if q.hasColumn(name) {
		return name, true
	}
	if f, ok := q.Catalog.Resolve(name); ok && q.hasColumn(f.Canonical) {
		return f.Canonical, true
	}
	if q.Enrich != nil {
		if f, ok := q.Enrich.Catalog.Resolve(name); ok && q.hasColumn(f.Canonical) {
			return f.Canonical, true
		}
	}
	return "", false
}

func (q *Query) columnIndex(name string) int {
	for i, c := range q.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (q *Query) hasColumn(name string) bool { return q.columnIndex(name) >= 0 }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
