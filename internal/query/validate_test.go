package query

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
)

// staticCatalogs serves the sample catalogs shipped with the repository.
type staticCatalogs map[model.Index]*catalog.Index

func (c staticCatalogs) Current(index model.Index) (*catalog.Index, error) {
	ix, ok := c[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownIndex, index)
	}
	return ix, nil
}

func sampleCatalogs(t testing.TB) staticCatalogs {
	t.Helper()
	out := staticCatalogs{}
	for _, index := range model.Indexes() {
		data, err := os.ReadFile(filepath.Join("..", "..", "catalog", string(index)+".json"))
		require.NoError(t, err)
		ix, err := catalog.Parse(index, data)
		require.NoError(t, err)
		out[index] = ix
	}
	return out
}

func newTestValidator(t testing.TB) *Validator {
	t.Helper()
	return NewValidator(sampleCatalogs(t), Limits{MaxFilterFields: 15, MaxFilterValuesPerField: 15000})
}

func decode(t testing.TB, body string) *Request {
	t.Helper()
	req, err := DecodeRequest(strings.NewReader(body))
	require.NoError(t, err)
	return req
}

func validationMessage(t testing.TB, err error) string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Message
}

func TestDecodeRequest(t *testing.T) {
	req := decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID"],"format":"csv"}`)
	assert.Equal(t, "inventory", req.Index)
	assert.Equal(t, []string{"PROD"}, req.Filters["ENVIRONMENT"])
	assert.Equal(t, "csv", req.Format)
}

func TestDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", ``, "Request body is empty"},
		{"malformed", `{"index":`, "Invalid JSON body"},
		{"unknown key", `{"index":"inventory","filter":{}}`, "Invalid JSON body"},
		{"wrong type", `{"index":"inventory","filters":{"A":"x"}}`, "Invalid JSON body"},
		{"trailing data", `{"index":"inventory"} {}`, "unexpected data after the request object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, validationMessage(t, err), tt.want)
		})
	}
}

func TestValidate_Basic(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID","OSSHORTNAME"]}`))
	require.NoError(t, err)

	assert.Equal(t, model.IndexInventory, q.Index)
	assert.Equal(t, FormatJSON, q.Format)
	assert.Equal(t, []string{"SERVER_ID", "OSSHORTNAME"}, q.ColumnNames())
	require.Len(t, q.Filters, 1)
	assert.Equal(t, "ENVIRONMENT", q.Filters[0].Field.Canonical)
	assert.Nil(t, q.Annotation)
	assert.False(t, q.WantsAnnotation())
	assert.False(t, q.Materialized())
}

func TestValidate_DefaultProjection(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"excludefields":["app_name","LAST_SEEN"]}`))
	require.NoError(t, err)

	names := q.ColumnNames()
	assert.Equal(t, "SERVER_ID", names[0])
	assert.NotContains(t, names, "APP_NAME_VALUE")
	assert.NotContains(t, names, "LAST_SEEN")
	assert.Len(t, names, 32)
}

func TestValidate_AliasesResolveToCanonical(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"app_name":["pay"],"APP_NAME_VALUE":["@ledger"]},"fields":["SERVER_ID","app_name","APP_NAME_VALUE"]}`))
	require.NoError(t, err)

	require.Len(t, q.Filters, 1, "alias and canonical keys merge")
	assert.ElementsMatch(t, []string{"pay", "@ledger"}, q.Filters[0].Terms)
	assert.Equal(t, []string{"SERVER_ID", "APP_NAME_VALUE"}, q.ColumnNames())
}

func TestValidate_FiltersInCatalogOrder(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"LAST_SEEN":["2026"],"DATACENTER":["PAR"],"ENVIRONMENT":["PROD"]}}`))
	require.NoError(t, err)

	var got []string
	for _, f := range q.Filters {
		got = append(got, f.Field.Canonical)
	}
	assert.Equal(t, []string{"ENVIRONMENT", "DATACENTER", "LAST_SEEN"}, got)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing index",
			body: `{"filters":{"ENVIRONMENT":["PROD"]}}`,
			want: "The field 'index' is required",
		},
		{
			name: "unknown index",
			body: `{"index":"storage","filters":{"ENVIRONMENT":["PROD"]}}`,
			want: "Invalid value for 'index': storage (expected one of: inventory, businesscontinuity)",
		},
		{
			name: "bad format",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"format":"xml"}`,
			want: "Invalid value for 'format'",
		},
		{
			name: "empty filters",
			body: `{"index":"inventory","filters":{}}`,
			want: "The field 'filters' can't be empty",
		},
		{
			name: "missing filters",
			body: `{"index":"inventory"}`,
			want: "The field 'filters' can't be empty",
		},
		{
			name: "unknown filter keys sorted",
			body: `{"index":"inventory","filters":{"ZZZ":["a"],"AAA":["b"],"ENVIRONMENT":["PROD"]}}`,
			want: "Invalid fields for inventory index: AAA, ZZZ",
		},
		{
			name: "unknown projected field",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID","NOPE"]}`,
			want: "Invalid fields for inventory index: NOPE",
		},
		{
			name: "unknown excluded field",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"excludefields":["NOPE"]}`,
			want: "Invalid fields for inventory index: NOPE",
		},
		{
			name: "side field on inventory",
			body: `{"index":"inventory","filters":{"priority_asset":["yes"]}}`,
			want: "Invalid fields for inventory index: priority_asset",
		},
		{
			name: "everything excluded",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID"],"excludefields":["SERVER_ID"]}`,
			want: "No fields left to return after exclusions",
		},
		{
			name: "annotation projection needs server id",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["OSSHORTNAME","ANNOTATION"]}`,
			want: "ANNOTATION requires SERVER_ID in fields.",
		},
		{
			name: "annotation filter on businesscontinuity",
			body: `{"index":"businesscontinuity","filters":{"ANNOTATION":["x"]}}`,
			want: "ANNOTATION only available for index 'inventory'",
		},
		{
			name: "annotation projection on businesscontinuity",
			body: `{"index":"businesscontinuity","filters":{"DATACENTER":["x"]},"fields":["SERVER_ID","ANNOTATION"]}`,
			want: "ANNOTATION only available for index 'inventory'",
		},
		{
			name: "enrich on same index",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"enrich":{"index":"inventory","fields":["OSSHORTNAME"]}}`,
			want: "enrich.index must be different from the main index",
		},
		{
			name: "enrich without fields",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"enrich":{"index":"businesscontinuity","fields":[]}}`,
			want: "The field 'enrich.fields' needs at least 1 value(s)",
		},
		{
			name: "enrich without server id",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["OSSHORTNAME"],"enrich":{"index":"businesscontinuity","fields":["VITAL_LEVEL"]}}`,
			want: "enrich requires SERVER_ID in fields",
		},
		{
			name: "enrich unknown field",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID"],"enrich":{"index":"businesscontinuity","fields":["NOPE"]}}`,
			want: "Invalid fields for businesscontinuity index: NOPE",
		},
		{
			name: "unify on hidden field",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID"],"unify":["OSSHORTNAME"]}`,
			want: "Invalid unify field: OSSHORTNAME (it must be one of the returned fields)",
		},
		{
			name: "groupedby on hidden field",
			body: `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID"],"groupedby":"DATACENTER"}`,
			want: "Invalid groupedby field: DATACENTER (it must be one of the returned fields)",
		},
	}
	v := newTestValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(decode(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, validationMessage(t, err), tt.want)
		})
	}
}

func TestValidate_Quotas(t *testing.T) {
	v := NewValidator(sampleCatalogs(t), Limits{MaxFilterFields: 2, MaxFilterValuesPerField: 3})

	_, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["a"],"DATACENTER":["b"],"REGION":["c"]}}`))
	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, QuotaFilterFields, qe.Scope)
	assert.Equal(t, "Too many fields filters: 3 (max: 2)", qe.Message)
	assert.Equal(t, int64(3), qe.Count)

	_, err = v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["a","b","c","d"]}}`))
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, QuotaFilterValues, qe.Scope)
	assert.Equal(t, "Too many values for 'ENVIRONMENT': 4 (max: 3)", qe.Message)
	assert.Empty(t, qe.Hint)
}

func TestValidate_Annotation(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ANNOTATION":["decommission*"],"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID","ANNOTATION","OSSHORTNAME"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"decommission*"}, q.Annotation)
	require.Len(t, q.Filters, 1, "ANNOTATION is not a store filter")
	assert.True(t, q.WantsAnnotation())
	assert.Equal(t, []string{"SERVER_ID", "ANNOTATION", "OSSHORTNAME"}, q.ColumnNames())
	assert.Equal(t, SourceAnnotation, q.Columns[1].Source)

	var stored []string
	for _, f := range q.StoreFields() {
		stored = append(stored, f.Canonical)
	}
	assert.Equal(t, []string{"SERVER_ID", "OSSHORTNAME"}, stored)
}

func TestValidate_AnnotationOnlyFilter(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ANNOTATION":["x"]},"fields":["SERVER_ID"]}`))
	require.NoError(t, err)
	assert.Empty(t, q.Filters)
	assert.Equal(t, []string{"x"}, q.Annotation)
}

func TestValidate_AnnotationExcluded(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID","ANNOTATION"],"excludefields":["ANNOTATION"]}`))
	require.NoError(t, err)
	assert.False(t, q.WantsAnnotation())
}

func TestValidate_SideTableProjection(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"businesscontinuity","filters":{"priority_asset":["yes"]},"fields":["SERVER_ID","priority_asset"]}`))
	require.NoError(t, err)

	require.Len(t, q.Columns, 2)
	assert.True(t, q.Columns[1].Field.SideTable)
	assert.True(t, q.Filters[0].Field.SideTable)
}

func TestValidate_Enrich(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{
		"index":"inventory",
		"filters":{"ENVIRONMENT":["PROD"]},
		"fields":["SERVER_ID","DATACENTER"],
		"enrich":{"index":"businesscontinuity","fields":["SERVER_ID","DATACENTER","priority_asset"]}
	}`))
	require.NoError(t, err)

	require.NotNil(t, q.Enrich)
	assert.Equal(t, model.IndexBusinessContinuity, q.Enrich.Index)
	require.Len(t, q.Enrich.Fields, 2, "SERVER_ID is the join key, not an enrich field")
	assert.Equal(t, []string{"SERVER_ID", "DATACENTER", "priority_asset"}, q.ColumnNames())
	assert.Equal(t, SourceEnrich, q.Columns[1].Source, "enrich replaces a main column of the same name")
	assert.Equal(t, SourceEnrich, q.Columns[2].Source)

	var stored []string
	for _, f := range q.StoreFields() {
		stored = append(stored, f.Canonical)
	}
	assert.Equal(t, []string{"SERVER_ID"}, stored)
}

func TestValidate_UnifyAndGroupedBy(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{
		"index":"inventory",
		"filters":{"ENVIRONMENT":["PROD"]},
		"fields":["SERVER_ID","app_name","DATACENTER"],
		"unify":["SERVER_ID"],
		"groupedby":"DATACENTER",
		"format":"csv"
	}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"SERVER_ID"}, q.Unify)
	assert.Equal(t, "DATACENTER", q.GroupedBy)
	assert.Equal(t, FormatJSON, q.Format, "grouped output is always JSON")
	assert.True(t, q.Materialized())

	q, err = v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["SERVER_ID","app_name"],"unify":["app_name"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"APP_NAME_VALUE"}, q.Unify, "unify accepts aliases")
}

func TestValidate_UnknownCatalog(t *testing.T) {
	v := NewValidator(staticCatalogs{}, Limits{MaxFilterFields: 15, MaxFilterValuesPerField: 15000})
	_, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]}}`))
	assert.ErrorIs(t, err, catalog.ErrUnknownIndex)
}

func TestNewPlan(t *testing.T) {
	v := newTestValidator(t)
	q, err := v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["OSSHORTNAME","ANNOTATION","SERVER_ID"]}`))
	require.NoError(t, err)

	p := NewPlan(q, nil)
	assert.Equal(t, model.IndexInventory, p.Index)
	require.Len(t, p.Fields, 2)
	assert.Equal(t, 1, p.FieldIndex("SERVER_ID"))
	assert.Equal(t, -1, p.FieldIndex("ANNOTATION"))
	require.Len(t, p.OrderBy, 2, "SERVER_ID already projected")

	q, err = v.Validate(decode(t, `{"index":"inventory","filters":{"ENVIRONMENT":["PROD"]},"fields":["OSSHORTNAME"]}`))
	require.NoError(t, err)
	p = NewPlan(q, nil)
	require.Len(t, p.OrderBy, 2)
	assert.Equal(t, "SERVER_ID", p.OrderBy[1].Canonical, "hidden SERVER_ID tie-break")
	assert.Len(t, p.Fields, 1)
}
