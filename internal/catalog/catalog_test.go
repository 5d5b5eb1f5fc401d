package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/chimera/internal/model"
)

const inventoryDoc = `{
  "fields": {
    "SERVER_ID":   {"inputname": "SERVER_ID", "displayname": "Server"},
    "ENVIRONMENT": {"inputname": "env", "displayname": "Environment", "listbox": true},
    "OSSHORTNAME": {"inputname": "OSSHORTNAME", "listbox": "yes"},
    "APP_NAME_VALUE": {"inputname": "app_name", "model_extra": true}
  },
  "categories": {"Identity": ["SERVER_ID"]},
  "permanentfilters": {}
}`

const bcDoc = `{
  "fields": {
    "SERVER_ID":      {"inputname": "SERVER_ID"},
    "DAP_NAME":       {"inputname": "DAP_NAME"},
    "priority_asset": {"inputname": "priority_asset", "model_extra": true, "listbox": true},
    "cluster":        {"inputname": "cluster", "model_extra": true}
  },
  "api_ModelFieldsContentView_allowed": ["DAP_NAME", "priority_asset"]
}`

func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestParse_PreservesDocumentOrder(t *testing.T) {
	ix, err := Parse(model.IndexInventory, []byte(inventoryDoc))
	require.NoError(t, err)

	var names []string
	for _, f := range ix.Fields() {
		names = append(names, f.Canonical)
	}
	assert.Equal(t, []string{"SERVER_ID", "ENVIRONMENT", "OSSHORTNAME", "APP_NAME_VALUE"}, names)

	for i, f := range ix.DefaultProjection() {
		assert.Equal(t, i, f.Position)
	}
}

func TestParse_Resolve(t *testing.T) {
	ix, err := Parse(model.IndexInventory, []byte(inventoryDoc))
	require.NoError(t, err)

	f, ok := ix.Resolve("env")
	require.True(t, ok)
	assert.Equal(t, "ENVIRONMENT", f.Canonical)

	f, ok = ix.Resolve("ENVIRONMENT")
	require.True(t, ok, "canonical names resolve too")
	assert.Equal(t, "env", f.InputName)

	_, ok = ix.Resolve("Env")
	assert.False(t, ok, "aliases are case-sensitive")

	f, _ = ix.Resolve("SERVER_ID")
	assert.Equal(t, "Server", f.DisplayName)
	f, _ = ix.Resolve("OSSHORTNAME")
	assert.Equal(t, "OSSHORTNAME", f.DisplayName, "display name defaults to the canonical name")
}

func TestParse_ModelExtraOnlyOnBusinessContinuity(t *testing.T) {
	inv, err := Parse(model.IndexInventory, []byte(inventoryDoc))
	require.NoError(t, err)
	assert.False(t, inv.IsSideTable("app_name"))

	bc, err := Parse(model.IndexBusinessContinuity, []byte(bcDoc))
	require.NoError(t, err)
	assert.True(t, bc.IsSideTable("priority_asset"))
	assert.True(t, bc.IsSideTable("cluster"))
	assert.False(t, bc.IsSideTable("DAP_NAME"))
	assert.False(t, bc.IsSideTable("nope"))
}

func TestParse_AllowedForAPI(t *testing.T) {
	t.Run("listbox fallback", func(t *testing.T) {
		ix, err := Parse(model.IndexInventory, []byte(inventoryDoc))
		require.NoError(t, err)
		var names []string
		for _, f := range ix.AllowedForAPI() {
			names = append(names, f.Canonical)
		}
		assert.Equal(t, []string{"ENVIRONMENT", "OSSHORTNAME"}, names)
		assert.True(t, ix.IsAllowedForAPI("ENVIRONMENT"))
		assert.False(t, ix.IsAllowedForAPI("SERVER_ID"))
	})

	t.Run("explicit allow-list", func(t *testing.T) {
		ix, err := Parse(model.IndexBusinessContinuity, []byte(bcDoc))
		require.NoError(t, err)
		var names []string
		for _, f := range ix.AllowedForAPI() {
			names = append(names, f.Canonical)
		}
		assert.Equal(t, []string{"DAP_NAME", "priority_asset"}, names)
	})
}

func TestParse_Mapping(t *testing.T) {
	ix, err := Parse(model.IndexInventory, []byte(inventoryDoc))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"SERVER_ID":      "SERVER_ID",
		"ENVIRONMENT":    "env",
		"OSSHORTNAME":    "OSSHORTNAME",
		"APP_NAME_VALUE": "app_name",
	}, ix.Mapping())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"not json", `{`, "decoding catalog"},
		{"no fields", `{"categories": {}}`, `no "fields" section`},
		{"fields not object", `{"fields": ["SERVER_ID"]}`, "must be an object"},
		{"missing server id", `{"fields": {"A": {}}}`, "must define SERVER_ID"},
		{"duplicate inputname", `{"fields": {"SERVER_ID": {}, "A": {"inputname": "x"}, "B": {"inputname": "x"}}}`, `inputname "x" already used by A`},
		{"unknown allowed", `{"fields": {"SERVER_ID": {}}, "api_ModelFieldsContentView_allowed": ["NOPE"]}`, "unknown field NOPE"},
		{"bad field spec", `{"fields": {"SERVER_ID": {"inputname": 3}}}`, "field SERVER_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(model.IndexInventory, []byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIndex_Verify(t *testing.T) {
	bc, err := Parse(model.IndexBusinessContinuity, []byte(bcDoc))
	require.NoError(t, err)

	main := map[string]bool{"SERVER_ID": true, "DAP_NAME": true}
	side := map[string]bool{"SERVER_ID": true, "priority_asset": true, "cluster": true}
	assert.NoError(t, bc.Verify(main, side))

	delete(side, "cluster")
	err = bc.Verify(main, side)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster")
}

func TestLoad_MissingFileIsCatalogError(t *testing.T) {
	_, err := Load(map[model.Index]string{
		model.IndexInventory: filepath.Join(t.TempDir(), "missing.json"),
	}, time.Second, nil)
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, model.IndexInventory, cerr.Index)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_VerifierRejects(t *testing.T) {
	dir := t.TempDir()
	p := writeDoc(t, dir, "inv.json", inventoryDoc)

	_, err := Load(map[model.Index]string{model.IndexInventory: p}, time.Second, func(*Index) error {
		return errors.New("column mismatch")
	})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, err.Error(), "column mismatch")
}

func TestCurrent_UnknownIndex(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(map[model.Index]string{model.IndexInventory: writeDoc(t, dir, "inv.json", inventoryDoc)}, time.Second, nil)
	require.NoError(t, err)

	_, err = c.Current(model.IndexBusinessContinuity)
	assert.ErrorIs(t, err, ErrUnknownIndex)
	assert.Equal(t, []model.Index{model.IndexInventory}, c.Indexes())
}

// fakeClock lets tests step past the check interval without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestCurrent_HotReload(t *testing.T) {
	dir := t.TempDir()
	p := writeDoc(t, dir, "inv.json", inventoryDoc)

	c, err := Load(map[model.Index]string{model.IndexInventory: p}, time.Minute, nil)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Now()}
	c.now = clock.now

	before, err := c.Current(model.IndexInventory)
	require.NoError(t, err)
	_, ok := before.Resolve("env")
	require.True(t, ok)

	updated := `{"fields": {"SERVER_ID": {}, "ENVIRONMENT": {"inputname": "environment"}}}`
	require.NoError(t, os.WriteFile(p, []byte(updated), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, future, future))

	// Within the interval the cached snapshot is served.
	same, err := c.Current(model.IndexInventory)
	require.NoError(t, err)
	assert.Same(t, before, same)

	clock.t = clock.t.Add(2 * time.Minute)
	after, err := c.Current(model.IndexInventory)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	_, ok = after.Resolve("environment")
	assert.True(t, ok)
	_, ok = after.Resolve("env")
	assert.False(t, ok)
}

func TestCurrent_ReloadFailureKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	p := writeDoc(t, dir, "inv.json", inventoryDoc)

	c, err := Load(map[model.Index]string{model.IndexInventory: p}, time.Minute, nil)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Now()}
	c.now = clock.now

	before, err := c.Current(model.IndexInventory)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte(`{"fields": `), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, future, future))
	clock.t = clock.t.Add(2 * time.Minute)

	after, err := c.Current(model.IndexInventory)
	require.NoError(t, err)
	assert.Same(t, before, after)

	require.NoError(t, os.Remove(p))
	clock.t = clock.t.Add(2 * time.Minute)
	after, err = c.Current(model.IndexInventory)
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestCurrent_UnchangedFileIsNotReparsed(t *testing.T) {
	dir := t.TempDir()
	p := writeDoc(t, dir, "inv.json", inventoryDoc)

	calls := 0
	c, err := Load(map[model.Index]string{model.IndexInventory: p}, time.Minute, func(*Index) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	clock := &fakeClock{t: time.Now()}
	c.now = clock.now
	for i := 0; i < 3; i++ {
		clock.t = clock.t.Add(2 * time.Minute)
		_, err := c.Current(model.IndexInventory)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(map[model.Index]string{model.IndexInventory: writeDoc(t, dir, "inv.json", inventoryDoc)}, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSampleCatalogs(t *testing.T) {
	for index, name := range map[model.Index]string{
		model.IndexInventory:          "inventory.json",
		model.IndexBusinessContinuity: "businesscontinuity.json",
	} {
		data, err := os.ReadFile(filepath.Join("..", "..", "catalog", name))
		require.NoError(t, err)
		ix, err := Parse(index, data)
		require.NoError(t, err, name)
		assert.NotEmpty(t, ix.AllowedForAPI(), name)
	}
}

func FuzzParse(f *testing.F) {
	f.Add([]byte(inventoryDoc))
	f.Add([]byte(bcDoc))
	f.Add([]byte(`{"fields": {}}`))
	f.Add([]byte(`{"fields": {"SERVER_ID": {"listbox": [1]}}}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		ix, err := Parse(model.IndexBusinessContinuity, data)
		if err != nil {
			return
		}
		// Inputnames are unique, so each one resolves back to its field.
		for _, fld := range ix.Fields() {
			got, ok := ix.Resolve(fld.InputName)
			if !ok || got.Canonical != fld.Canonical {
				t.Fatalf("inputname %q resolves to %q", fld.InputName, got.Canonical)
			}
		}
	})
}
