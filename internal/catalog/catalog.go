// Package catalog loads the declarative field catalogs that describe every
// queryable server field, and keeps them fresh when their files change.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/model"
)

// Error is returned when a catalog file is missing, unreadable or malformed.
type Error struct {
	Index model.Index
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("catalog %s: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("catalog %s (%s): %v", e.Index, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Field describes one queryable attribute of an index.
type Field struct {
	Canonical   string
	InputName   string
	DisplayName string
	Listbox     bool
	// SideTable marks a businesscontinuity attribute stored on the
	// server-unique side table rather than the server row.
	SideTable bool
	Position  int
}

// Index is an immutable snapshot of one catalog document.
type Index struct {
	Name        model.Index
	fields      []Field
	byCanonical map[string]int
	byInput     map[string]int
	allowed     []string
}

type document struct {
	Fields  json.RawMessage `json:"fields"`
	Allowed []string        `json:"api_ModelFieldsContentView_allowed"`
}

type fieldSpec struct {
	InputName   string          `json:"inputname"`
	DisplayName string          `json:"displayname"`
	Listbox     json.RawMessage `json:"listbox"`
	ModelExtra  json.RawMessage `json:"model_extra"`
}

// Parse decodes a catalog document. Field order in the "fields" object is
// preserved and becomes the catalog order.
func Parse(index model.Index, data []byte) (*Index, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if len(doc.Fields) == 0 {
		return nil, errors.New(`catalog has no "fields" section`)
	}

	ix := &Index{
		Name:        index,
		byCanonical: make(map[string]int),
		byInput:     make(map[string]int),
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Fields))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading fields: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New(`"fields" must be an object`)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading field name: %w", err)
		}
		name, _ := keyTok.(string)
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("empty field name")
		}
		var spec fieldSpec
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if _, dup := ix.byCanonical[name]; dup {
			return nil, fmt.Errorf("field %s: duplicate definition", name)
		}

		f := Field{
			Canonical:   name,
			InputName:   spec.InputName,
			DisplayName: spec.DisplayName,
			Listbox:     truthy(spec.Listbox),
			SideTable:   index == model.IndexBusinessContinuity && len(spec.ModelExtra) > 0 && string(spec.ModelExtra) != "null",
			Position:    len(ix.fields),
		}
		if f.InputName == "" {
			f.InputName = name
		}
		if f.DisplayName == "" {
			f.DisplayName = name
		}
		if prev, dup := ix.byInput[f.InputName]; dup && ix.fields[prev].Canonical != name {
			return nil, fmt.Errorf("field %s: inputname %q already used by %s", name, f.InputName, ix.fields[prev].Canonical)
		}
		ix.fields = append(ix.fields, f)
		ix.byCanonical[name] = f.Position
		ix.byInput[f.InputName] = f.Position
	}

	if _, ok := ix.byCanonical[model.FieldServerID]; !ok {
		return nil, fmt.Errorf("catalog must define %s", model.FieldServerID)
	}

	if doc.Allowed != nil {
		for _, name := range doc.Allowed {
			f, ok := ix.Resolve(name)
			if !ok {
				return nil, fmt.Errorf("allow-list references unknown field %s", name)
			}
			ix.allowed = append(ix.allowed, f.Canonical)
		}
	} else {
		for _, f := range ix.fields {
			if f.Listbox {
				ix.allowed = append(ix.allowed, f.Canonical)
			}
		}
	}
	return ix, nil
}

// truthy interprets the loosely typed flags found in catalog documents
// ("listbox": true, "listbox": "yes", "listbox": 1).
func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

// Resolve maps an inputname or canonical name to its field.
func (ix *Index) Resolve(name string) (Field, bool) {
	if i, ok := ix.byInput[name]; ok {
		return ix.fields[i], true
	}
	if i, ok := ix.byCanonical[name]; ok {
		return ix.fields[i], true
	}
	return Field{}, false
}

// IsSideTable reports whether the named field lives on the side table.
func (ix *Index) IsSideTable(name string) bool {
	f, ok := ix.Resolve(name)
	return ok && f.SideTable
}

// Fields returns every field in catalog order.
func (ix *Index) Fields() []Field {
	out := make([]Field, len(ix.fields))
	copy(out, ix.fields)
	return out
}

// DefaultProjection is the projection used when a request names no fields.
func (ix *Index) DefaultProjection() []Field {
	return ix.Fields()
}

// AllowedForAPI returns the fields whose distinct values may be listed.
func (ix *Index) AllowedForAPI() []Field {
	out := make([]Field, 0, len(ix.allowed))
	for _, name := range ix.allowed {
		out = append(out, ix.fields[ix.byCanonical[name]])
	}
	return out
}

// IsAllowedForAPI reports whether the canonical field is on the allow-list.
func (ix *Index) IsAllowedForAPI(canonical string) bool {
	for _, name := range ix.allowed {
		if name == canonical {
			return true
		}
	}
	return false
}

// Mapping returns the reverse alias map, canonical name -> inputname.
func (ix *Index) Mapping() map[string]string {
	m := make(map[string]string, len(ix.fields))
	for _, f := range ix.fields {
		m[f.Canonical] = f.InputName
	}
	return m
}

// Verify checks every field against the columns that really exist in the
// store. main holds the server table columns, side the side-table columns.
func (ix *Index) Verify(main, side map[string]bool) error {
	var missing []string
	for _, f := range ix.fields {
		cols := main
		if f.SideTable {
			cols = side
		}
		if !cols[f.Canonical] {
			missing = append(missing, f.Canonical)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("fields without a store column: %s", strings.Join(missing, ", "))
	}
	return nil
}
