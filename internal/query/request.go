package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request is the body of a server property query.
type Request struct {
	Index         string              `json:"index" validate:"required,oneof=inventory businesscontinuity"`
	Filters       map[string][]string `json:"filters"`
	Fields        []string            `json:"fields,omitempty"`
	ExcludeFields []string            `json:"excludefields,omitempty"`
	Format        string              `json:"format,omitempty" validate:"omitempty,oneof=json csv"`
	Unify         []string            `json:"unify,omitempty"`
	GroupedBy     string              `json:"groupedby,omitempty"`
	Enrich        *EnrichRequest      `json:"enrich,omitempty"`
}

// EnrichRequest asks for values from the other index to be attached to
// every result row, keyed by SERVER_ID.
type EnrichRequest struct {
	Index  string   `json:"index" validate:"required,oneof=inventory businesscontinuity"`
	Fields []string `json:"fields" validate:"required,min=1,dive,required"`
}

// DecodeRequest reads a JSON request body. Unknown keys are rejected.
func DecodeRequest(r io.Reader) (*Request, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var req Request
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidf("Request body is empty")
		}
		return nil, invalidf("Invalid JSON body: %v", err)
	}
	if dec.More() {
		return nil, invalidf("Invalid JSON body: unexpected data after the request object")
	}
	return &req, nil
}

// newStructValidator returns a validator that reports fields by their JSON
// names.
func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// structError turns validator field errors into a single client message.
func structError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating request: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := fe.Namespace()
		if _, rest, ok := strings.Cut(name, "."); ok {
			name = rest
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("The field '%s' is required", name))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("Invalid value for '%s': %v (expected one of: %s)",
				name, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "min":
			msgs = append(msgs, fmt.Sprintf("The field '%s' needs at least %s value(s)", name, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("The field '%s' is invalid (%s)", name, fe.Tag()))
		}
	}
	return &ValidationError{Message: strings.Join(msgs, "; ")}
}
