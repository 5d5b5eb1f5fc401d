package query

import "fmt"

// ValidationError reports a request that cannot be planned: bad schema,
// unknown field, or a forbidden index/field combination. Message is safe to
// show to clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// QuotaScope says which cap a QuotaError breached.
type QuotaScope string

const (
	QuotaFilterFields QuotaScope = "filter_fields"
	QuotaFilterValues QuotaScope = "filter_values"
	QuotaResults      QuotaScope = "results"
)

// QuotaError reports a request that exceeds a configured cap.
type QuotaError struct {
	Scope   QuotaScope
	Message string
	Count   int64
	Limit   int64
	Hint    string
}

func (e *QuotaError) Error() string { return e.Message }

// ResultQuotaError is returned when the predicted row count exceeds the
// result cap.
func ResultQuotaError(count, limit int64) *QuotaError {
	return &QuotaError{
		Scope:   QuotaResults,
		Message: fmt.Sprintf("Too many results: %d (maximum: %d)", count, limit),
		Count:   count,
		Limit:   limit,
		Hint:    "Please refine your filters to reduce the number of results",
	}
}
