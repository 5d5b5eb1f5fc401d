package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/engine"
	"github.com/darshan-rambhia/chimera/internal/query"
	"github.com/darshan-rambhia/chimera/internal/store"
)

// statusClientClosedRequest is logged when the client went away before
// the response was written.
const statusClientClosedRequest = 499

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
	Count *int64 `json:"count,omitempty"`
}

// writeJSON marshals v to JSON into a buffer first, then writes it to the
// response. This ensures marshalling errors can be returned as a proper 500.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	writeJSONStatus(w, r, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		slog.DebugContext(r.Context(), "writing JSON response", "path", r.URL.Path, "error", err)
	}
}

// writeError maps err onto a status code and a client-safe body. Nothing
// may have been written to w yet.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	h := w.Header()
	h.Del("Content-Disposition")
	h.Del("X-Total-Count")
	h.Del("Cache-Control")

	var (
		verr *query.ValidationError
		qerr *query.QuotaError
		serr *store.Error
	)
	switch {
	case errors.As(err, &qerr):
		body := errorBody{Error: qerr.Message, Hint: qerr.Hint}
		if qerr.Scope == query.QuotaResults {
			body.Count = &qerr.Count
		}
		slog.InfoContext(r.Context(), "query rejected", "scope", string(qerr.Scope), "error", qerr.Message)
		writeJSONStatus(w, r, http.StatusBadRequest, body)
	case errors.As(err, &verr):
		slog.DebugContext(r.Context(), "query rejected", "error", verr.Message)
		writeJSONStatus(w, r, http.StatusBadRequest, errorBody{Error: verr.Message})
	case errors.Is(err, engine.ErrInvalidPage):
		writeJSONStatus(w, r, http.StatusNotFound, errorBody{Error: "Invalid page."})
	case errors.Is(err, catalog.ErrUnknownIndex):
		writeJSONStatus(w, r, http.StatusNotFound, errorBody{Error: "Model not found"})
	case errors.Is(err, context.Canceled):
		slog.InfoContext(r.Context(), "request cancelled", "path", r.URL.Path)
		w.WriteHeader(statusClientClosedRequest)
	case errors.Is(err, context.DeadlineExceeded):
		slog.WarnContext(r.Context(), "request timed out", "path", r.URL.Path)
		writeJSONStatus(w, r, http.StatusServiceUnavailable, errorBody{Error: "Request timed out"})
	case errors.As(err, &serr):
		slog.ErrorContext(r.Context(), "store failure", "op", serr.Op, "error", serr.Err)
		writeJSONStatus(w, r, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	default:
		slog.ErrorContext(r.Context(), "handling request", "path", r.URL.Path, "error", err)
		writeJSONStatus(w, r, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}
