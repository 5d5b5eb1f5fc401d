package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/darshan-rambhia/chimera/internal/cache"
	"github.com/darshan-rambhia/chimera/internal/emit"
	"github.com/darshan-rambhia/chimera/internal/engine"
	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
	"github.com/darshan-rambhia/chimera/internal/store"
)

const (
	maxBodyBytes     = 1 << 20
	streamBufferSize = 64 << 10
)

// @Summary Query server properties
// @Description Filters, projects and returns servers of one index. Large
// @Description results are streamed; ?page selects paginated mode.
// @Accept json
// @Produce json
// @Produce text/csv
// @Param request body query.Request true "Query"
// @Param page query int false "Page number (enables pagination)"
// @Param page_size query int false "Page size (clamped to the maximum)"
// @Success 200 {object} map[string]interface{} "count and results"
// @Failure 400 {object} errorBody "Validation or quota error"
// @Failure 404 {object} errorBody "Invalid page"
// @Failure 500 {object} errorBody "Internal server error"
// @Router /api/srvprop/ [post]
func (s *Server) handleSrvProp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.engine.WithDeadline(r.Context())
	defer cancel()
	r = r.WithContext(ctx)

	req, err := query.DecodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := pageRequest(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.engine.Prepare(ctx, req, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.Page != nil {
		if p.Page.HasNext {
			p.Next = pageLink(r, p.Page.Number+1)
		}
		if p.Page.HasPrevious {
			p.Previous = pageLink(r, p.Page.Number-1)
		}
	}

	h := w.Header()
	h.Set("Content-Type", emit.ContentType(p.Query.Format))
	if p.Query.Format == query.FormatCSV {
		h.Set("Content-Disposition", `attachment; filename="data.csv"`)
	}

	if p.Mode == engine.ModeStreaming {
		s.stream(w, r, p)
		return
	}
	s.buffer(w, r, p)
}

// buffer renders the whole response before writing it, so a failure can
// still be reported with a proper status.
func (s *Server) buffer(w http.ResponseWriter, r *http.Request, p *engine.Prepared) {
	var buf bytes.Buffer
	em, err := emit.New(p.Query.Format, &buf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.engine.Execute(r.Context(), p, em); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := buf.WriteTo(w); err != nil {
		slog.DebugContext(r.Context(), "writing response", "path", r.URL.Path, "error", err)
	}
}

// stream writes the response chunk by chunk, flushing each one to the
// client. Once the first byte is out the status is committed: a later
// failure aborts the connection so the client never sees a truncated
// envelope as a complete one.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, p *engine.Prepared) {
	ctx := r.Context()
	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	if p.Query.Format == query.FormatJSON {
		h.Set("X-Total-Count", strconv.FormatInt(p.Count, 10))
	}

	rc := http.NewResponseController(w)
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, streamBufferSize)
	em, err := emit.New(p.Query.Format, bw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	em = emit.Flushing(em, func() error {
		if bw.Buffered() == 0 && cw.n == 0 {
			return nil
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})

	start := time.Now()
	err = s.engine.Execute(ctx, p, em)
	if err == nil {
		slog.InfoContext(ctx, "stream completed",
			"index", p.Query.Index,
			"count", p.Count,
			"format", string(p.Query.Format),
			"duration", time.Since(start),
		)
		return
	}
	if cw.n == 0 {
		writeError(w, r, err)
		return
	}
	if errors.Is(err, context.Canceled) {
		slog.InfoContext(ctx, "stream cancelled by client", "index", p.Query.Index)
	} else {
		slog.ErrorContext(ctx, "stream failed", "index", p.Query.Index, "error", err)
	}
	panic(http.ErrAbortHandler)
}

// countingWriter counts the bytes handed to the response writer. Any
// non-zero count means the status line is committed.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return c.w.Write(p)
}

// pageRequest reads ?page and ?page_size. A missing page means the query is
// not paginated; an unparsable page_size falls back to the default.
func pageRequest(v url.Values) (*engine.PageRequest, error) {
	raw, ok := v["page"]
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(raw[0])
	if err != nil {
		return nil, engine.ErrInvalidPage
	}
	size, _ := strconv.Atoi(v.Get("page_size"))
	return &engine.PageRequest{Number: n, Size: size}, nil
}

func pageLink(r *http.Request, number int) string {
	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
	if r.TLS != nil {
		u.Scheme = "https"
	}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(number))
	u.RawQuery = q.Encode()
	return u.String()
}

// @Summary Distinct values of a field
// @Description Returns the sorted distinct values of a field that the
// @Description catalog allows for introspection.
// @Produce json
// @Param index path string true "Index name"
// @Param field query string true "Field name (inputname or canonical)"
// @Success 200 {object} map[string][]string
// @Failure 404 {object} errorBody "Model not found or field not allowed"
// @Failure 500 {object} errorBody "Internal server error"
// @Router /api/modelfieldscontent/{index}/ [get]
func (s *Server) handleFieldsContent(w http.ResponseWriter, r *http.Request) {
	index := model.Index(r.PathValue("index"))
	ix, err := s.catalogs.Current(index)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := r.URL.Query().Get("field")
	f, ok := ix.Resolve(name)
	if !ok || !ix.IsAllowedForAPI(f.Canonical) {
		writeJSONStatus(w, r, http.StatusNotFound, errorBody{Error: "Field not allowed for query"})
		return
	}

	values, err := s.cache.Values(r.Context(), cache.Key(string(index), f.Canonical), func(ctx context.Context) ([]string, error) {
		return s.store.Distinct(ctx, index, f)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, map[string][]string{name: values})
}

// @Summary Field alias mapping
// @Description Returns the canonical name to input name map of an index.
// @Produce json
// @Param index path string true "Index name"
// @Success 200 {object} map[string]string
// @Failure 404 {object} errorBody "Model not found"
// @Router /api/modelfieldsmapping/{index}/ [get]
func (s *Server) handleFieldsMapping(w http.ResponseWriter, r *http.Request) {
	ix, err := s.catalogs.Current(model.Index(r.PathValue("index")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, ix.Mapping())
}

// annotationRequest appends one entry to a server's annotation history.
type annotationRequest struct {
	Text       string `json:"text" validate:"required,max=4000"`
	User       string `json:"user" validate:"required,max=150"`
	Type       string `json:"type" validate:"omitempty,max=50"`
	ServiceNow string `json:"servicenow" validate:"omitempty,max=100"`
}

var annotationValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}()

// @Summary Read a server annotation
// @Produce json
// @Param server_id path string true "Server id"
// @Success 200 {object} model.Annotation
// @Failure 404 {object} errorBody "Annotation not found"
// @Router /api/annotations/{server_id}/ [get]
func (s *Server) handleGetAnnotation(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Annotation(r.Context(), r.PathValue("server_id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSONStatus(w, r, http.StatusNotFound, errorBody{Error: "Annotation not found"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, a)
}

// @Summary Append to a server annotation
// @Description Adds a history entry and makes its text the current notes.
// @Accept json
// @Produce json
// @Param server_id path string true "Server id"
// @Param entry body annotationRequest true "Annotation entry"
// @Success 200 {object} model.Annotation
// @Failure 400 {object} errorBody "Invalid entry"
// @Router /api/annotations/{server_id}/ [post]
func (s *Server) handlePostAnnotation(w http.ResponseWriter, r *http.Request) {
	var req annotationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONStatus(w, r, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("Invalid JSON body: %v", err)})
		return
	}
	if err := annotationValidator.Struct(&req); err != nil {
		writeJSONStatus(w, r, http.StatusBadRequest, errorBody{Error: annotationError(err)})
		return
	}

	serverID := r.PathValue("server_id")
	a, err := s.store.AddAnnotationEntry(r.Context(), serverID, model.HistoryEntry{
		Text:       req.Text,
		User:       req.User,
		Type:       req.Type,
		ServiceNow: req.ServiceNow,
	}, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "annotation updated", "server_id", serverID, "user", req.User)
	writeJSON(w, r, a)
}

func annotationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid annotation"
	}
	fe := fieldErrs[0]
	if fe.Tag() == "required" {
		return fmt.Sprintf("The field '%s' is required", fe.Field())
	}
	return fmt.Sprintf("The field '%s' is too long (maximum: %s)", fe.Field(), fe.Param())
}

// @Summary Health check
// @Description Returns service health and the indexes with a loaded catalog
// @Produce json
// @Success 200 {object} map[string]interface{} "Health status"
// @Router /healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"indexes":   s.catalogs.Indexes(),
		"driver":    s.store.Driver(),
	})
}
