// Package engine runs server property queries: it validates a request,
// resolves annotation filters, plans the scan, picks a delivery mode and
// drives an emitter with the projected rows.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/emit"
	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
	"github.com/darshan-rambhia/chimera/internal/store"
)

// Store is what the engine needs from persistence.
type Store interface {
	Count(ctx context.Context, p *query.Plan) (int64, error)
	Scan(ctx context.Context, p *query.Plan, chunkSize int, fn func([]model.Row) error) error
	Page(ctx context.Context, p *query.Plan, offset, limit int) ([]model.Row, error)
	MatchAnnotations(ctx context.Context, p query.Predicate) ([]string, error)
	AnnotationNotes(ctx context.Context, ids []string) (map[string]string, error)
	Lookup(ctx context.Context, index model.Index, fields []catalog.Field, ids []string) ([]model.Row, error)
}

// Limits are the engine's caps and thresholds.
type Limits struct {
	MaxResults              int64
	MaxFilterFields         int
	MaxFilterValuesPerField int
	StreamingThreshold      int64
	ChunkSize               int
	PageSize                int
	MaxPageSize             int
	MaxConcurrentStreams    int
	RequestTimeout          time.Duration
}

// ErrInvalidPage is returned for a page number outside the result.
var ErrInvalidPage = errors.New("invalid page")

var errGroupsUnsupported = errors.New("emitter cannot write grouped results")

// Mode is how a prepared query delivers its results.
type Mode int

const (
	// ModeEmpty answers without scanning: an annotation filter matched
	// nothing.
	ModeEmpty Mode = iota
	ModeBuffered
	ModeStreaming
	ModePaginated
)

func (m Mode) String() string {
	switch m {
	case ModeEmpty:
		return "empty"
	case ModeBuffered:
		return "buffered"
	case ModeStreaming:
		return "streaming"
	case ModePaginated:
		return "paginated"
	}
	return "unknown"
}

// PageRequest selects one page of results.
type PageRequest struct {
	Number int
	Size   int
}

// Page describes the page a paginated query returns.
type Page struct {
	Number      int
	Size        int
	HasNext     bool
	HasPrevious bool
}

// Engine executes queries against a store.
type Engine struct {
	store     Store
	validator *query.Validator
	limits    Limits
	streams   *semaphore.Weighted
}

// New creates an Engine.
func New(s Store, catalogs query.Catalogs, limits Limits) *Engine {
	return &Engine{
		store: s,
		validator: query.NewValidator(catalogs, query.Limits{
			MaxFilterFields:         limits.MaxFilterFields,
			MaxFilterValuesPerField: limits.MaxFilterValuesPerField,
		}),
		limits:  limits,
		streams: semaphore.NewWeighted(int64(max(limits.MaxConcurrentStreams, 1))),
	}
}

// WithDeadline bounds a request by the configured timeout. A zero timeout
// leaves the request unbounded.
func (e *Engine) WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.limits.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.limits.RequestTimeout)
}

// Prepared is a planned query ready to be executed once.
type Prepared struct {
	Query *query.Query
	Plan  *query.Plan
	Mode  Mode
	// Count is the number of results: rows, or groups when unified.
	Count int64
	// Page is set in ModePaginated, and in ModeEmpty when a page was
	// requested.
	Page *Page
	// Next and Previous are the page links written by a paginated JSON
	// envelope; the caller fills them in.
	Next, Previous string

	columns   []string
	srcIdx    []int // position of each column in its source row
	idIdx     int   // plan position of SERVER_ID, -1 when not needed
	rows      []model.Row
	groups    []group
	admission bool
}

// Prepare validates req and plans it. Nothing is written; errors are
// reported before any output is committed. Queries that unify or group
// are materialised here.
func (e *Engine) Prepare(ctx context.Context, req *query.Request, page *PageRequest) (*Prepared, error) {
	start := time.Now()
	q, err := e.validator.Validate(req)
	if err != nil {
		return nil, err
	}

	where, err := query.Compile(q.Filters)
	if err != nil {
		return nil, err
	}

	p := &Prepared{Query: q}
	p.layout()

	if q.Annotation != nil {
		var empty bool
		where, empty, err = e.restrictByAnnotation(ctx, q.Annotation, where)
		if err != nil {
			return nil, err
		}
		if empty {
			p.Plan = query.NewPlan(q, where)
			p.Mode = ModeEmpty
			if page != nil && !q.Materialized() {
				if p.Page, err = e.page(page, 0); err != nil {
					return nil, err
				}
			}
			slog.DebugContext(ctx, "annotation filter matched nothing", "index", q.Index)
			return p, nil
		}
	}

	p.Plan = query.NewPlan(q, where)
	p.resolveLayout()

	count, err := e.store.Count(ctx, p.Plan)
	if err != nil {
		return nil, err
	}
	if count > e.limits.MaxResults {
		return nil, query.ResultQuotaError(count, e.limits.MaxResults)
	}
	p.Count = count

	switch {
	case q.Materialized():
		if err := e.materialize(ctx, p); err != nil {
			return nil, err
		}
		p.Mode = ModeBuffered
		if p.Count > e.limits.StreamingThreshold {
			p.Mode = ModeStreaming
		}
	case page != nil:
		pg, err := e.page(page, count)
		if err != nil {
			return nil, err
		}
		p.Page = pg
		p.Mode = ModePaginated
	case count > e.limits.StreamingThreshold:
		p.Mode = ModeStreaming
		p.admission = true
	default:
		p.Mode = ModeBuffered
	}

	slog.DebugContext(ctx, "query planned",
		"index", q.Index,
		"mode", p.Mode.String(),
		"count", p.Count,
		"filters", len(q.Filters),
		"columns", len(p.columns),
		"duration", time.Since(start),
	)
	return p, nil
}

// restrictByAnnotation resolves the ANNOTATION terms into SERVER_ID sets.
// Include terms restrict the scan to matching servers; "!" terms remove
// the servers whose notes match them. empty is true when the include terms
// matched no annotation at all.
func (e *Engine) restrictByAnnotation(ctx context.Context, terms []string, where query.Predicate) (query.Predicate, bool, error) {
	var include, exclude []string
	for _, t := range terms {
		if strings.HasPrefix(t, "!") {
			exclude = append(exclude, t)
		} else {
			include = append(include, t)
		}
	}

	match, err := query.CompileNotes(store.NotesField, include)
	if err != nil {
		return nil, false, err
	}
	if match != nil {
		ids, err := e.store.MatchAnnotations(ctx, match)
		if err != nil {
			return nil, false, err
		}
		if len(ids) == 0 {
			return nil, true, nil
		}
		where = query.Restrict(where, ids, false)
	}

	excl, err := query.CompileNotes(store.NotesField, exclude)
	if err != nil {
		return nil, false, err
	}
	if x, ok := excl.(query.Exclude); ok {
		ids, err := e.store.MatchAnnotations(ctx, x.Pred)
		if err != nil {
			return nil, false, err
		}
		if len(ids) > 0 {
			where = query.Restrict(where, ids, true)
		}
	}
	return where, false, nil
}

func (e *Engine) page(req *PageRequest, count int64) (*Page, error) {
	size := req.Size
	if size <= 0 {
		size = e.limits.PageSize
	}
	size = min(size, e.limits.MaxPageSize)
	if req.Number < 1 {
		return nil, ErrInvalidPage
	}
	pages := (count + int64(size) - 1) / int64(size)
	// The first page of an empty result exists.
	if int64(req.Number) > max(pages, 1) {
		return nil, ErrInvalidPage
	}
	return &Page{
		Number:      req.Number,
		Size:        size,
		HasNext:     int64(req.Number) < pages,
		HasPrevious: req.Number > 1,
	}, nil
}

// Execute writes the results of p to em. Streaming executions wait for a
// free stream slot first.
func (e *Engine) Execute(ctx context.Context, p *Prepared, em emit.Emitter) error {
	if p.admission {
		if err := e.streams.Acquire(ctx, 1); err != nil {
			return err
		}
		defer e.streams.Release(1)
	}

	h := emit.Header{Count: p.Count}
	if p.Page != nil {
		h.Paginated = true
		h.Next, h.Previous = p.Next, p.Previous
	}
	if err := em.Begin(h); err != nil {
		return err
	}

	switch {
	case p.Mode == ModeEmpty:
	case p.Query.GroupedBy != "":
		if err := e.writeGroups(p, em); err != nil {
			return err
		}
	case p.Query.Materialized():
		for start := 0; start < len(p.rows); start += e.limits.ChunkSize {
			end := min(start+e.limits.ChunkSize, len(p.rows))
			if err := em.Chunk(p.columns, p.rows[start:end]); err != nil {
				return err
			}
		}
	case p.Mode == ModePaginated:
		rows, err := e.store.Page(ctx, p.Plan, (p.Page.Number-1)*p.Page.Size, p.Page.Size)
		if err != nil {
			return err
		}
		out, err := e.project(ctx, p, rows)
		if err != nil {
			return err
		}
		if err := em.Chunk(p.columns, out); err != nil {
			return err
		}
	default:
		err := e.store.Scan(ctx, p.Plan, e.limits.ChunkSize, func(rows []model.Row) error {
			out, err := e.project(ctx, p, rows)
			if err != nil {
				return err
			}
			return em.Chunk(p.columns, out)
		})
		if err != nil {
			return err
		}
	}
	return em.End()
}

// Columns returns the output column names of p.
func (p *Prepared) Columns() []string { return p.columns }

func (p *Prepared) layout() {
	p.columns = p.Query.ColumnNames()
	p.idIdx = -1
}

// resolveLayout maps every output column to its position in the scanned
// row, or in the enrich values, once the plan exists.
func (p *Prepared) resolveLayout() {
	p.srcIdx = make([]int, len(p.Query.Columns))
	for i, c := range p.Query.Columns {
		p.srcIdx[i] = -1
		switch c.Source {
		case query.SourceStore:
			p.srcIdx[i] = p.Plan.FieldIndex(c.Field.Canonical)
		case query.SourceEnrich:
			for j, f := range p.Query.Enrich.Fields {
				if f.Canonical == c.Field.Canonical {
					p.srcIdx[i] = j
				}
			}
		}
	}
	if p.Query.WantsAnnotation() || p.Query.Enrich != nil {
		p.idIdx = p.Plan.FieldIndex(model.FieldServerID)
	}
}
