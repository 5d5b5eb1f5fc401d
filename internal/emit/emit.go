// Package emit encodes query results onto the wire. The same emitter
// serves buffered, paginated and streamed responses: buffered output is an
// emitter writing into memory, streamed output one that flushes after
// every chunk.
package emit

import (
	"fmt"
	"io"

	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
)

// Header opens a response.
type Header struct {
	// Count is the total number of results, not the number in this page.
	Count int64
	// Paginated adds the next/previous links to the JSON envelope.
	Paginated bool
	Next      string
	Previous  string
}

// Emitter writes one response. Begin is called once, then Chunk any number
// of times with rows laid out like columns, then End.
type Emitter interface {
	Begin(Header) error
	Chunk(columns []string, rows []model.Row) error
	End() error
}

// Grouper is implemented by emitters that can write groupedby results.
// Group is called between Begin and End instead of Chunk.
type Grouper interface {
	Group(key string, columns []string, rows []model.Row) error
}

// New returns the emitter for format writing to w.
func New(format query.Format, w io.Writer) (Emitter, error) {
	switch format {
	case query.FormatJSON, "":
		return NewJSON(w), nil
	case query.FormatCSV:
		return NewCSV(w), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// ContentType returns the Content-Type of format.
func ContentType(format query.Format) string {
	if format == query.FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Flushing wraps e so flush runs after every Chunk, Group and End, pushing
// each chunk to the client before the next one is read. Begin does not
// flush: the opening bytes go out with the first rows, so a scan failing
// before any row leaves the response uncommitted.
func Flushing(e Emitter, flush func() error) Emitter {
	f := &flushing{Emitter: e, flush: flush}
	if g, ok := e.(Grouper); ok {
		return &flushingGrouper{flushing: f, g: g}
	}
	return f
}

type flushing struct {
	Emitter
	flush func() error
}

func (f *flushing) Chunk(columns []string, rows []model.Row) error {
	if err := f.Emitter.Chunk(columns, rows); err != nil {
		return err
	}
	return f.flush()
}

func (f *flushing) End() error {
	if err := f.Emitter.End(); err != nil {
		return err
	}
	return f.flush()
}

type flushingGrouper struct {
	*flushing
	g Grouper
}

func (f *flushingGrouper) Group(key string, columns []string, rows []model.Row) error {
	if err := f.g.Group(key, columns, rows); err != nil {
		return err
	}
	return f.flush()
}
