package emit

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/darshan-rambhia/chimera/internal/model"
)

// JSON writes the {"count": N, "results": [...]} envelope. Objects keep
// the column order they are given; NULL values are written as null.
type JSON struct {
	w       io.Writer
	buf     bytes.Buffer
	enc     *json.Encoder
	started bool
	items   int
}

// NewJSON returns a JSON emitter writing to w.
func NewJSON(w io.Writer) *JSON {
	j := &JSON{w: w}
	j.enc = json.NewEncoder(&j.buf)
	j.enc.SetEscapeHTML(false)
	return j
}

func (j *JSON) Begin(h Header) error {
	if j.started {
		return errors.New("emit: Begin called twice")
	}
	j.started = true
	j.buf.Reset()
	j.buf.WriteString(`{"count":`)
	j.buf.WriteString(strconv.FormatInt(h.Count, 10))
	if h.Paginated {
		j.buf.WriteString(`,"next":`)
		j.link(h.Next)
		j.buf.WriteString(`,"previous":`)
		j.link(h.Previous)
	}
	j.buf.WriteString(`,"results":[`)
	return j.flush()
}

func (j *JSON) link(url string) {
	if url == "" {
		j.buf.WriteString("null")
		return
	}
	j.str(url)
}

func (j *JSON) Chunk(columns []string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	keys := j.keys(columns)
	for _, row := range rows {
		j.sep()
		j.object(keys, row)
	}
	return j.flush()
}

// Group writes {"group": key, "count": n, "items": [...]} as one result.
func (j *JSON) Group(key string, columns []string, rows []model.Row) error {
	keys := j.keys(columns)
	j.sep()
	j.buf.WriteString(`{"group":`)
	j.str(key)
	j.buf.WriteString(`,"count":`)
	j.buf.WriteString(strconv.Itoa(len(rows)))
	j.buf.WriteString(`,"items":[`)
	for i, row := range rows {
		if i > 0 {
			j.buf.WriteByte(',')
		}
		j.object(keys, row)
	}
	j.buf.WriteString("]}")
	return j.flush()
}

func (j *JSON) End() error {
	if !j.started {
		return errors.New("emit: End called before Begin")
	}
	j.buf.WriteString("]}")
	return j.flush()
}

// keys pre-encodes the object keys of a chunk.
func (j *JSON) keys(columns []string) []string {
	keys := make([]string, len(columns))
	for i, c := range columns {
		start := j.buf.Len()
		j.str(c)
		j.buf.WriteByte(':')
		keys[i] = string(j.buf.Bytes()[start:])
		j.buf.Truncate(start)
	}
	return keys
}

func (j *JSON) sep() {
	if j.items > 0 {
		j.buf.WriteByte(',')
	}
	j.items++
}

func (j *JSON) object(keys []string, row model.Row) {
	j.buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			j.buf.WriteByte(',')
		}
		j.buf.WriteString(key)
		if i >= len(row) || !row[i].Valid {
			j.buf.WriteString("null")
			continue
		}
		j.str(row[i].String)
	}
	j.buf.WriteByte('}')
}

// str appends s as a JSON string.
func (j *JSON) str(s string) {
	_ = j.enc.Encode(s)
	j.buf.Truncate(j.buf.Len() - 1) // Encode appends a newline
}

func (j *JSON) flush() error {
	if j.buf.Len() == 0 {
		return nil
	}
	_, err := j.w.Write(j.buf.Bytes())
	j.buf.Reset()
	return err
}
