package emit

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
)

func row(values ...any) model.Row {
	r := make(model.Row, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok {
			r[i] = sql.NullString{String: s, Valid: true}
		}
	}
	return r
}

func TestJSON_Envelope(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSON(&buf)
	cols := []string{"SERVER_ID", "OSSHORTNAME"}

	require.NoError(t, e.Begin(Header{Count: 3}))
	require.NoError(t, e.Chunk(cols, []model.Row{row("a", "rhel"), row("b", nil)}))
	require.NoError(t, e.Chunk(cols, nil))
	require.NoError(t, e.Chunk(cols, []model.Row{row("c", `say "hi" <now>`)}))
	require.NoError(t, e.End())

	assert.Equal(t,
		`{"count":3,"results":[{"SERVER_ID":"a","OSSHORTNAME":"rhel"},{"SERVER_ID":"b","OSSHORTNAME":null},{"SERVER_ID":"c","OSSHORTNAME":"say \"hi\" <now>"}]}`,
		buf.String())
	assert.True(t, json.Valid(buf.Bytes()))
}

func TestJSON_KeepsColumnOrder(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSON(&buf)
	require.NoError(t, e.Begin(Header{Count: 1}))
	require.NoError(t, e.Chunk([]string{"Z", "A", "M"}, []model.Row{row("1", "2", "3")}))
	require.NoError(t, e.End())
	assert.Equal(t, `{"count":1,"results":[{"Z":"1","A":"2","M":"3"}]}`, buf.String())
}

func TestJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSON(&buf)
	require.NoError(t, e.Begin(Header{}))
	require.NoError(t, e.End())
	assert.Equal(t, `{"count":0,"results":[]}`, buf.String())
}

func TestJSON_Paginated(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSON(&buf)
	require.NoError(t, e.Begin(Header{Count: 250, Paginated: true, Next: "http://h/api/srvprop/?page=3"}))
	require.NoError(t, e.Chunk([]string{"SERVER_ID"}, []model.Row{row("a")}))
	require.NoError(t, e.End())
	assert.Equal(t, `{"count":250,"next":"http://h/api/srvprop/?page=3","previous":null,"results":[{"SERVER_ID":"a"}]}`, buf.String())
}

func TestJSON_Groups(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSON(&buf)
	cols := []string{"SERVER_ID", "DATACENTER"}
	require.NoError(t, e.Begin(Header{Count: 3}))
	require.NoError(t, e.Group("PAR1", cols, []model.Row{row("a", "PAR1"), row("b", "PAR1")}))
	require.NoError(t, e.Group("", cols, []model.Row{row("c", nil)}))
	require.NoError(t, e.End())

	assert.Equal(t,
		`{"count":3,"results":[{"group":"PAR1","count":2,"items":[{"SERVER_ID":"a","DATACENTER":"PAR1"},{"SERVER_ID":"b","DATACENTER":"PAR1"}]},{"group":"","count":1,"items":[{"SERVER_ID":"c","DATACENTER":null}]}]}`,
		buf.String())
}

func TestJSON_CallOrder(t *testing.T) {
	e := NewJSON(&bytes.Buffer{})
	assert.Error(t, e.End())
	require.NoError(t, e.Begin(Header{}))
	assert.Error(t, e.Begin(Header{}))
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	e := NewCSV(&buf)
	cols := []string{"SERVER_ID", "NOTES"}

	require.NoError(t, e.Begin(Header{Count: 3}))
	require.NoError(t, e.Chunk(cols, []model.Row{row("a", "line one\nline  two ")}))
	require.NoError(t, e.Chunk(cols, []model.Row{row("b", nil), row("c", `x,"y"`)}))
	require.NoError(t, e.End())

	assert.Equal(t, "SERVER_ID,NOTES\na,line one line two\nb,\nc,\"x,\"\"y\"\"\"\n", buf.String())
}

func TestCSV_NoRowsEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	e := NewCSV(&buf)
	require.NoError(t, e.Begin(Header{}))
	require.NoError(t, e.Chunk([]string{"SERVER_ID"}, nil))
	require.NoError(t, e.End())
	assert.Empty(t, buf.String())
}

func TestClean(t *testing.T) {
	assert.Equal(t, "", Clean(""))
	assert.Equal(t, "a b", Clean("  a \t\r\n  b  "))
	assert.Equal(t, "", Clean(" \n "))
}

func TestNew(t *testing.T) {
	e, err := New(query.FormatJSON, &bytes.Buffer{})
	require.NoError(t, err)
	assert.IsType(t, &JSON{}, e)

	e, err = New(query.FormatCSV, &bytes.Buffer{})
	require.NoError(t, err)
	assert.IsType(t, &CSV{}, e)

	_, err = New("xml", &bytes.Buffer{})
	assert.Error(t, err)

	assert.Equal(t, "application/json", ContentType(query.FormatJSON))
	assert.Equal(t, "text/csv; charset=utf-8", ContentType(query.FormatCSV))
}

func TestFlushing(t *testing.T) {
	var buf bytes.Buffer
	var sizes []int
	e := Flushing(NewJSON(&buf), func() error {
		sizes = append(sizes, buf.Len())
		return nil
	})

	require.NoError(t, e.Begin(Header{Count: 2}))
	assert.Empty(t, sizes, "begin is held back until the first rows")
	require.NoError(t, e.Chunk([]string{"A"}, []model.Row{row("1")}))
	require.NoError(t, e.Chunk([]string{"A"}, []model.Row{row("2")}))
	require.NoError(t, e.End())

	require.Len(t, sizes, 3)
	for i := 1; i < len(sizes); i++ {
		assert.Greater(t, sizes[i], sizes[i-1], "every call reaches the writer before its flush")
	}

	_, ok := e.(Grouper)
	assert.True(t, ok, "flushing keeps the group capability")

	_, ok = Flushing(NewCSV(&buf), func() error { return nil }).(Grouper)
	assert.False(t, ok)
}

func TestFlushing_Error(t *testing.T) {
	gone := errors.New("connection reset")
	e := Flushing(NewJSON(&bytes.Buffer{}), func() error { return gone })
	require.NoError(t, e.Begin(Header{}))
	assert.ErrorIs(t, e.Chunk([]string{"A"}, []model.Row{row("1")}), gone)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriterErrors(t *testing.T) {
	j := NewJSON(failingWriter{})
	assert.Error(t, j.Begin(Header{}))

	c := NewCSV(failingWriter{})
	assert.Error(t, c.Chunk([]string{"A"}, []model.Row{row(strings.Repeat("x", 10))}))
}

func BenchmarkJSONChunk(b *testing.B) {
	benchmarkEmitter(b, func() Emitter { return NewJSON(discard{}) })
}

func BenchmarkCSVChunk(b *testing.B) {
	benchmarkEmitter(b, func() Emitter { return NewCSV(discard{}) })
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func benchmarkEmitter(b *testing.B, newEmitter func() Emitter) {
	cols := []string{"SERVER_ID", "ENVIRONMENT", "OSSHORTNAME", "DATACENTER", "ANNOTATION"}
	rows := make([]model.Row, 10000)
	for i := range rows {
		rows[i] = row("srv-0001", "PROD", "rhel9", "PAR1", nil)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		e := newEmitter()
		_ = e.Begin(Header{Count: int64(len(rows))})
		_ = e.Chunk(cols, rows)
		_ = e.End()
	}
}
