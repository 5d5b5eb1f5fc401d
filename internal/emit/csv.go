package emit

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/model"
)

// CSV writes a header row taken from the first non-empty chunk followed by
// one record per row. A response without rows has an empty body. NULL
// becomes the empty string and runs of whitespace, newlines included,
// collapse to a single space.
type CSV struct {
	w      *csv.Writer
	header bool
	record []string
}

// NewCSV returns a CSV emitter writing to w.
func NewCSV(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

func (c *CSV) Begin(Header) error { return nil }

func (c *CSV) Chunk(columns []string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if !c.header {
		c.header = true
		if err := c.w.Write(columns); err != nil {
			return err
		}
	}
	if cap(c.record) < len(columns) {
		c.record = make([]string, len(columns))
	}
	record := c.record[:len(columns)]
	for _, row := range rows {
		for i := range record {
			record[i] = Clean(row.Text(i))
		}
		if err := c.w.Write(record); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) End() error {
	c.w.Flush()
	return c.w.Error()
}

// Clean collapses whitespace runs to single spaces and trims the ends.
func Clean(v string) string {
	if v == "" {
		return v
	}
	return strings.Join(strings.Fields(v), " ")
}
