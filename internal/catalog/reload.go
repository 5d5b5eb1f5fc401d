package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/darshan-rambhia/chimera/internal/model"
)

// Verifier checks a freshly parsed snapshot before it is published.
type Verifier func(*Index) error

// Catalog serves the most recently published snapshot of each index's
// catalog and re-reads a document when its modification time changes.
type Catalog struct {
	interval time.Duration
	verify   Verifier
	now      func() time.Time

	// mu serializes reloads. Readers never take it.
	mu      sync.Mutex
	entries map[model.Index]*entry
}

type entry struct {
	path      string
	snap      atomic.Pointer[Index]
	modTime   atomic.Int64 // unix nanoseconds of the published document
	lastCheck atomic.Int64 // unix nanoseconds of the last stat
}

// Load reads every configured catalog document. A missing or malformed
// document, or one rejected by verify, is returned as *Error.
func Load(paths map[model.Index]string, interval time.Duration, verify Verifier) (*Catalog, error) {
	c := &Catalog{
		interval: interval,
		verify:   verify,
		now:      time.Now,
		entries:  make(map[model.Index]*entry, len(paths)),
	}
	for index, path := range paths {
		e := &entry{path: path}
		ix, mod, err := c.read(index, path)
		if err != nil {
			return nil, err
		}
		e.snap.Store(ix)
		e.modTime.Store(mod.UnixNano())
		e.lastCheck.Store(c.now().UnixNano())
		c.entries[index] = e
	}
	return c, nil
}

func (c *Catalog) read(index model.Index, path string) (*Index, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, &Error{Index: index, Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, &Error{Index: index, Path: path, Err: err}
	}
	ix, err := Parse(index, data)
	if err != nil {
		return nil, time.Time{}, &Error{Index: index, Path: path, Err: err}
	}
	if c.verify != nil {
		if err := c.verify(ix); err != nil {
			return nil, time.Time{}, &Error{Index: index, Path: path, Err: err}
		}
	}
	return ix, info.ModTime(), nil
}

// ErrUnknownIndex is returned by Current for an index with no catalog.
var ErrUnknownIndex = errors.New("unknown index")

// Current returns the snapshot for index. The backing file is checked at
// most once per interval; a changed document is reloaded before returning.
func (c *Catalog) Current(index model.Index) (*Index, error) {
	e, ok := c.entries[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	now := c.now().UnixNano()
	if now-e.lastCheck.Load() < int64(c.interval) {
		return e.snap.Load(), nil
	}
	c.refresh(index, e)
	return e.snap.Load(), nil
}

// Indexes returns the indexes that have a catalog loaded.
func (c *Catalog) Indexes() []model.Index {
	var out []model.Index
	for _, index := range model.Indexes() {
		if _, ok := c.entries[index]; ok {
			out = append(out, index)
		}
	}
	return out
}

func (c *Catalog) refresh(index model.Index, e *entry) {
	e.lastCheck.Store(c.now().UnixNano())

	info, err := os.Stat(e.path)
	if err != nil {
		slog.Warn("catalog stat failed, keeping previous snapshot", "index", index, "path", e.path, "error", err)
		return
	}
	mod := info.ModTime().UnixNano()
	if mod == e.modTime.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mod == e.modTime.Load() {
		return // another caller already reloaded it
	}

	ix, readMod, err := c.read(index, e.path)
	if err != nil {
		slog.Warn("catalog reload failed, keeping previous snapshot", "index", index, "error", err)
		return
	}
	e.snap.Store(ix)
	e.modTime.Store(readMod.UnixNano())
	slog.Info("catalog reloaded", "index", index, "fields", len(ix.fields))
}

// Run refreshes every catalog once per interval until the context is
// cancelled, so idle processes also pick up edits.
func (c *Catalog) Run(ctx context.Context) error {
	slog.Info("catalog watcher started", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("catalog watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			for index, e := range c.entries {
				c.refresh(index, e)
			}
		}
	}
}
