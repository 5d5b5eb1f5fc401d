package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/query"
)

// NotesField is the annotation column that ANNOTATION filters match.
var NotesField = catalog.Field{Canonical: "notes", InputName: model.FieldAnnotation}

// MatchAnnotations returns the sorted SERVER_IDs whose annotation notes
// satisfy p.
func (s *Store) MatchAnnotations(ctx context.Context, p query.Predicate) ([]string, error) {
	b := &builder{d: s.d, col: plainColumn}
	b.write(`SELECT "SERVER_ID" FROM `, tableAnnotation)
	if err := b.where(p); err != nil {
		return nil, fail("matching annotations", err)
	}
	b.write(` ORDER BY "SERVER_ID"`)
	q, args := b.query()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fail("matching annotations", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fail("matching annotations", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("matching annotations", err)
	}
	return ids, nil
}

// AnnotationNotes returns the notes of every annotated SERVER_ID in ids in
// a single lookup. Servers without an annotation are absent from the map.
func (s *Store) AnnotationNotes(ctx context.Context, ids []string) (map[string]string, error) {
	notes := make(map[string]string)
	if len(ids) == 0 {
		return notes, nil
	}
	b := &builder{d: s.d, col: plainColumn}
	b.write(`SELECT "SERVER_ID", notes FROM `, tableAnnotation, " WHERE ")
	if err := b.pred(query.InSet{Field: query.ServerIDField, Values: ids}); err != nil {
		return nil, fail("reading annotation notes", err)
	}
	q, args := b.query()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fail("reading annotation notes", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, n string
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fail("reading annotation notes", err)
		}
		notes[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fail("reading annotation notes", err)
	}
	return notes, nil
}

// Annotation returns the annotation of a server, or ErrNotFound.
func (s *Store) Annotation(ctx context.Context, serverID string) (*model.Annotation, error) {
	return s.annotation(ctx, s.db, serverID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) annotation(ctx context.Context, q queryer, serverID string) (*model.Annotation, error) {
	var (
		a       model.Annotation
		history string
		updated int64
	)
	err := q.QueryRowContext(ctx,
		s.d.placeholders(`SELECT "SERVER_ID", notes, history, updated_at FROM `+tableAnnotation+` WHERE "SERVER_ID" = ?`),
		serverID,
	).Scan(&a.ServerID, &a.Notes, &history, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("annotation %s: %w", serverID, ErrNotFound)
	}
	if err != nil {
		return nil, fail("reading annotation", err)
	}
	if err := json.Unmarshal([]byte(history), &a.History); err != nil {
		return nil, fail("decoding annotation history", err)
	}
	if a.History == nil {
		a.History = []model.HistoryEntry{}
	}
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	return &a, nil
}

// AddAnnotationEntry appends entry to a server's annotation history and
// makes its text the current notes, creating the annotation if needed.
func (s *Store) AddAnnotationEntry(ctx context.Context, serverID string, entry model.HistoryEntry, now time.Time) (*model.Annotation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail("beginning annotation update", err)
	}
	defer tx.Rollback()

	var history []model.HistoryEntry
	current, err := s.annotation(ctx, tx, serverID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		history = current.History
	}

	if entry.Date == "" {
		entry.Date = now.UTC().Format(time.RFC3339)
	}
	history = append(history, entry)
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encoding annotation history: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.d.placeholders(`
		INSERT INTO `+tableAnnotation+` ("SERVER_ID", notes, history, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT ("SERVER_ID") DO UPDATE SET
			notes = excluded.notes,
			history = excluded.history,
			updated_at = excluded.updated_at`),
		serverID, entry.Text, string(data), now.Unix(),
	)
	if err != nil {
		return nil, fail("writing annotation", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail("committing annotation", err)
	}

	return &model.Annotation{
		ServerID:  serverID,
		Notes:     entry.Text,
		History:   history,
		UpdatedAt: time.Unix(now.Unix(), 0).UTC(),
	}, nil
}
