// Package model defines all shared domain types for Chimera.
package model

import (
	"database/sql"
	"time"
)

// Index names one of the server tables the query engine can read.
type Index string

const (
	IndexInventory          Index = "inventory"
	IndexBusinessContinuity Index = "businesscontinuity"
)

// Indexes returns every queryable index in a stable order.
func Indexes() []Index {
	return []Index{IndexInventory, IndexBusinessContinuity}
}

// Valid reports whether i is a known index.
func (i Index) Valid() bool {
	return i == IndexInventory || i == IndexBusinessContinuity
}

// Well-known field names.
const (
	FieldServerID   = "SERVER_ID"
	FieldAnnotation = "ANNOTATION"
)

// Row is one projected result row. Values line up with the projection
// columns of the plan that produced it; NULL columns have Valid == false.
type Row []sql.NullString

// Text returns the value at i, or "" when it is NULL.
func (r Row) Text(i int) string {
	if i < 0 || i >= len(r) || !r[i].Valid {
		return ""
	}
	return r[i].String
}

// Annotation is the human-maintained note attached to a SERVER_ID.
type Annotation struct {
	ServerID  string         `json:"SERVER_ID"`
	Notes     string         `json:"notes"`
	History   []HistoryEntry `json:"history"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HistoryEntry is one append-only change in an annotation's history.
type HistoryEntry struct {
	Text       string `json:"text"`
	User       string `json:"user"`
	Date       string `json:"date"`
	Type       string `json:"type"`
	ServiceNow string `json:"servicenow"`
}
