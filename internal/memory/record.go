// Package memory defines the record model and the storage capability
// contract implemented by every backend.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Scope partitions records into independent query namespaces.
type Scope string

const (
	ScopeDaily    Scope = "daily"
	ScopeLongTerm Scope = "longterm"
)

// Scopes lists all valid scopes in a stable order.
func Scopes() []Scope {
	return []Scope{ScopeDaily, ScopeLongTerm}
}

// ParseScope validates a scope string from config, CLI flags, or requests.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeDaily:
		return ScopeDaily, nil
	case ScopeLongTerm:
		return ScopeLongTerm, nil
	}
	return "", fmt.Errorf("invalid scope %q (want %q or %q)", s, ScopeDaily, ScopeLongTerm)
}

// EmbeddingStatus tracks the lifecycle of a record's vector.
// The file backend never moves past StatusPending; it has no vector
// capability.
type EmbeddingStatus string

const (
	StatusPending EmbeddingStatus = "pending"
	StatusReady   EmbeddingStatus = "ready"
	StatusFailed  EmbeddingStatus = "failed"
)

// Record is a single memory entry. A record is addressed by scope+key
// (the date for daily records, a slug for long-term records); the ID is
// assigned at creation and survives migration between backends.
type Record struct {
	ID              string
	Scope           Scope
	Key             string
	Content         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Embedding       []float32
	EmbeddingStatus EmbeddingStatus
}

// ScoredRecord is a Record with a similarity score attached.
// Scores are cosine similarity in [-1, 1], higher is more similar.
type ScoredRecord struct {
	Record
	Score float32
}
