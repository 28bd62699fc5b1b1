// Package history defines the translation journal: an append-only record of
// every translation attempt and its outcome. The journal is informational;
// the overlay pipeline writes it and never reads it back, so per-session
// cache semantics are unaffected by anything stored here.
package history

import (
	"context"
	"time"
)

type Outcome string

const (
	// OutcomeTranslated is a resolved, non-empty translation.
	OutcomeTranslated Outcome = "translated"
	// OutcomeFailed is a transport, status or parse failure. The cache
	// entry for the text stays pending for the rest of the session.
	OutcomeFailed Outcome = "failed"
	// OutcomeEmpty is a successful call that produced no usable text.
	OutcomeEmpty Outcome = "empty"
)

// Record is one journal row.
type Record struct {
	ID               int64     `json:"id"`
	PageID           string    `json:"page_id"`
	PageURL          string    `json:"page_url"`
	SessionID        string    `json:"session_id"`
	SourceText       string    `json:"source_text"`
	TranslatedText   string    `json:"translated_text"`
	SourceLanguage   string    `json:"source_language"`
	TargetLanguage   string    `json:"target_language"`
	DetectedLanguage string    `json:"detected_language"`
	Outcome          Outcome   `json:"outcome"`
	DurationMS       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Recorder is the write side, all the pipeline ever needs.
type Recorder interface {
	Append(ctx context.Context, rec Record) error
}

// Store adds the read and maintenance side used by the HTTP API and the
// retention sweep.
type Store interface {
	Recorder
	List(ctx context.Context, limit int) ([]Record, error)
	CountByOutcome(ctx context.Context) (map[Outcome]int64, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
