// Package cache implements the per-session translation cache: a mapping from
// normalized caption text to its translation state. Marking a key pending is
// the deduplication primitive. At most one translation request is ever in
// flight per distinct text within a session.
package cache

import (
	"sync"
	"time"
)

type State int

const (
	// StatePending means a translation request was dispatched and has not
	// resolved. A failed request leaves the entry pending for the rest of
	// the session; only a session restart clears it.
	StatePending State = iota
	// StateReady means a non-empty translation is available.
	StateReady
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Entry is the cached state for one caption text. Absent is represented by
// the key not being present at all.
type Entry struct {
	State      State
	Text       string
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// Stats is a point-in-time summary for the status surface.
type Stats struct {
	Entries int `json:"entries"`
	Pending int `json:"pending"`
	Ready   int `json:"ready"`
}

// TranslationCache lives for exactly one session. It grows without bound
// within the session; the session restart is the only eviction.
type TranslationCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *TranslationCache {
	return &TranslationCache{
		entries: make(map[string]Entry),
	}
}

// Get returns the entry for text. The second return is false when the text
// is absent.
func (c *TranslationCache) Get(text string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[text]
	return entry, ok
}

// MarkPending atomically records that a translation request is about to be
// dispatched for text. It returns true only when the text was absent; any
// existing entry, pending or ready, leaves the cache untouched and returns
// false. This is what makes a ready entry unable to fall back to pending.
func (c *TranslationCache) MarkPending(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[text]; ok {
		return false
	}

	c.entries[text] = Entry{
		State:     StatePending,
		CreatedAt: time.Now(),
	}
	return true
}

// Put resolves text to a ready translation.
func (c *TranslationCache) Put(text, translated string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[text]
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.State = StateReady
	entry.Text = translated
	entry.ResolvedAt = time.Now()
	c.entries[text] = entry
}

func (c *TranslationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TranslationCache) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Entries: len(c.entries)}
	for _, entry := range c.entries {
		switch entry.State {
		case StatePending:
			stats.Pending++
		case StateReady:
			stats.Ready++
		}
	}
	return stats
}
