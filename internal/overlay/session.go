package overlay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/cache"
	"github.com/MimeLyc/live-caption-translator/internal/dom"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Session bundles everything whose lifetime matches one attach-to-teardown
// span: the translation cache, the dispatcher, the renderer and every
// observer subscription. Close is final; a navigation builds a new Session
// rather than reviving this one.
type Session struct {
	ID              string
	PageID          string
	URL             string
	StartedAt       time.Time
	ControlAttached bool

	cache      *cache.TranslationCache
	dispatcher *Dispatcher
	renderer   *Renderer
	stats      *Stats

	mu        sync.Mutex
	observers map[string]*dom.Observer
	closed    atomic.Bool
}

// SessionStatus is the JSON shape of one live session in the status report.
type SessionStatus struct {
	ID              string      `json:"id"`
	URL             string      `json:"url"`
	StartedAt       time.Time   `json:"started_at"`
	ControlAttached bool        `json:"control_attached"`
	Observers       int         `json:"observers"`
	Cache           cache.Stats `json:"cache"`
}

// track owns an observer for the session's lifetime. One subscription per
// (target, options) pair: a duplicate replaces its predecessor so teardown
// can never leave a stray observer behind.
func (s *Session) track(obs *dom.Observer) {
	key := fmt.Sprintf("%p|%s", obs.Target(), obs.Options().Key())

	s.mu.Lock()
	prev, existed := s.observers[key]
	s.observers[key] = obs
	s.mu.Unlock()

	if existed {
		log.Warn("Session %s replaced a duplicate observer for %s", s.ID, key)
		prev.Disconnect()
	}
}

// Refresh runs a render pass unless the session is closed. It is the single
// callback handed to the watcher, the playback observer and the dispatcher,
// so the closed gate silences all of them at once.
func (s *Session) Refresh() {
	if s.closed.Load() {
		return
	}
	s.renderer.Refresh()
}

// Close disconnects every observer and stops the dispatcher. In-flight
// translations are not cancelled; they finish into this session's cache,
// which nothing reads afterwards.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	observers := make([]*dom.Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.observers = make(map[string]*dom.Observer)
	s.mu.Unlock()

	for _, obs := range observers {
		obs.Disconnect()
	}

	go s.dispatcher.Stop()
	log.Info("Session %s closed (%d observers released)", s.ID, len(observers))
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	observers := len(s.observers)
	s.mu.Unlock()

	return SessionStatus{
		ID:              s.ID,
		URL:             s.URL,
		StartedAt:       s.StartedAt,
		ControlAttached: s.ControlAttached,
		Observers:       observers,
		Cache:           s.cache.Snapshot(),
	}
}
