package overlay

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/internal/cache"
	"github.com/MimeLyc/live-caption-translator/internal/captions"
	"github.com/MimeLyc/live-caption-translator/internal/history"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Translator is the asynchronous translation backend. The dispatcher treats it
// as opaque: one text in, one text or error out.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

type task struct {
	text string
}

// Dispatcher fans caption texts out to translation workers. Each text arrives
// here exactly once per session: the watcher reserves the cache entry before
// submitting, so two workers never translate the same line.
//
// A failed or empty translation is logged and journaled but never retried;
// the reserved cache entry stays pending for the rest of the session.
type Dispatcher struct {
	sessionID  string
	pageID     string
	pageURL    string
	translator Translator
	cache      *cache.TranslationCache
	journal    history.Recorder
	stats      *Stats
	source     language.Tag
	target     language.Tag
	onReady    func()

	tasks    chan task
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type DispatcherConfig struct {
	SessionID string
	PageID    string
	PageURL   string
	Workers   int
	Source    language.Tag
	Target    language.Tag
}

func NewDispatcher(cfg DispatcherConfig, translator Translator, store *cache.TranslationCache, journal history.Recorder, stats *Stats, onReady func()) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		sessionID:  cfg.SessionID,
		pageID:     cfg.PageID,
		pageURL:    cfg.PageURL,
		translator: translator,
		cache:      store,
		journal:    journal,
		stats:      stats,
		source:     cfg.Source,
		target:     cfg.Target,
		onReady:    onReady,
		tasks:      make(chan task, 256),
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit hands a reserved caption text to the workers. It never blocks the
// mutation pipeline: when the buffer is full the send moves to a goroutine
// that gives up once the dispatcher stops.
func (d *Dispatcher) Submit(text string) bool {
	select {
	case <-d.stopCh:
		return false
	default:
	}

	t := task{text: text}
	select {
	case d.tasks <- t:
	default:
		go func() {
			select {
			case d.tasks <- t:
			case <-d.stopCh:
			}
		}()
	}
	return true
}

// Stop shuts the workers down and waits for any in-flight translation to
// finish. Teardown on navigation calls it from a goroutine so the session
// swap never waits on a slow backend.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case t := <-d.tasks:
			d.translate(t)
		}
	}
}

// translate runs one caption through the backend and resolves its cache
// entry. The background context is deliberate: a teardown must not cancel
// work the backend already accepted, and completing into a discarded cache
// is harmless.
func (d *Dispatcher) translate(t task) {
	start := time.Now()
	translated, err := d.translator.Translate(context.Background(), t.text)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		d.stats.translationsFailed.Add(1)
		log.Error("Translation failed for %q: %v", t.text, err)
		d.journalOutcome(t, "", history.OutcomeFailed, elapsed)
	case strings.TrimSpace(translated) == "":
		d.stats.translationsEmpty.Add(1)
		log.Warn("Translation returned empty text for %q", t.text)
		d.journalOutcome(t, "", history.OutcomeEmpty, elapsed)
	default:
		d.stats.translationsOK.Add(1)
		d.cache.Put(t.text, translated)
		d.journalOutcome(t, translated, history.OutcomeTranslated, elapsed)
		log.Debug("Translated %q in %s", t.text, elapsed)
		if d.onReady != nil {
			d.onReady()
		}
	}
}

func (d *Dispatcher) journalOutcome(t task, translated string, outcome history.Outcome, elapsed time.Duration) {
	if d.journal == nil {
		return
	}

	detected := ""
	if tag := captions.DetectText(t.text); tag != language.Und {
		detected = tag.String()
	}

	rec := history.Record{
		PageID:           d.pageID,
		PageURL:          d.pageURL,
		SessionID:        d.sessionID,
		SourceText:       t.text,
		TranslatedText:   translated,
		SourceLanguage:   d.source.String(),
		TargetLanguage:   d.target.String(),
		DetectedLanguage: detected,
		Outcome:          outcome,
		DurationMS:       elapsed.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	if err := d.journal.Append(context.Background(), rec); err != nil {
		log.Warn("Failed to journal translation of %q: %v", t.text, err)
	}
}
