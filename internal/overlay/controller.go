package overlay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/internal/cache"
	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/dom"
	"github.com/MimeLyc/live-caption-translator/internal/history"
	"github.com/MimeLyc/live-caption-translator/internal/translate"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// TranslatorFactory builds one session's translation backend from the runtime
// settings current at session start. Settings changes therefore take effect
// on the next restart, never mid-session.
type TranslatorFactory func(settings config.RuntimeSettings) (Translator, error)

// Controller runs the overlay lifecycle for one page: wait for the caption
// container, stand a session up, watch for navigations, tear down and start
// over. A container that never appears is retried indefinitely; the page may
// simply not have a player yet.
type Controller struct {
	pageID   string
	doc      *dom.Document
	cfg      *config.Config
	settings *config.RuntimeSettingsStore
	journal  history.Recorder
	factory  TranslatorFactory
	stats    *Stats

	mu      sync.Mutex
	session *Session

	restartCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

type ControllerOption func(*Controller)

// WithJournal records every translation outcome to the history store.
func WithJournal(journal history.Recorder) ControllerOption {
	return func(c *Controller) {
		c.journal = journal
	}
}

// WithTranslatorFactory replaces the default gtx client, mainly for tests.
func WithTranslatorFactory(factory TranslatorFactory) ControllerOption {
	return func(c *Controller) {
		c.factory = factory
	}
}

func NewController(pageID string, doc *dom.Document, cfg *config.Config, settings *config.RuntimeSettingsStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		pageID:    pageID,
		doc:       doc,
		cfg:       cfg,
		settings:  settings,
		stats:     &Stats{},
		restartCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.factory == nil {
		c.factory = c.defaultFactory
	}
	return c
}

func (c *Controller) defaultFactory(settings config.RuntimeSettings) (Translator, error) {
	source, err := language.Parse(settings.SourceLanguage)
	if err != nil {
		return nil, WrapError(err, ErrTranslation, "invalid source language")
	}
	target, err := language.Parse(settings.TargetLanguage)
	if err != nil {
		return nil, WrapError(err, ErrTranslation, "invalid target language")
	}
	return translate.NewClient(translate.Config{
		APIURL:         settings.TranslateAPIURL,
		SourceLanguage: source,
		TargetLanguage: target,
		Timeout:        c.cfg.Translate.Timeout,
	})
}

// Run drives the session loop until the context ends or Stop is called.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)

	for {
		session, err := c.initialize(ctx)
		if err != nil {
			if ctx.Err() != nil || c.stopped() {
				return
			}
			log.Warn("Page %s: initialization failed: %v; retrying in %s", c.pageID, err, c.cfg.Overlay.RetryDelay)
			if !c.sleep(ctx, c.cfg.Overlay.RetryDelay) {
				return
			}
			continue
		}

		c.setSession(session)
		log.Info("Page %s: session %s started for %s", c.pageID, session.ID, session.URL)

		select {
		case <-ctx.Done():
			c.teardown()
			return
		case <-c.stopCh:
			c.teardown()
			return
		case <-c.restartCh:
			c.stats.restarts.Add(1)
			log.Info("Page %s: navigation detected, restarting after settle", c.pageID)
			if !c.sleep(ctx, c.cfg.Overlay.SettleDelay) {
				c.teardown()
				return
			}
			// Teardown first: once the old navigation observer is gone, any
			// still-queued restart is stale, and the rebuild reads the fresh
			// location anyway.
			c.teardown()
			c.drainRestarts()
		}
	}
}

// Stop ends the loop and tears the current session down. Safe to call more
// than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.done
}

// NotifyNavigation is the external navigation signal: history API jumps the
// shim reports explicitly, including back/forward traversals that restore a
// snapshot without much DOM churn.
func (c *Controller) NotifyNavigation(url string) {
	if url != "" {
		c.doc.SetLocation(url)
	}
	c.RequestRestart()
}

// RequestRestart schedules a teardown and rebuild. Multiple requests before
// the loop reacts collapse into one restart.
func (c *Controller) RequestRestart() {
	select {
	case c.restartCh <- struct{}{}:
	default:
	}
}

func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// initialize waits for the caption container and assembles a fresh session
// around it. Only the container is load-bearing: a missing playback control
// degrades to a session that translates but cannot be pause-triggered.
func (c *Controller) initialize(ctx context.Context) (*Session, error) {
	container, err := dom.WaitForElement(ctx, c.doc, c.cfg.Player.ContainerSelector, c.cfg.Overlay.ContainerTimeout)
	if err != nil {
		return nil, WrapError(err, ErrTimeout, "caption container not found").
			WithContext("selector", c.cfg.Player.ContainerSelector)
	}

	settings, err := c.runtimeSettings()
	if err != nil {
		return nil, WrapError(err, ErrSession, "read runtime settings")
	}
	translator, err := c.factory(settings)
	if err != nil {
		return nil, WrapError(err, ErrTranslation, "build translator")
	}

	source := c.cfg.Translate.SourceLanguage
	if tag, perr := language.Parse(settings.SourceLanguage); perr == nil {
		source = tag
	}
	target := c.cfg.Translate.TargetLanguage
	if tag, perr := language.Parse(settings.TargetLanguage); perr == nil {
		target = tag
	}

	session := &Session{
		ID:        uuid.NewString(),
		PageID:    c.pageID,
		URL:       c.doc.Location(),
		StartedAt: time.Now(),
		stats:     c.stats,
		observers: make(map[string]*dom.Observer),
	}

	store := cache.New()
	session.cache = store
	session.dispatcher = NewDispatcher(DispatcherConfig{
		SessionID: session.ID,
		PageID:    c.pageID,
		PageURL:   session.URL,
		Workers:   c.cfg.Overlay.Workers,
		Source:    source,
		Target:    target,
	}, translator, store, c.journal, c.stats, session.Refresh)
	session.renderer = NewRenderer(c.doc, c.cfg.Player, target, store, container, c.stats)

	watcher := NewCaptionWatcher(c.doc, c.cfg.Player, source, store, session.dispatcher, c.stats, session.Refresh)
	session.track(watcher.Observe(container))

	control, err := dom.WaitForElement(ctx, c.doc, c.cfg.Player.ControlSelector, c.cfg.Overlay.ControlTimeout)
	if err != nil {
		log.Warn("Page %s: playback control not found (%v); continuing without pause events", c.pageID, err)
	} else {
		playback := NewPlaybackWatcher(c.doc, c.cfg.Player, session.Refresh)
		session.track(playback.Observe(control))
		session.ControlAttached = true
	}

	session.track(c.observeNavigation(session))

	// The page can navigate while the waits above are in flight, leaving a
	// container that is no longer in the document. Fail into the retry path.
	if !c.doc.Contains(container) {
		session.Close()
		return nil, NewError(ErrSession, "caption container detached during initialization")
	}

	watcher.Sweep(container)
	session.Refresh()
	return session, nil
}

// observeNavigation watches document-wide churn and compares the recorded
// location against the session's. Snapshot replacements keep the root node,
// so this subscription sees the churn that replaces everything under it.
func (c *Controller) observeNavigation(session *Session) *dom.Observer {
	return c.doc.Observe(c.doc.Root(), dom.ObserveOptions{
		ChildList: true,
		Subtree:   true,
	}, func(dom.Batch) {
		if c.doc.Location() != session.URL {
			c.RequestRestart()
		}
	})
}

func (c *Controller) runtimeSettings() (config.RuntimeSettings, error) {
	if c.settings == nil {
		return c.cfg.RuntimeSettings(), nil
	}
	return c.settings.GetRuntimeSettings()
}

func (c *Controller) setSession(session *Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

func (c *Controller) teardown() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
}

// sleep waits out d, returning false when the controller should exit instead
// of continuing its loop.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	}
}

func (c *Controller) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Controller) drainRestarts() {
	for {
		select {
		case <-c.restartCh:
		default:
			return
		}
	}
}
