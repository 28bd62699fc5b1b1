package overlay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/dom"
	"github.com/MimeLyc/live-caption-translator/internal/history"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

const maxPages = 64

// Page is one attached browser page: its mirrored document, the lifecycle
// controller running against it, and the patch feed its shim listens to.
type Page struct {
	ID        string
	URL       string
	CreatedAt time.Time

	Doc        *dom.Document
	Controller *Controller
	Feed       *PatchFeed

	feedObs *dom.Observer
	cancel  context.CancelFunc
}

// PageStatus is the JSON shape of one page in the status report.
type PageStatus struct {
	PageID    string         `json:"page_id"`
	URL       string         `json:"url"`
	CreatedAt time.Time      `json:"created_at"`
	Stats     StatsSnapshot  `json:"stats"`
	Session   *SessionStatus `json:"session,omitempty"`
}

// Manager owns every attached page. It reacts to settings changes and is the
// body of the scheduled report job.
type Manager struct {
	cfg      *config.Config
	settings *config.RuntimeSettingsStore
	store    history.Store

	mu    sync.RWMutex
	pages map[string]*Page

	cron        *cron.Cron
	cronExpr    string
	reportEntry cron.EntryID
	reportRun   func()

	group singleflight.Group
}

func NewManager(cfg *config.Config, settings *config.RuntimeSettingsStore, store history.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		settings: settings,
		store:    store,
		pages:    make(map[string]*Page),
	}
}

// Attach mirrors a page snapshot and starts its overlay lifecycle.
func (m *Manager) Attach(pageURL, snapshot string) (*Page, error) {
	if strings.TrimSpace(pageURL) == "" {
		return nil, NewError(ErrSession, "page url is required")
	}
	if strings.TrimSpace(snapshot) == "" {
		return nil, NewError(ErrSession, "page snapshot is required")
	}

	doc, err := dom.ParseString(snapshot)
	if err != nil {
		return nil, WrapError(err, ErrSession, "parse page snapshot")
	}
	doc.SetLocation(pageURL)

	id := uuid.NewString()
	feed := NewPatchFeed(doc, m.cfg.Player.TranslatedClass)

	opts := []ControllerOption{}
	if m.store != nil {
		opts = append(opts, WithJournal(m.store))
	}
	controller := NewController(id, doc, m.cfg, m.settings, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	page := &Page{
		ID:         id,
		URL:        pageURL,
		CreatedAt:  time.Now(),
		Doc:        doc,
		Controller: controller,
		Feed:       feed,
		feedObs:    feed.Observe(),
		cancel:     cancel,
	}

	m.mu.Lock()
	if len(m.pages) >= maxPages {
		m.mu.Unlock()
		cancel()
		page.feedObs.Disconnect()
		feed.Close()
		return nil, NewError(ErrSession, fmt.Sprintf("page limit reached (%d)", maxPages))
	}
	m.pages[id] = page
	m.mu.Unlock()

	go controller.Run(ctx)
	log.Info("Attached page %s for %s", id, pageURL)
	return page, nil
}

func (m *Manager) Get(id string) (*Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[id]
	return page, ok
}

func (m *Manager) List() []*Page {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pages := make([]*Page, 0, len(m.pages))
	for _, page := range m.pages {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].CreatedAt.Before(pages[j].CreatedAt)
	})
	return pages
}

// Detach tears the page down: controller loop, session, patch feed.
func (m *Manager) Detach(id string) error {
	m.mu.Lock()
	page, ok := m.pages[id]
	if ok {
		delete(m.pages, id)
	}
	m.mu.Unlock()

	if !ok {
		return NewError(ErrSession, "unknown page").WithContext("page_id", id)
	}

	page.cancel()
	page.Controller.Stop()
	page.feedObs.Disconnect()
	page.Feed.Close()
	log.Info("Detached page %s", id)
	return nil
}

// Shutdown detaches every page.
func (m *Manager) Shutdown() {
	for _, page := range m.List() {
		if err := m.Detach(page.ID); err != nil {
			log.Error("Failed to detach page %s: %v", page.ID, err)
		}
	}
}

// ApplySettings reacts to already-persisted runtime settings: the report job
// is rescheduled if the cron expression changed and every page is restarted so
// the next sessions pick the new language pair up. Cached translations die
// with the old sessions; a new language pair must never reuse them.
func (m *Manager) ApplySettings(saved config.RuntimeSettings) error {
	m.reschedule(saved.CronExpr)
	m.RestartAll()
	return nil
}

// RestartAll coalesces concurrent restart storms into one pass.
func (m *Manager) RestartAll() {
	_, _, _ = m.group.Do("restart-all", func() (any, error) {
		for _, page := range m.List() {
			page.Controller.RequestRestart()
		}
		return nil, nil
	})
}

// Schedule registers the periodic report and retention sweep.
func (m *Manager) Schedule(ctx context.Context, c *cron.Cron) error {
	runFunc := func() {
		_, _, _ = m.group.Do("report", func() (any, error) {
			m.report(ctx)
			m.runRetention(ctx)
			return nil, nil
		})
	}
	entryID, err := c.AddFunc(m.cfg.Translate.CronExpr, runFunc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cron = c
	m.cronExpr = m.cfg.Translate.CronExpr
	m.reportEntry = entryID
	m.reportRun = runFunc
	m.mu.Unlock()
	return nil
}

// ReportSchedule returns the report job's current cron expression, if one is
// registered.
func (m *Manager) ReportSchedule() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cronExpr, m.cron != nil
}

// reschedule moves the report job to a new cron expression. Add before remove:
// an expression the engine rejects must not cost the existing entry.
func (m *Manager) reschedule(expr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron == nil || expr == "" || expr == m.cronExpr {
		return
	}
	entryID, err := m.cron.AddFunc(expr, m.reportRun)
	if err != nil {
		log.Error("Failed to reschedule report job to %q: %v", expr, err)
		return
	}
	m.cron.Remove(m.reportEntry)
	m.reportEntry = entryID
	m.cronExpr = expr
	log.Info("Report job rescheduled to %q", expr)
}

func (m *Manager) report(ctx context.Context) {
	pages := m.List()
	log.Info("Overlay report: %d attached pages", len(pages))
	for _, page := range pages {
		stats := page.Controller.Stats()
		log.Info("Page %s (%s): seen=%d submitted=%d duplicates=%d ok=%d failed=%d empty=%d rendered=%d restarts=%d",
			page.ID, page.URL,
			stats.CaptionsSeen, stats.Submitted, stats.Duplicates,
			stats.TranslationsOK, stats.TranslationsFailed, stats.TranslationsEmpty,
			stats.Rendered, stats.Restarts)
	}

	if m.store == nil {
		return
	}
	counts, err := m.store.CountByOutcome(ctx)
	if err != nil {
		log.Error("Failed to count journal outcomes: %v", err)
		return
	}
	log.Info("Journal outcomes: %v", counts)
}

func (m *Manager) runRetention(ctx context.Context) {
	if m.store == nil {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.History.RetentionDays)
	removed, err := m.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		log.Error("Failed to prune history: %v", err)
		return
	}
	if removed > 0 {
		log.Info("Pruned %d history records older than %s", removed, cutoff.Format(time.RFC3339))
	}
}

// Status reports the page: aggregate stats plus the live session, if any.
func (p *Page) Status() PageStatus {
	status := PageStatus{
		PageID:    p.ID,
		URL:       p.URL,
		CreatedAt: p.CreatedAt,
		Stats:     p.Controller.Stats(),
	}
	if session := p.Controller.Session(); session != nil {
		s := session.Status()
		status.Session = &s
	}
	return status
}

// StatusSnapshot reports every page for the status endpoint.
func (m *Manager) StatusSnapshot() []PageStatus {
	pages := m.List()
	out := make([]PageStatus, 0, len(pages))
	for _, page := range pages {
		out = append(out, page.Status())
	}
	return out
}
