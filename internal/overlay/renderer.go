package overlay

import (
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/google/uuid"

	"github.com/MimeLyc/live-caption-translator/internal/cache"
	"github.com/MimeLyc/live-caption-translator/internal/captions"
	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/dom"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Renderer paints ready translations under their captions, but only while the
// player is paused. Pause state is read fresh on every pass, never cached.
//
// A caption whose translation is still pending keeps whatever the overlay
// rendered for it before; text is written, updated, or left alone, never
// blanked.
type Renderer struct {
	doc       *dom.Document
	player    config.PlayerConfig
	target    language.Tag
	cache     *cache.TranslationCache
	container *html.Node
	stats     *Stats
}

func NewRenderer(doc *dom.Document, player config.PlayerConfig, target language.Tag, store *cache.TranslationCache, container *html.Node, stats *Stats) *Renderer {
	return &Renderer{
		doc:       doc,
		player:    player,
		target:    target,
		cache:     store,
		container: container,
		stats:     stats,
	}
}

// Refresh runs one render pass. It is idempotent: a second pass over an
// unchanged document writes nothing.
func (r *Renderer) Refresh() {
	if !r.paused() {
		return
	}

	for _, caption := range r.doc.QuerySelectorAllFrom(r.container, r.player.ParagraphSelector) {
		n := caption
		err := SafeExecute(func() error {
			return r.renderCaption(n)
		})
		if err != nil {
			r.stats.renderErrors.Add(1)
			log.Warn("Render failed for caption: %v", err)
		}
	}
}

// paused re-reads the playback control on every call. A missing control means
// not paused: without a trustworthy pause signal the overlay writes nothing.
func (r *Renderer) paused() bool {
	control := r.doc.QuerySelector(r.player.ControlSelector)
	if control == nil {
		return false
	}
	return r.doc.HasClass(control, r.player.PausedClass)
}

func (r *Renderer) renderCaption(n *html.Node) error {
	if !r.doc.Contains(n) {
		return nil
	}
	if r.doc.HasClass(n, r.player.TranslatedClass) {
		return nil
	}

	text := captions.Normalize(r.doc.Text(n))
	if text == "" {
		return nil
	}

	entry, ok := r.cache.Get(text)
	if !ok || entry.State != cache.StateReady {
		return nil
	}

	slot := r.translatedSlot(n)
	if slot == nil {
		created, err := r.createSlot(n)
		if err != nil {
			return WrapError(err, ErrRender, "create translated element").WithContext("text", text)
		}
		slot = created
	}

	if r.doc.Text(slot) != entry.Text {
		r.doc.SetText(slot, entry.Text)
		r.stats.rendered.Add(1)
	}
	return nil
}

// translatedSlot returns the overlay element already paired with this
// caption, keyed purely by adjacency: the immediately preceding element
// sibling, when it is ours.
func (r *Renderer) translatedSlot(n *html.Node) *html.Node {
	prev := r.doc.PrevElementSibling(n)
	if prev != nil && r.doc.HasClass(prev, r.player.TranslatedClass) {
		return prev
	}
	return nil
}

func (r *Renderer) createSlot(n *html.Node) (*html.Node, error) {
	parent := r.doc.ParentOf(n)
	if parent == nil {
		return nil, NewError(ErrRender, "caption has no parent")
	}

	attrs := map[string]string{
		"class":      r.player.TranslatedClass,
		"data-ov-id": uuid.NewString(),
	}
	attrs[r.player.LanguageAttribute] = r.target.String()

	slot := r.doc.CreateElement(n.Data, attrs)
	if err := r.doc.InsertBefore(parent, slot, n); err != nil {
		return nil, err
	}
	return slot, nil
}
