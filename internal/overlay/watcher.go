package overlay

import (
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/internal/cache"
	"github.com/MimeLyc/live-caption-translator/internal/captions"
	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/dom"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// CaptionWatcher turns caption-container mutations into translation work.
// Every added node runs through the same gauntlet: language gate, processed
// marker, normalization, then the cache reservation that guarantees a text is
// dispatched at most once per session.
type CaptionWatcher struct {
	doc        *dom.Document
	player     config.PlayerConfig
	source     language.Tag
	cache      *cache.TranslationCache
	dispatcher *Dispatcher
	stats      *Stats
	onCaption  func()
}

func NewCaptionWatcher(doc *dom.Document, player config.PlayerConfig, source language.Tag, store *cache.TranslationCache, dispatcher *Dispatcher, stats *Stats, onCaption func()) *CaptionWatcher {
	return &CaptionWatcher{
		doc:        doc,
		player:     player,
		source:     source,
		cache:      store,
		dispatcher: dispatcher,
		stats:      stats,
		onCaption:  onCaption,
	}
}

// Observe subscribes the watcher to child-list churn under the caption
// container. Caption cues are always added as nodes, so attribute and text
// mutations are not requested.
func (w *CaptionWatcher) Observe(container *html.Node) *dom.Observer {
	return w.doc.Observe(container, dom.ObserveOptions{
		ChildList: true,
		Subtree:   true,
	}, w.handleBatch)
}

// Sweep processes the captions already under the container. Observe only sees
// future mutations, so a session attaching mid-stream runs one sweep first.
func (w *CaptionWatcher) Sweep(container *html.Node) {
	for _, caption := range w.doc.QuerySelectorAllFrom(container, w.player.ParagraphSelector) {
		w.processCaption(caption)
	}
}

func (w *CaptionWatcher) handleBatch(batch dom.Batch) {
	saw := false
	for _, rec := range batch.Records {
		for _, added := range rec.Added {
			for _, caption := range w.captionCandidates(added) {
				saw = true
				w.processCaption(caption)
			}
		}
	}

	// A cue that was translated in an earlier appearance renders on the next
	// refresh, so one pass after the batch keeps paused frames current.
	if saw && w.onCaption != nil {
		w.onCaption()
	}
}

// captionCandidates resolves an added node to the caption elements inside it.
// Players add either the cue element itself or a wrapper holding several.
func (w *CaptionWatcher) captionCandidates(added *html.Node) []*html.Node {
	var out []*html.Node
	if w.doc.Matches(added, w.player.ParagraphSelector) {
		out = append(out, added)
	}
	out = append(out, w.doc.QuerySelectorAllFrom(added, w.player.ParagraphSelector)...)
	return out
}

func (w *CaptionWatcher) processCaption(n *html.Node) {
	if w.doc.HasClass(n, w.player.TranslatedClass) {
		return
	}
	w.stats.captionsSeen.Add(1)

	langValue, ok := w.doc.AttributeOnSelfOrAncestor(n, w.player.LanguageAttribute)
	if !ok || !captions.MatchesLanguage(langValue, w.source) {
		w.stats.skipped.Add(1)
		return
	}

	text := captions.Normalize(w.doc.Text(n))
	if text == "" {
		w.stats.skipped.Add(1)
		return
	}

	if _, processed := w.doc.Attribute(n, w.player.ProcessedMarker); processed {
		w.stats.duplicates.Add(1)
		return
	}
	w.doc.SetAttribute(n, w.player.ProcessedMarker, "true")

	// Reserve before dispatch: the reservation is what makes a concurrent
	// sighting of the same text a duplicate instead of a second request.
	if !w.cache.MarkPending(text) {
		w.stats.duplicates.Add(1)
		return
	}
	w.stats.submitted.Add(1)

	if !w.dispatcher.Submit(text) {
		log.Warn("Dispatcher stopped; caption %q stays pending", text)
	}
}
