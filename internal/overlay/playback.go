package overlay

import (
	"golang.org/x/net/html"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/dom"
)

// PlaybackWatcher triggers a render pass whenever the player flips into the
// paused state. The class list is re-read from the control at handling time,
// so a pause that un-pauses before the batch arrives is a no-op. Resuming
// playback triggers nothing: translated text is left in place, never blanked.
type PlaybackWatcher struct {
	doc     *dom.Document
	player  config.PlayerConfig
	control *html.Node
	onPause func()
}

func NewPlaybackWatcher(doc *dom.Document, player config.PlayerConfig, onPause func()) *PlaybackWatcher {
	return &PlaybackWatcher{
		doc:     doc,
		player:  player,
		onPause: onPause,
	}
}

func (p *PlaybackWatcher) Observe(control *html.Node) *dom.Observer {
	p.control = control
	return p.doc.Observe(control, dom.ObserveOptions{
		Attributes:      true,
		AttributeFilter: []string{"class"},
	}, p.handleBatch)
}

func (p *PlaybackWatcher) handleBatch(dom.Batch) {
	if p.doc.HasClass(p.control, p.player.PausedClass) && p.onPause != nil {
		p.onPause()
	}
}
