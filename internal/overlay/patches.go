package overlay

import (
	"sync"

	"golang.org/x/net/html"

	"github.com/MimeLyc/live-caption-translator/internal/dom"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// PatchOp is one instruction for the page shim: replay a mirror mutation
// against the real DOM. Elements are addressed by their data-ov-id attribute.
type PatchOp struct {
	Op       string `json:"op"`
	ID       string `json:"id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	RefID    string `json:"ref_id,omitempty"`
	HTML     string `json:"html,omitempty"`
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
}

const (
	PatchInsertBefore = "insert_before"
	PatchSetText      = "set_text"
	PatchSetAttr      = "set_attr"
)

// PatchFeed streams overlay-made mutations to subscribed shims. Only
// translated elements are reported: everything else in the mirror is an echo
// of the real page and replaying it would loop. Removals are never emitted;
// the player owns the lifetime of its caption area in the real DOM.
//
// The feed is page-scoped and its observer survives session restarts, so a
// shim keeps one event stream across navigations.
type PatchFeed struct {
	doc             *dom.Document
	translatedClass string

	mu     sync.Mutex
	subs   map[uint64]chan PatchOp
	nextID uint64
	closed bool
}

func NewPatchFeed(doc *dom.Document, translatedClass string) *PatchFeed {
	return &PatchFeed{
		doc:             doc,
		translatedClass: translatedClass,
		subs:            make(map[uint64]chan PatchOp),
	}
}

// Observe attaches the feed to the whole document.
func (f *PatchFeed) Observe() *dom.Observer {
	return f.doc.Observe(f.doc.Root(), dom.ObserveOptions{
		ChildList:     true,
		Subtree:       true,
		Attributes:    true,
		CharacterData: true,
	}, f.handleBatch)
}

func (f *PatchFeed) Subscribe() (uint64, <-chan PatchOp) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	ch := make(chan PatchOp, 64)
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subs[id] = ch
	return id, ch
}

func (f *PatchFeed) Unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Close ends every subscription. Detaching the page calls it after the feed
// observer is disconnected.
func (f *PatchFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *PatchFeed) handleBatch(batch dom.Batch) {
	for _, rec := range batch.Records {
		switch rec.Type {
		case dom.RecordChildList:
			for _, added := range rec.Added {
				if !f.ours(added) {
					continue
				}
				f.publishInsert(rec.Target, added)
			}
		case dom.RecordAttributes:
			if !f.ours(rec.Target) {
				continue
			}
			value, _ := f.doc.Attribute(rec.Target, rec.AttributeName)
			f.publish(PatchOp{
				Op:    PatchSetAttr,
				ID:    f.elementID(rec.Target),
				Name:  rec.AttributeName,
				Value: value,
			})
		case dom.RecordCharacterData:
			if !f.ours(rec.Target) {
				continue
			}
			f.publish(PatchOp{
				Op:   PatchSetText,
				ID:   f.elementID(rec.Target),
				Text: f.doc.Text(rec.Target),
			})
		}
	}
}

func (f *PatchFeed) ours(n *html.Node) bool {
	return f.doc.HasClass(n, f.translatedClass)
}

func (f *PatchFeed) elementID(n *html.Node) string {
	id, _ := f.doc.Attribute(n, "data-ov-id")
	return id
}

func (f *PatchFeed) publishInsert(parent, added *html.Node) {
	rendered, err := f.doc.RenderNode(added)
	if err != nil {
		log.Error("Failed to render patch element: %v", err)
		return
	}

	op := PatchOp{
		Op:       PatchInsertBefore,
		ID:       f.elementID(added),
		ParentID: f.elementID(parent),
		HTML:     rendered,
	}
	if next := f.doc.NextElementSibling(added); next != nil {
		op.RefID = f.elementID(next)
	}
	f.publish(op)
}

// publish never blocks the mutation pipeline: a subscriber that stopped
// draining loses patches and is expected to resync from a fresh snapshot.
func (f *PatchFeed) publish(op PatchOp) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subs {
		select {
		case ch <- op:
		default:
			log.Warn("Patch subscriber %d is not draining; dropping %s", id, op.Op)
		}
	}
}
