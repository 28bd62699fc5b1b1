// Package dom maintains an in-process mirror of the host page: an html tree
// with selector queries, recorded mutations, and MutationObserver-style
// subscriptions. Batches are delivered in mutation order; mutations performed
// inside a handler are queued and dispatched after the current batch, never
// recursively.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

type delivery struct {
	obs   *Observer
	batch Batch
}

// Document owns the mirrored tree. All reads and writes go through its
// methods; the internal mutex is the single-writer guarantee the pipeline
// relies on. The mutex is never held while an observer handler runs.
type Document struct {
	mu          sync.Mutex
	root        *html.Node
	location    string
	observers   []*Observer
	queue       []delivery
	dispatching bool
	nextObsID   uint64
	seq         uint64
	revision    uint64
}

// Parse builds a Document from an HTML snapshot.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{root: root}, nil
}

func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFragment parses an HTML fragment in the context of the given parent
// element, the way innerHTML insertion would.
func ParseFragment(fragment string, parent *html.Node) ([]*html.Node, error) {
	context := parent
	if context == nil || context.Type != html.ElementNode {
		context = &html.Node{Type: html.ElementNode, Data: "body"}
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

func (d *Document) Root() *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

func (d *Document) Location() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location
}

// SetLocation records the page URL. It is not a mutation: SPA navigations
// announce themselves through the DOM churn that accompanies them, and the
// navigation observer re-reads the location on each batch.
func (d *Document) SetLocation(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = url
}

// Revision counts mutations applied to the document.
func (d *Document) Revision() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

func (d *Document) ObserverCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// Observe registers a mutation subscription rooted at target. The handler
// runs on the mutating goroutine, outside the document lock.
func (d *Document) Observe(target *html.Node, opts ObserveOptions, handler Handler) *Observer {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextObsID++
	obs := &Observer{
		id:      d.nextObsID,
		doc:     d,
		target:  target,
		opts:    opts,
		handler: handler,
	}
	d.observers = append(d.observers, obs)
	return obs
}

func (d *Document) disconnect(o *Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if o.disconnected {
		return
	}
	o.disconnected = true
	for i, obs := range d.observers {
		if obs == o {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			break
		}
	}
}

// record fans one mutation out to the matching observers and bumps the
// revision. Caller holds d.mu.
func (d *Document) record(recs ...Record) {
	d.revision++
	d.seq++
	for _, obs := range d.observers {
		if matched := obs.wants(recs); len(matched) > 0 {
			d.queue = append(d.queue, delivery{
				obs:   obs,
				batch: Batch{Seq: d.seq, Records: matched},
			})
		}
	}
}

// dispatch drains queued deliveries in order. Caller holds d.mu; the lock is
// released around each handler call. Nested mutations from handlers enqueue
// and return immediately; the outermost dispatch drains them.
func (d *Document) dispatch() {
	if d.dispatching {
		return
	}
	d.dispatching = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		if next.obs.disconnected {
			continue
		}
		handler := next.obs.handler
		d.mu.Unlock()
		handler(next.batch)
		d.mu.Lock()
	}
	d.dispatching = false
}

// --- queries ---

func (d *Document) QuerySelector(selector string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := goquery.NewDocumentFromNode(d.root).Find(selector)
	if len(sel.Nodes) == 0 {
		return nil
	}
	return sel.Nodes[0]
}

func (d *Document) QuerySelectorAll(selector string) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := goquery.NewDocumentFromNode(d.root).Find(selector)
	return append([]*html.Node(nil), sel.Nodes...)
}

// QuerySelectorAllFrom queries within the subtree rooted at n. The root itself
// is never part of the result, matching querySelectorAll scoping.
func (d *Document) QuerySelectorAllFrom(n *html.Node, selector string) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n == nil {
		return nil
	}
	sel := goquery.NewDocumentFromNode(n).Find(selector)
	return append([]*html.Node(nil), sel.Nodes...)
}

// Matches reports whether n itself matches the selector. Ancestor combinators
// see n's real position in the tree.
func (d *Document) Matches(n *html.Node, selector string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !isElement(n) {
		return false
	}
	return goquery.NewDocumentFromNode(n).Is(selector)
}

func (d *Document) Contains(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return isDescendant(d.root, n)
}

func (d *Document) Attribute(n *html.Node, name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return getAttr(n, name)
}

func (d *Document) HasClass(n *html.Node, class string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return hasClass(n, class)
}

func (d *Document) Text(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return textContent(n)
}

func (d *Document) ParentOf(n *html.Node) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return n.Parent
}

func (d *Document) PrevElementSibling(n *html.Node) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return prevElementSibling(n)
}

func (d *Document) NextElementSibling(n *html.Node) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return nextElementSibling(n)
}

// AttributeOnSelfOrAncestor walks from n to the root looking for the named
// attribute, returning the nearest value.
func (d *Document) AttributeOnSelfOrAncestor(n *html.Node, name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if val, ok := getAttr(cur, name); ok {
			return val, true
		}
	}
	return "", false
}

func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return renderNode(d.root)
}

func (d *Document) RenderNode(n *html.Node) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return renderNode(n)
}

func renderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("render node: %w", err)
	}
	return buf.String(), nil
}

// --- mutations ---

// CreateElement builds a detached element. Attaching it via InsertBefore or
// AppendChild is what produces the mutation record.
func (d *Document) CreateElement(tag string, attrs map[string]string) *html.Node {
	return newElement(tag, attrs)
}

// InsertBefore attaches node as a child of parent, immediately before ref.
// A nil ref appends. The node must be detached.
func (d *Document) InsertBefore(parent, node, ref *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if parent == nil || node == nil {
		return fmt.Errorf("insert: nil parent or node")
	}
	if node.Parent != nil {
		return fmt.Errorf("insert: node is already attached")
	}
	if ref != nil && ref.Parent != parent {
		return fmt.Errorf("insert: reference node is not a child of parent")
	}

	if ref == nil {
		parent.AppendChild(node)
	} else {
		parent.InsertBefore(node, ref)
	}

	d.record(Record{Type: RecordChildList, Target: parent, Added: []*html.Node{node}})
	d.dispatch()
	return nil
}

func (d *Document) AppendChild(parent, node *html.Node) error {
	return d.InsertBefore(parent, node, nil)
}

// Remove detaches node from its parent.
func (d *Document) Remove(node *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if node == nil || node.Parent == nil {
		return fmt.Errorf("remove: node is not attached")
	}

	parent := node.Parent
	detachNode(node)

	d.record(Record{Type: RecordChildList, Target: parent, Removed: []*html.Node{node}})
	d.dispatch()
	return nil
}

func (d *Document) SetAttribute(n *html.Node, name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old, _ := getAttr(n, name)
	setAttr(n, name, value)

	d.record(Record{Type: RecordAttributes, Target: n, AttributeName: name, OldValue: old})
	d.dispatch()
}

func (d *Document) RemoveAttribute(n *html.Node, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old, ok := getAttr(n, name)
	if !ok {
		return
	}
	removeAttr(n, name)

	d.record(Record{Type: RecordAttributes, Target: n, AttributeName: name, OldValue: old})
	d.dispatch()
}

// SetText replaces n's children with a single text node.
func (d *Document) SetText(n *html.Node, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := textContent(n)
	removeAllChildren(n)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})

	d.record(Record{Type: RecordCharacterData, Target: n, OldValue: old})
	d.dispatch()
}

// ReplaceContent swaps the whole document body for a fresh snapshot while
// keeping the same root node, so document-level observers survive. Used when
// a navigation ships a new page snapshot.
func (d *Document) ReplaceContent(snapshot string) error {
	parsed, err := html.Parse(strings.NewReader(snapshot))
	if err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := removeAllChildren(d.root)

	var added []*html.Node
	for parsed.FirstChild != nil {
		child := parsed.FirstChild
		parsed.RemoveChild(child)
		d.root.AppendChild(child)
		added = append(added, child)
	}

	d.record(Record{Type: RecordChildList, Target: d.root, Added: added, Removed: removed})
	d.dispatch()
	return nil
}
