package overlay

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/MimeLyc/live-caption-translator/internal/dom"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Event is one DOM mutation reported by the page shim. Nodes are addressed by
// the data-ov-id attribute the shim stamps on every element it reports.
type Event struct {
	Op       string `json:"op"`
	ID       string `json:"id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	RefID    string `json:"ref_id,omitempty"`
	HTML     string `json:"html,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}

const (
	EventInsert   = "insert"
	EventRemove   = "remove"
	EventSetAttr  = "set_attr"
	EventSetText  = "set_text"
	EventNavigate = "navigate"
)

// ApplyResult reports how much of an event batch landed.
type ApplyResult struct {
	Applied int      `json:"applied"`
	Errors  []string `json:"errors,omitempty"`
}

// ApplyEvents replays shim mutations into the mirror, best effort: one bad
// event is reported and skipped, the rest still land. Events are applied in
// order, so the mirror converges on what the shim saw.
func (p *Page) ApplyEvents(events []Event) ApplyResult {
	result := ApplyResult{}
	for i, ev := range events {
		if err := p.applyEvent(ev); err != nil {
			log.Warn("Page %s: event %d (%s) rejected: %v", p.ID, i, ev.Op, err)
			result.Errors = append(result.Errors, fmt.Sprintf("event %d (%s): %v", i, ev.Op, err))
			continue
		}
		result.Applied++
	}
	return result
}

func (p *Page) applyEvent(ev Event) error {
	switch ev.Op {
	case EventInsert:
		return p.applyInsert(ev)
	case EventRemove:
		node, err := p.nodeByID(ev.ID)
		if err != nil {
			return err
		}
		return p.Doc.Remove(node)
	case EventSetAttr:
		node, err := p.nodeByID(ev.ID)
		if err != nil {
			return err
		}
		if ev.Name == "" {
			return fmt.Errorf("set_attr requires a name")
		}
		p.Doc.SetAttribute(node, ev.Name, ev.Value)
		return nil
	case EventSetText:
		node, err := p.nodeByID(ev.ID)
		if err != nil {
			return err
		}
		p.Doc.SetText(node, ev.Text)
		return nil
	case EventNavigate:
		return p.applyNavigate(ev)
	default:
		return fmt.Errorf("unknown op %q", ev.Op)
	}
}

func (p *Page) applyInsert(ev Event) error {
	parent, err := p.nodeByID(ev.ParentID)
	if err != nil {
		return err
	}

	var ref *html.Node
	if ev.RefID != "" {
		ref, err = p.nodeByID(ev.RefID)
		if err != nil {
			return err
		}
	}

	nodes, err := dom.ParseFragment(ev.HTML, parent)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("insert carried no nodes")
	}

	for _, node := range nodes {
		if err := p.Doc.InsertBefore(parent, node, ref); err != nil {
			return err
		}
	}
	return nil
}

// applyNavigate rebinds the mirror to a new location. A snapshot, when
// present, replaces the whole tree; either way the controller is told so it
// can cycle the session. This is also the path history traversals take when
// they restore a page without enough churn to notice otherwise.
func (p *Page) applyNavigate(ev Event) error {
	if ev.URL == "" {
		return fmt.Errorf("navigate requires a url")
	}

	p.Doc.SetLocation(ev.URL)
	if ev.Snapshot != "" {
		if err := p.Doc.ReplaceContent(ev.Snapshot); err != nil {
			return err
		}
	}
	p.Controller.NotifyNavigation(ev.URL)
	return nil
}

func (p *Page) nodeByID(id string) (*html.Node, error) {
	if id == "" {
		return nil, fmt.Errorf("missing node id")
	}
	node := p.Doc.QuerySelector(fmt.Sprintf("[data-ov-id=%q]", id))
	if node == nil {
		return nil, fmt.Errorf("no node with data-ov-id %q", id)
	}
	return node, nil
}
