package dom

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

type RecordType string

const (
	RecordChildList     RecordType = "childList"
	RecordAttributes    RecordType = "attributes"
	RecordCharacterData RecordType = "characterData"
)

// Record describes one observed mutation. For childList records Target is the
// parent whose child list changed; for attribute and characterData records it
// is the element itself.
type Record struct {
	Type          RecordType
	Target        *html.Node
	Added         []*html.Node
	Removed       []*html.Node
	AttributeName string
	OldValue      string
}

// Batch is the unit of delivery: every record produced by one document
// mutation, filtered down to what the receiving observer asked for. Seq is
// monotonically increasing per document, so handlers can assert ordering.
type Batch struct {
	Seq     uint64
	Records []Record
}

// ObserveOptions selects which mutations an observer receives, mirroring the
// options of a DOM MutationObserver.
type ObserveOptions struct {
	ChildList       bool
	Subtree         bool
	Attributes      bool
	AttributeFilter []string
	CharacterData   bool
}

// Key canonicalizes the options for same-target duplicate detection.
func (o ObserveOptions) Key() string {
	var parts []string
	if o.ChildList {
		parts = append(parts, "childList")
	}
	if o.Subtree {
		parts = append(parts, "subtree")
	}
	if o.Attributes {
		filter := append([]string(nil), o.AttributeFilter...)
		sort.Strings(filter)
		parts = append(parts, "attributes("+strings.Join(filter, ",")+")")
	}
	if o.CharacterData {
		parts = append(parts, "characterData")
	}
	return strings.Join(parts, "+")
}

type Handler func(Batch)

// Observer is an active subscription to document mutations. It stays live
// until Disconnect; a disconnected observer never receives another batch,
// including batches queued but not yet delivered at disconnect time.
type Observer struct {
	id      uint64
	doc     *Document
	target  *html.Node
	opts    ObserveOptions
	handler Handler

	// guarded by doc.mu
	disconnected bool
}

func (o *Observer) Target() *html.Node {
	return o.target
}

func (o *Observer) Options() ObserveOptions {
	return o.opts
}

// Disconnect removes the observer from its document. Safe to call more than
// once, and safe to call from within the observer's own handler.
func (o *Observer) Disconnect() {
	o.doc.disconnect(o)
}

// wants filters a mutation's records down to the ones this observer asked
// for. Nil result means the batch is not delivered at all.
func (o *Observer) wants(records []Record) []Record {
	var matched []Record
	for _, rec := range records {
		if o.matches(rec) {
			matched = append(matched, rec)
		}
	}
	return matched
}

func (o *Observer) matches(rec Record) bool {
	switch rec.Type {
	case RecordChildList:
		if !o.opts.ChildList {
			return false
		}
	case RecordAttributes:
		if !o.opts.Attributes {
			return false
		}
		if len(o.opts.AttributeFilter) > 0 {
			found := false
			for _, name := range o.opts.AttributeFilter {
				if name == rec.AttributeName {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	case RecordCharacterData:
		if !o.opts.CharacterData {
			return false
		}
	default:
		return false
	}

	if rec.Target == o.target {
		return true
	}
	return o.opts.Subtree && isDescendant(o.target, rec.Target)
}
