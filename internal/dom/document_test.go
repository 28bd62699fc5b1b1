package dom

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageHTML = `<html><head></head><body>
<div id="app">
  <div class="captions" lang="nl">
    <p class="cue">eerste regel</p>
  </div>
  <button class="control paused">play</button>
</div>
</body></html>`

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := ParseString(src)
	require.NoError(t, err)
	return doc
}

func TestDocument_Queries(t *testing.T) {
	doc := mustParse(t, pageHTML)

	container := doc.QuerySelector(".captions")
	require.NotNil(t, container)

	cue := doc.QuerySelector(".captions .cue")
	require.NotNil(t, cue)
	assert.Equal(t, "eerste regel", doc.Text(cue))
	assert.True(t, doc.Matches(cue, "p.cue"))
	assert.False(t, doc.Matches(cue, "button"))

	lang, ok := doc.AttributeOnSelfOrAncestor(cue, "lang")
	require.True(t, ok)
	assert.Equal(t, "nl", lang)

	control := doc.QuerySelector("button.control")
	require.NotNil(t, control)
	assert.True(t, doc.HasClass(control, "paused"))

	assert.Nil(t, doc.QuerySelector(".missing"))
	assert.Empty(t, doc.QuerySelectorAll(".missing"))
}

func TestDocument_InsertDeliversOrderedBatches(t *testing.T) {
	doc := mustParse(t, pageHTML)
	container := doc.QuerySelector(".captions")
	require.NotNil(t, container)

	var mu sync.Mutex
	var batches []Batch
	obs := doc.Observe(container, ObserveOptions{ChildList: true, Subtree: true}, func(b Batch) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, b)
	})
	defer obs.Disconnect()

	first := doc.CreateElement("p", map[string]string{"class": "cue"})
	second := doc.CreateElement("p", map[string]string{"class": "cue"})
	require.NoError(t, doc.AppendChild(container, first))
	require.NoError(t, doc.AppendChild(container, second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Less(t, batches[0].Seq, batches[1].Seq)
	assert.Equal(t, RecordChildList, batches[0].Records[0].Type)
	assert.Same(t, first, batches[0].Records[0].Added[0])
	assert.Same(t, second, batches[1].Records[0].Added[0])
}

func TestDocument_SubtreeFiltering(t *testing.T) {
	doc := mustParse(t, pageHTML)
	container := doc.QuerySelector(".captions")
	cue := doc.QuerySelector(".cue")
	require.NotNil(t, container)
	require.NotNil(t, cue)

	var direct, subtree int
	doc.Observe(container, ObserveOptions{ChildList: true}, func(b Batch) {
		direct += len(b.Records)
	})
	doc.Observe(container, ObserveOptions{ChildList: true, Subtree: true}, func(b Batch) {
		subtree += len(b.Records)
	})

	// Child of the cue: only the subtree observer sees it.
	span := doc.CreateElement("span", nil)
	require.NoError(t, doc.AppendChild(cue, span))

	assert.Equal(t, 0, direct)
	assert.Equal(t, 1, subtree)

	// Direct child of the container: both see it.
	p := doc.CreateElement("p", map[string]string{"class": "cue"})
	require.NoError(t, doc.AppendChild(container, p))

	assert.Equal(t, 1, direct)
	assert.Equal(t, 2, subtree)
}

func TestDocument_AttributeFilter(t *testing.T) {
	doc := mustParse(t, pageHTML)
	control := doc.QuerySelector("button.control")
	require.NotNil(t, control)

	var records []Record
	doc.Observe(control, ObserveOptions{Attributes: true, AttributeFilter: []string{"class"}}, func(b Batch) {
		records = append(records, b.Records...)
	})

	doc.SetAttribute(control, "data-state", "playing")
	assert.Empty(t, records)

	doc.SetAttribute(control, "class", "control playing")
	require.Len(t, records, 1)
	assert.Equal(t, RecordAttributes, records[0].Type)
	assert.Equal(t, "class", records[0].AttributeName)
	assert.Equal(t, "control paused", records[0].OldValue)
	assert.False(t, doc.HasClass(control, "paused"))
}

func TestDocument_SetTextRecordsCharacterData(t *testing.T) {
	doc := mustParse(t, pageHTML)
	cue := doc.QuerySelector(".cue")
	require.NotNil(t, cue)

	var records []Record
	doc.Observe(cue, ObserveOptions{CharacterData: true}, func(b Batch) {
		records = append(records, b.Records...)
	})

	doc.SetText(cue, "tweede regel")

	assert.Equal(t, "tweede regel", doc.Text(cue))
	require.Len(t, records, 1)
	assert.Equal(t, RecordCharacterData, records[0].Type)
	assert.Equal(t, "eerste regel", records[0].OldValue)
}

func TestDocument_DisconnectStopsDelivery(t *testing.T) {
	doc := mustParse(t, pageHTML)
	container := doc.QuerySelector(".captions")
	require.NotNil(t, container)

	calls := 0
	obs := doc.Observe(container, ObserveOptions{ChildList: true}, func(Batch) {
		calls++
	})

	require.NoError(t, doc.AppendChild(container, doc.CreateElement("p", nil)))
	assert.Equal(t, 1, calls)

	obs.Disconnect()
	assert.Equal(t, 0, doc.ObserverCount())

	require.NoError(t, doc.AppendChild(container, doc.CreateElement("p", nil)))
	assert.Equal(t, 1, calls)

	// Idempotent.
	obs.Disconnect()
}

func TestDocument_DisconnectFromOwnHandler(t *testing.T) {
	doc := mustParse(t, pageHTML)
	container := doc.QuerySelector(".captions")
	require.NotNil(t, container)

	calls := 0
	var obs *Observer
	obs = doc.Observe(container, ObserveOptions{ChildList: true}, func(Batch) {
		calls++
		obs.Disconnect()
	})

	require.NoError(t, doc.AppendChild(container, doc.CreateElement("p", nil)))
	require.NoError(t, doc.AppendChild(container, doc.CreateElement("p", nil)))

	assert.Equal(t, 1, calls)
}

func TestDocument_HandlerMutationsAreQueuedNotRecursive(t *testing.T) {
	doc := mustParse(t, pageHTML)
	container := doc.QuerySelector(".captions")
	require.NotNil(t, container)

	var order []string
	depth := 0
	reacted := false
	doc.Observe(container, ObserveOptions{ChildList: true}, func(b Batch) {
		depth++
		require.Equal(t, 1, depth, "handler must never re-enter")
		order = append(order, doc.Text(b.Records[0].Added[0]))
		if !reacted {
			reacted = true
			reaction := doc.CreateElement("p", nil)
			require.NoError(t, doc.AppendChild(container, reaction))
			doc.SetText(reaction, "reaction")
		}
		depth--
	})

	seed := doc.CreateElement("p", nil)
	require.NoError(t, doc.AppendChild(container, seed))

	require.Len(t, order, 2)
	assert.Equal(t, "", order[0])
	assert.Equal(t, "reaction", order[1])
}

func TestDocument_RemoveAndContains(t *testing.T) {
	doc := mustParse(t, pageHTML)
	cue := doc.QuerySelector(".cue")
	require.NotNil(t, cue)
	require.True(t, doc.Contains(cue))

	var removed int
	doc.Observe(doc.Root(), ObserveOptions{ChildList: true, Subtree: true}, func(b Batch) {
		for _, rec := range b.Records {
			removed += len(rec.Removed)
		}
	})

	require.NoError(t, doc.Remove(cue))
	assert.False(t, doc.Contains(cue))
	assert.Equal(t, 1, removed)

	assert.Error(t, doc.Remove(cue))
}

func TestDocument_ReplaceContentKeepsRootObservers(t *testing.T) {
	doc := mustParse(t, pageHTML)

	batches := 0
	doc.Observe(doc.Root(), ObserveOptions{ChildList: true, Subtree: true}, func(Batch) {
		batches++
	})

	require.NoError(t, doc.ReplaceContent(`<html><body><div class="captions" lang="nl"></div></body></html>`))
	assert.Equal(t, 1, batches)
	assert.Nil(t, doc.QuerySelector(".cue"))
	require.NotNil(t, doc.QuerySelector(".captions"))

	// The same observer still sees mutations in the new tree.
	container := doc.QuerySelector(".captions")
	require.NoError(t, doc.AppendChild(container, doc.CreateElement("p", nil)))
	assert.Equal(t, 2, batches)
}

func TestDocument_InsertValidation(t *testing.T) {
	doc := mustParse(t, pageHTML)
	container := doc.QuerySelector(".captions")
	cue := doc.QuerySelector(".cue")
	require.NotNil(t, container)
	require.NotNil(t, cue)

	assert.Error(t, doc.InsertBefore(container, cue, nil), "attached nodes cannot be inserted again")

	other := doc.CreateElement("p", nil)
	stranger := doc.CreateElement("p", nil)
	assert.Error(t, doc.InsertBefore(container, other, stranger), "ref must be a child of parent")

	require.NoError(t, doc.InsertBefore(container, other, cue))
	assert.Same(t, other, doc.PrevElementSibling(cue))
}

func TestDocument_RevisionCountsMutations(t *testing.T) {
	doc := mustParse(t, pageHTML)
	control := doc.QuerySelector("button.control")
	require.NotNil(t, control)

	before := doc.Revision()
	doc.SetAttribute(control, "class", "control playing")
	doc.SetAttribute(control, "class", "control paused")
	assert.Equal(t, before+2, doc.Revision())
}
