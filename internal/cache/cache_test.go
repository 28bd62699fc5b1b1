package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslationCache_GetAbsent(t *testing.T) {
	c := New()

	_, ok := c.Get("hallo wereld")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTranslationCache_MarkPendingDeduplicates(t *testing.T) {
	c := New()

	require.True(t, c.MarkPending("hallo wereld"))
	assert.False(t, c.MarkPending("hallo wereld"))

	entry, ok := c.Get("hallo wereld")
	require.True(t, ok)
	assert.Equal(t, StatePending, entry.State)
	assert.Empty(t, entry.Text)
}

func TestTranslationCache_PutResolvesPending(t *testing.T) {
	c := New()

	require.True(t, c.MarkPending("hallo wereld"))
	c.Put("hallo wereld", "Hello world")

	entry, ok := c.Get("hallo wereld")
	require.True(t, ok)
	assert.Equal(t, StateReady, entry.State)
	assert.Equal(t, "Hello world", entry.Text)
	assert.False(t, entry.ResolvedAt.IsZero())
}

func TestTranslationCache_ReadyNeverReturnsToPending(t *testing.T) {
	c := New()

	require.True(t, c.MarkPending("hallo"))
	c.Put("hallo", "Hello")

	// A second submission of the same text must not re-dispatch.
	assert.False(t, c.MarkPending("hallo"))

	entry, ok := c.Get("hallo")
	require.True(t, ok)
	assert.Equal(t, StateReady, entry.State)
	assert.Equal(t, "Hello", entry.Text)
}

func TestTranslationCache_MarkPendingIsAtomic(t *testing.T) {
	c := New()

	const goroutines = 32
	var wg sync.WaitGroup
	won := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.MarkPending("same text") {
				won <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(won)

	assert.Len(t, won, 1)
	assert.Equal(t, 1, c.Len())
}

func TestTranslationCache_Snapshot(t *testing.T) {
	c := New()

	for i := 0; i < 3; i++ {
		require.True(t, c.MarkPending(fmt.Sprintf("pending %d", i)))
	}
	require.True(t, c.MarkPending("resolved"))
	c.Put("resolved", "Resolved")

	stats := c.Snapshot()
	assert.Equal(t, 4, stats.Entries)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 1, stats.Ready)
}
