package job

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnqueue(t *testing.T, q *Queue, prompt string) Job {
	t.Helper()
	j, err := q.Enqueue(prompt, AspectSquare, nil)
	require.NoError(t, err)
	return j
}

func TestQueue_EnqueueAndGet(t *testing.T) {
	q := NewQueue()
	j := mustEnqueue(t, q, "a red balloon")

	got, ok := q.Get(j.ID)
	require.True(t, ok)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestQueue_GetNotFound(t *testing.T) {
	q := NewQueue()
	_, ok := q.Get("nonexistent")
	assert.False(t, ok)
}

func TestQueue_EnqueueRejectsEmptyPrompt(t *testing.T) {
	q := NewQueue()
	_, err := q.Enqueue("  ", AspectSquare, nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, q.List())
}

func TestQueue_NextPendingIsFIFO(t *testing.T) {
	q := NewQueue()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustEnqueue(t, q, fmt.Sprintf("prompt %d", i)).ID)
	}

	for _, want := range ids {
		next, ok := q.NextPending()
		require.True(t, ok)
		assert.Equal(t, want, next.ID)
		require.True(t, q.MarkProcessing(next.ID))
		require.True(t, q.MarkCompleted(next.ID))
	}

	_, ok := q.NextPending()
	assert.False(t, ok)
}

func TestQueue_NextPendingSkipsFailed(t *testing.T) {
	q := NewQueue()
	first := mustEnqueue(t, q, "first")
	second := mustEnqueue(t, q, "second")

	require.True(t, q.MarkProcessing(first.ID))
	require.True(t, q.MarkFailed(first.ID, "Request blocked: SAFETY"))

	next, ok := q.NextPending()
	require.True(t, ok)
	assert.Equal(t, second.ID, next.ID)

	failed, ok := q.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "Request blocked: SAFETY", failed.Error)
}

func TestQueue_SingleProcessing(t *testing.T) {
	q := NewQueue()
	a := mustEnqueue(t, q, "a")
	b := mustEnqueue(t, q, "b")

	require.True(t, q.MarkProcessing(a.ID))
	assert.False(t, q.MarkProcessing(b.ID), "second job must wait for the first")
	assert.False(t, q.MarkProcessing(a.ID), "already processing")

	_, processing, _ := q.Stats()
	assert.Equal(t, 1, processing)

	q.MarkCompleted(a.ID)
	assert.True(t, q.MarkProcessing(b.ID))
}

func TestQueue_MarkCompletedRemoves(t *testing.T) {
	q := NewQueue()
	j := mustEnqueue(t, q, "x")
	require.True(t, q.MarkProcessing(j.ID))
	require.True(t, q.MarkCompleted(j.ID))

	_, ok := q.Get(j.ID)
	assert.False(t, ok)
	assert.Empty(t, q.List())
}

func TestQueue_MarkUnknownIsNoop(t *testing.T) {
	q := NewQueue()
	j := mustEnqueue(t, q, "keep")
	before := q.List()

	assert.False(t, q.MarkProcessing("missing"))
	assert.False(t, q.MarkCompleted("missing"))
	assert.False(t, q.MarkFailed("missing", "boom"))

	assert.Equal(t, before, q.List())
	got, _ := q.Get(j.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestQueue_Remove(t *testing.T) {
	q := NewQueue()
	a := mustEnqueue(t, q, "a")
	b := mustEnqueue(t, q, "b")
	c := mustEnqueue(t, q, "c")

	require.True(t, q.MarkProcessing(a.ID))
	assert.ErrorIs(t, q.Remove(a.ID), ErrJobProcessing)
	assert.ErrorIs(t, q.Remove("missing"), ErrJobNotFound)

	require.NoError(t, q.Remove(b.ID))
	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, c.ID, list[1].ID)
}

func TestQueue_ListReturnsCopies(t *testing.T) {
	q := NewQueue()
	j, err := q.Enqueue("x", AspectSquare, []string{"ref"})
	require.NoError(t, err)

	list := q.List()
	list[0].Status = StatusFailed
	list[0].ReferenceImages[0] = "changed"

	got, _ := q.Get(j.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "ref", got.ReferenceImages[0])
}

func TestQueue_ConcurrentMarkProcessing(t *testing.T) {
	q := NewQueue()
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, mustEnqueue(t, q, fmt.Sprintf("p%d", i)).ID)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if q.MarkProcessing(id) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}

func TestQueue_HasPending(t *testing.T) {
	q := NewQueue()
	assert.False(t, q.HasPending())

	j := mustEnqueue(t, q, "cat")
	assert.True(t, q.HasPending())

	require.True(t, q.MarkProcessing(j.ID))
	assert.False(t, q.HasPending(), "processing jobs are not pending")

	require.True(t, q.MarkFailed(j.ID, "boom"))
	assert.False(t, q.HasPending(), "failed jobs are not retried")
}
