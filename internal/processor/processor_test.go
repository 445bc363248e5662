package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/job"
	"github.com/zerverless/studio/internal/provider"
)

const pngURL = "data:image/png;base64,iVBORw=="

type result struct {
	src string
	err error
}

// gatedProvider hands every call to the test and waits for a result.
type gatedProvider struct {
	started chan provider.GenerateRequest
	release chan result

	active    atomic.Int32
	maxActive atomic.Int32
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		started: make(chan provider.GenerateRequest, 10),
		release: make(chan result),
	}
}

func (g *gatedProvider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		cur := g.maxActive.Load()
		if n <= cur || g.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	g.started <- req
	r := <-g.release
	return r.src, r.err
}

func (g *gatedProvider) Upscale(ctx context.Context, image string) (string, error) {
	return image, nil
}

type funcProvider func(req provider.GenerateRequest) (string, error)

func (f funcProvider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	return f(req)
}

func (f funcProvider) Upscale(ctx context.Context, image string) (string, error) {
	return image, nil
}

func setup(t *testing.T, p provider.Provider) (*job.Queue, *gallery.Store, *Processor) {
	t.Helper()
	q := job.NewQueue()
	g := gallery.NewStore(nil, zerolog.Nop())
	return q, g, New(q, g, p, zerolog.Nop(), 10*time.Millisecond)
}

func TestTick_SuccessMovesJobToGallery(t *testing.T) {
	q, g, p := setup(t, provider.NewSynthetic(0))
	j, err := q.Enqueue("A red balloon", job.AspectSquare, nil)
	require.NoError(t, err)

	assert.True(t, p.Tick(context.Background()))

	_, ok := q.Get(j.ID)
	assert.False(t, ok, "completed jobs leave the queue")
	items := g.List()
	require.Len(t, items, 1)
	assert.Equal(t, "A red balloon", items[0].Prompt)
	assert.NotEqual(t, j.ID, items[0].ID)
	assert.False(t, p.Busy())
}

func TestTick_NoPendingIsNoop(t *testing.T) {
	called := false
	_, g, p := setup(t, funcProvider(func(provider.GenerateRequest) (string, error) {
		called = true
		return pngURL, nil
	}))

	assert.False(t, p.Tick(context.Background()))
	assert.False(t, called)
	assert.Equal(t, 0, g.Len())
}

func TestTick_FailureKeepsJobAndContinues(t *testing.T) {
	q, g, p := setup(t, funcProvider(func(req provider.GenerateRequest) (string, error) {
		if req.Prompt == "bad" {
			return "", provider.Blocked("SAFETY")
		}
		return pngURL, nil
	}))
	bad, _ := q.Enqueue("bad", job.AspectSquare, nil)
	good, _ := q.Enqueue("good", job.AspectSquare, nil)

	require.True(t, p.Tick(context.Background()))
	failed, ok := q.Get(bad.ID)
	require.True(t, ok)
	assert.Equal(t, job.StatusFailed, failed.Status)
	assert.Equal(t, "Request blocked: SAFETY", failed.Error)

	require.True(t, p.Tick(context.Background()))
	_, ok = q.Get(good.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, g.Len())

	assert.False(t, p.Tick(context.Background()), "failed jobs are not retried")
	list := q.List()
	require.Len(t, list, 1)
	assert.Equal(t, bad.ID, list[0].ID)
}

func TestTick_UnusableOutputFails(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{name: "empty", src: "", wantMsg: "no image returned by model"},
		{name: "garbage", src: "hello", wantMsg: "malformed image returned by model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, g, p := setup(t, funcProvider(func(provider.GenerateRequest) (string, error) {
				return tt.src, nil
			}))
			j, _ := q.Enqueue("x", job.AspectSquare, nil)

			require.True(t, p.Tick(context.Background()))
			got, _ := q.Get(j.ID)
			assert.Equal(t, job.StatusFailed, got.Status)
			assert.Contains(t, got.Error, tt.wantMsg)
			assert.Equal(t, 0, g.Len())
		})
	}
}

func TestTick_PanicReleasesGate(t *testing.T) {
	q, _, p := setup(t, funcProvider(func(provider.GenerateRequest) (string, error) {
		panic("provider exploded")
	}))
	j, _ := q.Enqueue("x", job.AspectSquare, nil)

	require.True(t, p.Tick(context.Background()))
	got, _ := q.Get(j.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "provider exploded")
	assert.False(t, p.Busy())
}

func TestTick_PlainErrorMessage(t *testing.T) {
	q, _, p := setup(t, funcProvider(func(provider.GenerateRequest) (string, error) {
		return "", errors.New("connection reset")
	}))
	j, _ := q.Enqueue("x", job.AspectSquare, nil)

	p.Tick(context.Background())
	got, _ := q.Get(j.ID)
	assert.Equal(t, "connection reset", got.Error)
}

func TestTick_PassesJobToProvider(t *testing.T) {
	var got provider.GenerateRequest
	q, _, p := setup(t, funcProvider(func(req provider.GenerateRequest) (string, error) {
		got = req
		return pngURL, nil
	}))
	refs := []string{"r1", "r2", "r3", "r4"}
	_, err := q.Enqueue("cat", job.AspectWide, refs)
	require.NoError(t, err)

	p.Tick(context.Background())
	assert.Equal(t, "cat", got.Prompt)
	assert.Equal(t, "16:9", got.AspectRatio)
	assert.Equal(t, refs, got.ReferenceImages)
}

func TestTick_ConcurrentCallsAreSingleFlight(t *testing.T) {
	gp := newGatedProvider()
	q, _, p := setup(t, gp)
	q.Enqueue("a", job.AspectSquare, nil)
	q.Enqueue("b", job.AspectSquare, nil)

	done := make(chan bool, 1)
	go func() { done <- p.Tick(context.Background()) }()
	<-gp.started

	assert.True(t, p.Busy())
	assert.False(t, p.Tick(context.Background()), "gate is held")

	gp.release <- result{src: pngURL}
	assert.True(t, <-done)
	assert.Equal(t, int32(1), gp.maxActive.Load())
}

func TestRun_ProcessesInOrderOneAtATime(t *testing.T) {
	gp := newGatedProvider()
	q, g, p := setup(t, gp)

	var mu sync.Mutex
	var processingSeen []int
	p.SetChangeFunc(func() {
		_, processing, _ := q.Stats()
		mu.Lock()
		processingSeen = append(processingSeen, processing)
		mu.Unlock()
	})

	first, _ := q.Enqueue("first", job.AspectSquare, nil)
	second, _ := q.Enqueue("second", job.AspectSquare, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	req := <-gp.started
	assert.Equal(t, "first", req.Prompt)

	select {
	case req := <-gp.started:
		t.Fatalf("second job started while first in flight: %s", req.Prompt)
	case <-time.After(50 * time.Millisecond):
	}
	got, _ := q.Get(second.ID)
	assert.Equal(t, job.StatusPending, got.Status)
	got, _ = q.Get(first.ID)
	assert.Equal(t, job.StatusProcessing, got.Status)

	gp.release <- result{src: pngURL}

	select {
	case req = <-gp.started:
		assert.Equal(t, "second", req.Prompt)
	case <-time.After(time.Second):
		t.Fatal("second job never started")
	}
	gp.release <- result{src: pngURL}

	require.Eventually(t, func() bool { return g.Len() == 2 && len(q.List()) == 0 }, time.Second, 5*time.Millisecond)
	items := g.List()
	assert.Equal(t, "second", items[0].Prompt)
	assert.Equal(t, "first", items[1].Prompt)
	assert.Equal(t, int32(1), gp.maxActive.Load())

	cancel()
	assert.ErrorIs(t, <-runDone, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	for _, n := range processingSeen {
		assert.LessOrEqual(t, n, 1)
	}
}

func TestRun_NotifyWakesImmediately(t *testing.T) {
	q := job.NewQueue()
	g := gallery.NewStore(nil, zerolog.Nop())
	p := New(q, g, provider.NewSynthetic(0), zerolog.Nop(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	q.Enqueue("now", job.AspectSquare, nil)
	p.Notify()

	require.Eventually(t, func() bool { return g.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotify_NeverBlocks(t *testing.T) {
	_, _, p := setup(t, provider.NewSynthetic(0))
	for i := 0; i < 10; i++ {
		p.Notify()
	}
}

func TestTick_GateReleasedBeforeFinalNotify(t *testing.T) {
	q, _, p := setup(t, provider.NewSynthetic(0))

	var busySeen []bool
	p.SetChangeFunc(func() {
		busySeen = append(busySeen, p.Busy())
	})
	_, err := q.Enqueue("A red balloon", job.AspectSquare, nil)
	require.NoError(t, err)

	require.True(t, p.Tick(context.Background()))
	require.Len(t, busySeen, 2)
	assert.True(t, busySeen[0], "claimed while generating")
	assert.False(t, busySeen[1], "released by the time the result is announced")
}

func TestTick_EmptyQueueLeavesGateAlone(t *testing.T) {
	_, _, p := setup(t, provider.NewSynthetic(0))
	notified := false
	p.SetChangeFunc(func() { notified = true })

	assert.False(t, p.Tick(context.Background()))
	assert.False(t, p.Busy())
	assert.False(t, notified)
}
