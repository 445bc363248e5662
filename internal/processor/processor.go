// Package processor advances the job queue one job at a time through the
// image provider.
package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/imagedata"
	"github.com/zerverless/studio/internal/job"
	"github.com/zerverless/studio/internal/provider"
)

const DefaultInterval = time.Second

// Gallery receives successful generation results.
type Gallery interface {
	Add(prompt, src string) gallery.Item
}

// ChangeFunc is called whenever a job changes state.
type ChangeFunc func()

// Processor is a single-flight scheduler: at most one provider call is in
// flight at any time. It wakes on Notify or on a fixed interval, whichever
// comes first, and processes pending jobs in submission order.
type Processor struct {
	queue    job.JobQueue
	gallery  Gallery
	provider provider.Provider
	logger   zerolog.Logger
	interval time.Duration

	busy     atomic.Bool
	wake     chan struct{}
	onChange ChangeFunc
}

func New(queue job.JobQueue, g Gallery, p provider.Provider, logger zerolog.Logger, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Processor{
		queue:    queue,
		gallery:  g,
		provider: p,
		logger:   logger.With().Str("component", "processor").Logger(),
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

func (p *Processor) SetChangeFunc(fn ChangeFunc) {
	p.onChange = fn
}

// Busy reports whether a job is currently being generated.
func (p *Processor) Busy() bool {
	return p.busy.Load()
}

// Notify asks the run loop to check the queue now. It never blocks.
func (p *Processor) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drives Tick until ctx is cancelled. A job already handed to the
// provider is allowed to finish before Run returns.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("processor started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("processor stopped")
			return ctx.Err()
		case <-p.wake:
		case <-ticker.C:
		}

		for ctx.Err() == nil && p.Tick(ctx) {
		}
	}
}

// Tick processes the oldest pending job, if any, and reports whether it did.
// It returns false immediately while another Tick holds the gate. The gate
// is released before the final change notification, so observers never see
// a finished job as still in flight.
func (p *Processor) Tick(ctx context.Context) bool {
	if !p.queue.HasPending() {
		return false
	}
	if !p.busy.CompareAndSwap(false, true) {
		return false
	}
	processed := p.process(ctx)
	if processed {
		p.changed()
	}
	return processed
}

func (p *Processor) process(ctx context.Context) bool {
	defer p.busy.Store(false)

	j, ok := p.queue.NextPending()
	if !ok {
		return false
	}
	if !p.queue.MarkProcessing(j.ID) {
		return false
	}
	p.changed()

	logger := p.logger.With().Str("job_id", j.ID).Logger()
	logger.Info().
		Str("aspect_ratio", string(j.AspectRatio)).
		Int("reference_images", len(j.ReferenceImages)).
		Msg("generating")

	start := time.Now()
	src, err := p.generate(context.WithoutCancel(ctx), j)
	if err != nil {
		msg := provider.FailureMessage(err)
		p.queue.MarkFailed(j.ID, msg)
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		return true
	}

	item := p.gallery.Add(j.Prompt, src)
	p.queue.MarkCompleted(j.ID)
	logger.Info().
		Str("item_id", item.ID).
		Dur("duration", time.Since(start)).
		Msg("job completed")
	return true
}

// generate calls the provider and turns panics and unusable output into
// errors so the job can be marked failed.
func (p *Processor) generate(ctx context.Context, j job.Job) (src string, err error) {
	defer func() {
		if r := recover(); r != nil {
			src, err = "", fmt.Errorf("unexpected provider fault: %v", r)
		}
	}()

	src, err = p.provider.Generate(ctx, provider.GenerateRequest{
		Prompt:          j.Prompt,
		AspectRatio:     string(j.AspectRatio),
		ReferenceImages: j.ReferenceImages,
	})
	if err != nil {
		return "", err
	}
	if src == "" {
		return "", provider.Failed("no image returned by model")
	}
	if err := imagedata.Validate(src); err != nil {
		return "", provider.Failed("malformed image returned by model: %v", err)
	}
	return src, nil
}

func (p *Processor) changed() {
	if p.onChange != nil {
		p.onChange()
	}
}
