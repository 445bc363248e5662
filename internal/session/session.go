// Package session ties the queue, gallery, staging buffer and processor of
// one studio together and exposes the operations the UI triggers.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/imagedata"
	"github.com/zerverless/studio/internal/job"
	"github.com/zerverless/studio/internal/processor"
	"github.com/zerverless/studio/internal/provider"
	"github.com/zerverless/studio/internal/staging"
)

var ErrInvalidImage = errors.New("invalid reference image")

type Options struct {
	ProcessInterval time.Duration
	UpscaleCacheTTL time.Duration
}

// Snapshot is the read-only state the UI renders.
type Snapshot struct {
	Queue      []job.Job      `json:"queue"`
	Gallery    []gallery.Item `json:"gallery"`
	Processing bool           `json:"processing"`
	Selected   string         `json:"selected,omitempty"`
	Upscaling  []string       `json:"upscaling"`
	Staged     int            `json:"staged"`
}

// ChangeFunc is called after any observable state change.
type ChangeFunc func()

type Session struct {
	Queue   *job.Queue
	Gallery *gallery.Store
	Staging *staging.Staging

	processor *processor.Processor
	provider  provider.Provider
	logger    zerolog.Logger

	upscales     singleflight.Group
	upscaleCache *cache.Cache

	mu        sync.Mutex
	selected  string
	upscaling map[string]struct{}
	onChange  ChangeFunc
}

func New(g *gallery.Store, p provider.Provider, logger zerolog.Logger, opts Options) *Session {
	if opts.UpscaleCacheTTL <= 0 {
		opts.UpscaleCacheTTL = 10 * time.Minute
	}

	q := job.NewQueue()
	s := &Session{
		Queue:        q,
		Gallery:      g,
		Staging:      staging.New(),
		provider:     p,
		logger:       logger.With().Str("component", "session").Logger(),
		upscaleCache: cache.New(opts.UpscaleCacheTTL, 2*opts.UpscaleCacheTTL),
		upscaling:    make(map[string]struct{}),
	}
	s.processor = processor.New(q, g, p, logger, opts.ProcessInterval)
	s.processor.SetChangeFunc(s.changed)
	return s
}

func (s *Session) SetChangeFunc(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Run processes the queue until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	return s.processor.Run(ctx)
}

// Processing reports whether a job is being generated.
func (s *Session) Processing() bool {
	_, processing, _ := s.Queue.Stats()
	return processing > 0
}

// StageImages adds reference images for the next job. Every image must be a
// valid data URL; images beyond the staging cap are dropped and counted.
func (s *Session) StageImages(images ...string) (accepted, dropped int, err error) {
	for i, img := range images {
		if err := imagedata.Validate(img); err != nil {
			return 0, 0, fmt.Errorf("%w %d: %v", ErrInvalidImage, i+1, err)
		}
	}
	accepted, dropped = s.Staging.Add(images...)
	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Int("max", staging.MaxImages).Msg("reference images over the cap were dropped")
	}
	s.changed()
	return accepted, dropped, nil
}

func (s *Session) RemoveStagedImage(index int) error {
	if err := s.Staging.Remove(index); err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *Session) ClearStaging() {
	s.Staging.Clear()
	s.changed()
}

// Enqueue submits a prompt together with whatever reference images are
// staged, and clears the staging buffer. Rejected submissions leave staging
// untouched.
func (s *Session) Enqueue(prompt, aspectRatio string) (job.Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return job.Job{}, job.ErrEmptyPrompt
	}
	ratio, err := job.ParseAspectRatio(aspectRatio)
	if err != nil {
		return job.Job{}, err
	}

	refs := s.Staging.Take()
	j, err := s.Queue.Enqueue(prompt, ratio, refs)
	if err != nil {
		s.Staging.Add(refs...)
		return job.Job{}, err
	}

	s.logger.Info().
		Str("job_id", j.ID).
		Str("aspect_ratio", string(ratio)).
		Int("reference_images", len(refs)).
		Msg("job enqueued")
	s.changed()
	s.processor.Notify()
	return j, nil
}

func (s *Session) RemoveJob(id string) error {
	if err := s.Queue.Remove(id); err != nil {
		return err
	}
	s.changed()
	return nil
}

// Select marks a gallery item as the one being viewed.
func (s *Session) Select(id string) (gallery.Item, error) {
	item, ok := s.Gallery.Get(id)
	if !ok {
		return gallery.Item{}, gallery.ErrItemNotFound
	}
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
	s.changed()
	return item, nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	selected := s.selected
	upscaling := make([]string, 0, len(s.upscaling))
	for id := range s.upscaling {
		upscaling = append(upscaling, id)
	}
	s.mu.Unlock()
	slices.Sort(upscaling)

	return Snapshot{
		Queue:      s.Queue.List(),
		Gallery:    s.Gallery.List(),
		Processing: s.Processing(),
		Selected:   selected,
		Upscaling:  upscaling,
		Staged:     s.Staging.Len(),
	}
}

func (s *Session) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
