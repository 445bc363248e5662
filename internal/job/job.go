package job

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectWide      AspectRatio = "16:9"
	AspectTall      AspectRatio = "9:16"
	AspectLandscape AspectRatio = "4:3"
	AspectPortrait  AspectRatio = "3:4"
)

const DefaultAspectRatio = AspectSquare

// AspectRatios lists the supported ratios in display order.
var AspectRatios = []AspectRatio{AspectSquare, AspectWide, AspectTall, AspectLandscape, AspectPortrait}

var (
	ErrEmptyPrompt        = errors.New("prompt must not be empty")
	ErrInvalidAspectRatio = errors.New("unsupported aspect ratio")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobProcessing      = errors.New("job is processing")
)

// ParseAspectRatio validates s; an empty string selects DefaultAspectRatio.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultAspectRatio, nil
	}
	r := AspectRatio(s)
	if !slices.Contains(AspectRatios, r) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAspectRatio, s)
	}
	return r, nil
}

// Dimensions returns the relative width and height of the ratio.
func (r AspectRatio) Dimensions() (int, int) {
	switch r {
	case AspectWide:
		return 16, 9
	case AspectTall:
		return 9, 16
	case AspectLandscape:
		return 4, 3
	case AspectPortrait:
		return 3, 4
	default:
		return 1, 1
	}
}

type Job struct {
	ID              string      `json:"id"`
	Prompt          string      `json:"prompt"`
	ReferenceImages []string    `json:"reference_images,omitempty"`
	AspectRatio     AspectRatio `json:"aspect_ratio"`
	Status          Status      `json:"status"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// New builds a pending job. The reference images are copied so later changes
// to the caller's slice never reach the job.
func New(prompt string, ratio AspectRatio, referenceImages []string) (*Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if !slices.Contains(AspectRatios, ratio) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, ratio)
	}
	return &Job{
		ID:              uuid.NewString(),
		Prompt:          prompt,
		ReferenceImages: slices.Clone(referenceImages),
		AspectRatio:     ratio,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func (j *Job) clone() Job {
	c := *j
	c.ReferenceImages = slices.Clone(j.ReferenceImages)
	return c
}
