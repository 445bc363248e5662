// Package staging holds the reference images a user attaches before
// submitting the next prompt.
package staging

import (
	"errors"
	"slices"
	"sync"
)

// MaxImages is the number of reference images one job can carry.
const MaxImages = 4

var ErrIndexOutOfRange = errors.New("staged image index out of range")

type Staging struct {
	mu     sync.Mutex
	images []string
}

func New() *Staging {
	return &Staging{}
}

// Add appends images until the buffer is full. Anything beyond the cap is
// dropped; the returned counts say how many were kept and how many were not.
func (s *Staging) Add(images ...string) (accepted, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := MaxImages - len(s.images)
	if room < 0 {
		room = 0
	}
	accepted = min(room, len(images))
	s.images = append(s.images, images[:accepted]...)
	return accepted, len(images) - accepted
}

func (s *Staging) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.images) {
		return ErrIndexOutOfRange
	}
	s.images = slices.Delete(slices.Clone(s.images), index, index+1)
	return nil
}

func (s *Staging) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = nil
}

// Take returns the staged images and empties the buffer in one step.
// The buffer is replaced, never edited in place, so the returned slice
// belongs to the caller.
func (s *Staging) Take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := s.images
	s.images = nil
	return taken
}

func (s *Staging) Images() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.images)
}

func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}
