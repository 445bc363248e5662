package gallery

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrItemNotFound = errors.New("gallery item not found")

// Item is one generated image retained in the gallery. Src holds the encoded
// image payload and is replaced when the image is upscaled.
type Item struct {
	ID        string    `json:"id"`
	Src       string    `json:"src"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

func NewItem(prompt, src string) Item {
	return Item{
		ID:        uuid.NewString(),
		Src:       src,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
}

// Persister durably stores the whole gallery in one slot.
type Persister interface {
	Load() ([]Item, error)
	Save(items []Item) error
}

// Store keeps gallery items newest-first and writes the full collection
// through to its Persister after every change. Persist failures are logged
// and never undo the in-memory change.
type Store struct {
	mu     sync.RWMutex
	items  []Item
	saveMu sync.Mutex

	persister Persister
	logger    zerolog.Logger
}

// NewStore loads the persisted gallery. An unreadable or corrupt slot leaves
// the gallery empty.
func NewStore(persister Persister, logger zerolog.Logger) *Store {
	s := &Store{
		persister: persister,
		logger:    logger.With().Str("component", "gallery").Logger(),
	}
	if persister == nil {
		return s
	}

	items, err := persister.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not load gallery, starting empty")
		return s
	}
	s.items = items
	s.logger.Info().Int("items", len(items)).Msg("gallery loaded")
	return s
}

// Prepend inserts item at the front of the gallery.
func (s *Store) Prepend(item Item) {
	s.mu.Lock()
	s.items = append([]Item{item}, s.items...)
	s.mu.Unlock()

	s.persist()
}

// Add records a new generation result and returns the stored item.
func (s *Store) Add(prompt, src string) Item {
	item := NewItem(prompt, src)
	s.Prepend(item)
	return item
}

func (s *Store) UpdateSrc(id, src string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	s.items[idx].Src = src
	s.mu.Unlock()

	s.persist()
	return nil
}

func (s *Store) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Item{}, false
	}
	return s.items[idx], true
}

// List returns the gallery newest-first.
func (s *Store) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// persist snapshots after taking saveMu so the last writer always stores the
// latest state.
func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	items := s.List()
	if err := s.persister.Save(items); err != nil {
		s.logger.Error().Err(err).Int("items", len(items)).Msg("failed to persist gallery")
	}
}
