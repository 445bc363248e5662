package gallery

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerverless/studio/internal/db"
)

func newTestDB(t *testing.T) *db.Store {
	t.Helper()
	dbStore, err := db.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { dbStore.Close() })
	return dbStore
}

func TestBadgerPersister_RoundTrip(t *testing.T) {
	dbStore := newTestDB(t)

	s := NewStore(NewBadgerPersister(dbStore), zerolog.Nop())
	s.Add("A red balloon", "data:image/png;base64,AQ==")
	upscaled := s.Add("A blue kite", "data:image/png;base64,Ag==")
	require.NoError(t, s.UpdateSrc(upscaled.ID, "data:image/png;base64,Aw=="))
	want := s.List()

	reloaded := NewStore(NewBadgerPersister(dbStore), zerolog.Nop())
	got := reloaded.List()

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Src, got[i].Src)
		assert.Equal(t, want[i].Prompt, got[i].Prompt)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
	}
}

func TestBadgerPersister_MissingSlotIsEmpty(t *testing.T) {
	items, err := NewBadgerPersister(newTestDB(t)).Load()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestBadgerPersister_CorruptSlot(t *testing.T) {
	dbStore := newTestDB(t)
	require.NoError(t, dbStore.Set(SystemNamespace, galleryKey, []byte("{not json")))

	_, err := NewBadgerPersister(dbStore).Load()
	require.Error(t, err)

	s := NewStore(NewBadgerPersister(dbStore), zerolog.Nop())
	assert.Equal(t, 0, s.Len())
}
