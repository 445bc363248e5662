package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/imagedata"
	"github.com/zerverless/studio/internal/provider"
)

// Upscale replaces a gallery item's image with an enhanced-resolution
// version. It runs outside the job queue and does not wait for the
// processor. Concurrent requests for the same item share one provider call,
// and a payload that was already upscaled recently is served from cache.
func (s *Session) Upscale(ctx context.Context, itemID string) (gallery.Item, error) {
	v, err, _ := s.upscales.Do(itemID, func() (any, error) {
		return s.upscale(context.WithoutCancel(ctx), itemID)
	})
	if err != nil {
		return gallery.Item{}, err
	}
	return v.(gallery.Item), nil
}

// UpscaleAsync starts an upscale in the background. The outcome is visible
// through the gallery and the logs.
func (s *Session) UpscaleAsync(itemID string) error {
	if _, ok := s.Gallery.Get(itemID); !ok {
		return gallery.ErrItemNotFound
	}
	go func() {
		if _, err := s.Upscale(context.Background(), itemID); err != nil {
			s.logger.Warn().Err(err).Str("item_id", itemID).Msg("background upscale failed")
		}
	}()
	return nil
}

// Upscaling reports whether an upscale for itemID is in flight.
func (s *Session) Upscaling(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.upscaling[itemID]
	return ok
}

func (s *Session) upscale(ctx context.Context, itemID string) (gallery.Item, error) {
	item, ok := s.Gallery.Get(itemID)
	if !ok {
		return gallery.Item{}, gallery.ErrItemNotFound
	}
	logger := s.logger.With().Str("item_id", itemID).Logger()

	s.setUpscaling(itemID, true)
	defer s.setUpscaling(itemID, false)

	key := payloadKey(item.Src)
	if cached, found := s.upscaleCache.Get(key); found {
		logger.Debug().Msg("upscale served from cache")
		return s.applyUpscale(itemID, cached.(string))
	}

	start := time.Now()
	src, err := s.provider.Upscale(ctx, item.Src)
	if err == nil {
		if verr := imagedata.Validate(src); verr != nil {
			err = provider.Failed("malformed image returned by model: %v", verr)
		}
	}
	if err != nil {
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("upscale failed")
		return gallery.Item{}, err
	}

	s.upscaleCache.SetDefault(key, src)
	logger.Info().Dur("duration", time.Since(start)).Msg("upscale completed")
	return s.applyUpscale(itemID, src)
}

func (s *Session) applyUpscale(itemID, src string) (gallery.Item, error) {
	if err := s.Gallery.UpdateSrc(itemID, src); err != nil {
		return gallery.Item{}, err
	}
	item, _ := s.Gallery.Get(itemID)
	return item, nil
}

func (s *Session) setUpscaling(itemID string, on bool) {
	s.mu.Lock()
	if on {
		s.upscaling[itemID] = struct{}{}
	} else {
		delete(s.upscaling, itemID)
	}
	s.mu.Unlock()
	s.changed()
}

func payloadKey(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}
