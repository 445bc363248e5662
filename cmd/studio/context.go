package main

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zerverless/studio/internal/config"
	"github.com/zerverless/studio/internal/db"
	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				os.Setenv("STUDIO_CONFIG", path)
			}
		}
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.LogLevel, cfg.AppEnv)
}

// openGallery opens the badger store under cfg.DataDir and loads the gallery
// from it. The caller closes the returned db.Store.
func (c *commandContext) openGallery(cfg *config.Config, logger zerolog.Logger) (*gallery.Store, *db.Store, error) {
	store, err := db.NewStore(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return gallery.NewStore(gallery.NewBadgerPersister(store), logger), store, nil
}
