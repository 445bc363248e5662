package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zerverless/studio/internal/api"
	"github.com/zerverless/studio/internal/config"
	"github.com/zerverless/studio/internal/provider"
	"github.com/zerverless/studio/internal/session"
	"github.com/zerverless/studio/internal/storage"
	"github.com/zerverless/studio/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the queue processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), ctx, cfg)
		},
	}
}

func serve(parent context.Context, cc *commandContext, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	runCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cc.logger(cfg)
	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Str("provider", cfg.Provider).
		Str("data_dir", cfg.DataDir).
		Msg("starting studio")

	g, dbStore, err := cc.openGallery(cfg, logger)
	if err != nil {
		return err
	}
	defer dbStore.Close()

	p, err := newProvider(runCtx, cfg, logger)
	if err != nil {
		return err
	}

	exports, err := storage.NewStore(cfg.ExportDir)
	if err != nil {
		return err
	}

	sess := session.New(g, p, logger, session.Options{
		ProcessInterval: cfg.ProcessInterval,
		UpscaleCacheTTL: cfg.UpscaleCacheTTL,
	})
	hub := ws.NewServer(sess, logger)
	sess.SetChangeFunc(hub.Notify)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(sess, hub, exports, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		logger.Info().Str("addr", cfg.Addr()).Str("export_dir", exports.BaseDir()).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return ignoreCanceled(sess.Run(groupCtx))
	})
	group.Go(func() error {
		return ignoreCanceled(hub.Run(groupCtx))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return provider.NewGemini(ctx, provider.GeminiOptions{
			APIKey:            cfg.GeminiAPIKey,
			ImageModel:        cfg.GeminiImageModel,
			EditModel:         cfg.GeminiEditModel,
			RequestsPerMinute: cfg.ProviderRequestsPerMinute,
			Logger:            logger,
		})
	case config.ProviderSynthetic:
		logger.Warn().Msg("using the synthetic provider; images are placeholders")
		return provider.NewSynthetic(500 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
