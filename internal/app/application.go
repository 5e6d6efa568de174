package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"widgetbridge/internal/api"
	"widgetbridge/internal/config"
	"widgetbridge/internal/hub"
	"widgetbridge/internal/logging"
	"widgetbridge/internal/manifest"
	"widgetbridge/internal/store"
)

// Application wires the components in dependency order:
// store → service → manifest → hub → api → http.
type Application struct {
	config     *config.Config
	log        zerolog.Logger
	store      *store.Store
	catalog    *manifest.Catalog
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
}

// New builds the application from validated configuration.
func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Console)

	st, err := store.New(store.Options{
		Path:         cfg.Database.Path,
		WriteTimeout: cfg.Database.WriteTimeout.Duration,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	sessions := store.NewService(st)

	var catalog *manifest.Catalog
	if cfg.Manifest.Path != "" {
		catalog, err = manifest.Load(cfg.Manifest.Path, log)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("load manifest: %w", err)
		}
		if cfg.Manifest.Watch {
			if err := catalog.Watch(); err != nil {
				_ = catalog.Close()
				_ = st.Close()
				return nil, fmt.Errorf("watch manifest: %w", err)
			}
		}
	}

	channelHub := hub.New(hub.Options{
		MailboxSize: cfg.Channel.MailboxSize,
		Logger:      log,
	})

	apiServer := api.NewServer(sessions, st, channelHub, catalog, log)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
	}

	return &Application{
		config:     cfg,
		log:        log.With().Str("component", "app").Logger(),
		store:      st,
		catalog:    catalog,
		hub:        channelHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub and the HTTP server, returning once the
// server accepts connections or startup fails.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Msg("starting widgetbridge")

	if err := app.hub.Start(); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("widgetbridge started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// http → hub → manifest → store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down widgetbridge")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("http shutdown error")
	}
	if err := app.hub.Stop(); err != nil {
		app.log.Warn().Err(err).Msg("hub shutdown error")
	}
	if app.catalog != nil {
		if err := app.catalog.Close(); err != nil {
			app.log.Warn().Err(err).Msg("manifest shutdown error")
		}
	}
	if err := app.store.Close(); err != nil {
		app.log.Warn().Err(err).Msg("store shutdown error")
	}

	app.log.Info().Msg("widgetbridge shutdown complete")
	return nil
}

// Addr returns the server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
