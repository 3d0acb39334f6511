package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/config"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/httpapi"
	"github.com/dkeye/chorus/internal/room"
	"github.com/dkeye/chorus/internal/snapshot"
	"github.com/dkeye/chorus/internal/storage"
	"github.com/dkeye/chorus/internal/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var store storage.ObjectStore
	if cfg.Storage.Endpoint != "" {
		s, err := storage.NewMinioStore(cfg.Storage)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect object store")
		}
		store = s
	} else {
		log.Warn().Msg("no storage endpoint configured, state will not survive restarts")
		store = storage.NewMemStore()
	}

	clock := clockwork.NewRealClock()
	settings := room.Settings{
		ScheduleLead:      cfg.ScheduleLead,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		OrbitTick:         cfg.OrbitTick,
	}

	// The registry's cleanup callback deletes the room's objects; the
	// manager needs the registry too, hence the two-step wiring.
	var manager *snapshot.Manager
	registry := room.NewRegistry(clock, settings, cfg.CleanupDelay, func(ctx context.Context, id domain.RoomID) {
		manager.DeleteRoomObjects(ctx, id)
	})
	manager = snapshot.NewManager(store, registry, clock, snapshot.Options{
		Interval:           cfg.BackupInterval,
		Keep:               cfg.BackupKeep,
		RestoreConcurrency: cfg.RestoreConcurrency,
		PublicURL:          cfg.Storage.PublicURL,
	})

	if _, err := manager.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("state restore failed, starting empty")
	}

	backupDone := make(chan struct{})
	go func() {
		manager.Run(ctx)
		close(backupDone)
	}()

	ctl := ws.NewController(registry, clock)
	router := httpapi.SetupRouter(ctx, httpapi.Deps{
		Cfg:   cfg,
		Rooms: registry,
		Store: store,
		WS:    ctl,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("chorus server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	registry.ShutdownAll()
	// The backup loop takes one final snapshot on its way out.
	<-backupDone
	log.Info().Msg("Server exited gracefully")
}
