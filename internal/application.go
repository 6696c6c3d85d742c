package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/akbashev/tictacfish-backend/internal/config"
	"github.com/akbashev/tictacfish-backend/internal/eventstore"
	"github.com/akbashev/tictacfish-backend/internal/lobby"
	"github.com/akbashev/tictacfish-backend/internal/player"
	"github.com/akbashev/tictacfish-backend/internal/server"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	store, err := eventstore.NewRedisStore(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = store.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	coordinator := lobby.New(ctx, logger, store, conf.Game.SearchBackoff)
	registry := player.NewRegistry(logger, coordinator)
	srv := server.New(logger, registry, conf.Game.HeartbeatTimeout)

	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := srv.Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
