// Package arena parses arena service flags and launches the service.
package arena

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	entrypoint "github.com/louisbranch/worldbuild.space/internal/platform/cmd"
	"github.com/louisbranch/worldbuild.space/internal/platform/timeouts"

	"github.com/louisbranch/worldbuild.space/internal/match"
	"github.com/louisbranch/worldbuild.space/internal/provider"
	"github.com/louisbranch/worldbuild.space/internal/server"
	"github.com/louisbranch/worldbuild.space/internal/storage/sqlite"
	"github.com/louisbranch/worldbuild.space/internal/stream"
)

// Config holds arena command configuration.
type Config struct {
	Addr            string  `env:"WORLDBUILD_SPACE_ARENA_ADDR" envDefault:":8080"`
	DBPath          string  `env:"WORLDBUILD_SPACE_ARENA_DB_PATH" envDefault:"arena.db"`
	Provider        string  `env:"WORLDBUILD_SPACE_ARENA_PROVIDER" envDefault:"mock"`
	Model           string  `env:"WORLDBUILD_SPACE_ARENA_MODEL"`
	Temperature     float64 `env:"WORLDBUILD_SPACE_ARENA_TEMPERATURE" envDefault:"0.8"`
	MaxOutputTokens int     `env:"WORLDBUILD_SPACE_ARENA_MAX_OUTPUT_TOKENS" envDefault:"900"`
	APIKey          string  `env:"OPENAI_API_KEY"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The arena HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The SQLite database path")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "The turn generator backend (mock or openai)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "The model for the openai backend")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the arena HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceArena, func(context.Context) error {
		return serve(ctx, cfg)
	})
}

func serve(ctx context.Context, cfg Config) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	generator, err := provider.New(provider.Config{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		APIKey:          cfg.APIKey,
	})
	if err != nil {
		return fmt.Errorf("configure provider: %w", err)
	}

	logger := slog.Default()
	hub := stream.NewHub()
	matches := match.NewService(store, hub, generator, logger)
	api := server.New(store, hub, matches, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	serveErr := make(chan error, 1)
	log.Printf("arena listening on %s", cfg.Addr)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := httpServer.Shutdown(shutdownCtx)
		cancel()
		// Let in-flight matches finish persisting their logs before the
		// store closes.
		matches.Wait()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		matches.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
