// Package server parses server command flags and composes the storyweave
// process: the SQLite stores, the session coordinator, and the REST and
// WebSocket surfaces on one listener.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/storyweave/storyweave/internal/auth"
	entrypoint "github.com/storyweave/storyweave/internal/platform/cmd"
	"github.com/storyweave/storyweave/internal/services/api"
	realtime "github.com/storyweave/storyweave/internal/services/realtime/app"
	"github.com/storyweave/storyweave/internal/session/coordinator"
	"github.com/storyweave/storyweave/internal/storage/sqlite"
)

// Config holds server command configuration.
type Config struct {
	HTTPAddr          string        `env:"STORYWEAVE_HTTP_ADDR"           envDefault:":8080"`
	DBPath            string        `env:"STORYWEAVE_DB_PATH"             envDefault:"storyweave.db"`
	JWTSecret         string        `env:"STORYWEAVE_JWT_SECRET"`
	ReadHeaderTimeout time.Duration `env:"STORYWEAVE_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"STORYWEAVE_SHUTDOWN_TIMEOUT"    envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "shared secret for participant tokens")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Server owns the composed process resources.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

// NewServer wires the storage, coordination, and transport layers.
func NewServer(cfg Config) (*Server, error) {
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hub := realtime.NewHub()
	coord, err := coordinator.New(coordinator.Stores{Story: store, Session: store}, hub)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	apiHandler, err := api.NewHandler(api.Stores{Story: store, Session: store, Prompt: store}, coord, verifier)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init api handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler.Routes())
	mux.Handle("/", realtime.NewHandler(coord, hub, verifier))

	return &Server{
		httpAddr:        cfg.HTTPAddr,
		shutdownTimeout: cfg.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		store: store,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("storyweave server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}

// Run creates and serves a storyweave server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceStoryweave, func(ctx context.Context) error {
		server, err := NewServer(cfg)
		if err != nil {
			return fmt.Errorf("init server: %w", err)
		}
		defer server.Close()

		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve storyweave: %w", err)
		}
		return nil
	})
}
