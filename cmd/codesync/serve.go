package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"codesync/api/internal/app"
	"codesync/api/internal/archive"
	"codesync/api/internal/authpw"
	"codesync/api/internal/config"
	"codesync/api/internal/room"
	"codesync/api/internal/store"
	"github.com/spf13/cobra"
)

// backend is a repository that also holds user accounts.
type backend interface {
	store.Repository
	store.UserRepository
}

func openBackend(ctx context.Context, cfg config.Config) (backend, *sql.DB, error) {
	var (
		dialect store.Dialect
		dsn     string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "memory":
		return store.NewMemoryRepository(), nil, nil
	case "postgres":
		dialect, dsn = store.DialectPostgres, cfg.DatabaseURL
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dialect, dsn = store.DialectSQLite, cfg.SQLitePath
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	db, err := store.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewSQLRepository(db, dialect), db, nil
}

func runMigrate(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store == "" || cfg.Store == "memory" {
		log.Printf("memory store has no migrations")
		return nil
	}
	_, db, err := openBackend(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("migrations applied to %s store", cfg.Store)
	return nil
}

func runServe(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, db, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	log.Printf("Using %s store", cfg.Store)

	hub := room.NewHub()
	defer hub.Close()

	if strings.TrimSpace(cfg.RedisURL) != "" {
		relay, err := room.NewRedisRelay(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer relay.Close()
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx, hub); err != nil {
				log.Printf("relay stopped: %v", err)
			}
		}()
		log.Printf("Relaying room events through Redis")
	}

	var mirror *archive.GitMirror
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			return fmt.Errorf("failed to create archive dir: %w", err)
		}
		mirror = archive.New(cfg.ArchiveDir)
		log.Printf("Mirroring snapshots to %s", cfg.ArchiveDir)
	}

	users := authpw.NewService(repo, cfg.JWTSecret, cfg.AccessTTL)
	service := app.New(cfg, store.NewProjectStore(repo), users, hub, mirror)
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("codesync listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Sockets are hijacked, so Shutdown does not wait for them; closing the
	// hub ends their writers.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}
