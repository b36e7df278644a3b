package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/veldt-labs/callbox/internal/auth"
	"github.com/veldt-labs/callbox/internal/config"
	"github.com/veldt-labs/callbox/internal/history"
	"github.com/veldt-labs/callbox/internal/httpserver"
	"github.com/veldt-labs/callbox/internal/mailbox"
	"github.com/veldt-labs/callbox/internal/metrics"
	"github.com/veldt-labs/callbox/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting callboxd",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"mailbox_backend", cfg.MailboxBackend,
		"history_backend", cfg.HistoryBackend,
		"mailbox_ttl", cfg.MailboxTTL,
		"max_queued_per_identity", cfg.MaxQueuedPerIdentity,
	)

	logStartupSecurityWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newMailboxStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open mailbox store", "backend", cfg.MailboxBackend, "err", err)
		os.Exit(2)
	}
	defer store.Close()

	hist, err := newHistoryStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open history store", "backend", cfg.HistoryBackend, "err", err)
		os.Exit(2)
	}
	defer hist.Close()

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		logger.Error("failed to configure auth", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	reg := metrics.New()
	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime), reg)

	svc := signaling.NewService(cfg, logger, store, hist, reg)
	svc.RegisterRoutes(srv.Mux(), verifier, srv.OriginMiddleware())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func newMailboxStore(ctx context.Context, cfg config.Config) (mailbox.Store, error) {
	switch cfg.MailboxBackend {
	case config.MailboxBackendRedis:
		return mailbox.NewRedisStore(ctx, mailbox.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			TTL:       cfg.MailboxTTL,
			MaxQueued: cfg.MaxQueuedPerIdentity,
		})
	default:
		return mailbox.NewMemoryStore(mailbox.MemoryOptions{
			TTL:       cfg.MailboxTTL,
			MaxQueued: cfg.MaxQueuedPerIdentity,
		}), nil
	}
}

func newHistoryStore(ctx context.Context, cfg config.Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case config.HistoryBackendPostgres:
		return history.NewPostgresStore(ctx, cfg.PostgresDSN)
	case config.HistoryBackendSQLite:
		return history.NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return history.NewMemoryStore(), nil
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
