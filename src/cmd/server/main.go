package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"kbserve/src/internal/api"
	"kbserve/src/internal/config"
	"kbserve/src/internal/embed"
	"kbserve/src/internal/kb"
	"kbserve/src/internal/maintenance"
	"kbserve/src/internal/observability"
	"kbserve/src/internal/server"

	"golang.org/x/sync/errgroup"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to config file to load first")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		slog.Error("failed to create storage directory", "path", cfg.StorageDir, "error", err)
		os.Exit(1)
	}

	// PID file management
	pidPath := filepath.Join(cfg.StorageDir, "kbserve.pid")
	if pidBytes, err := os.ReadFile(pidPath); err == nil {
		pidStr := strings.TrimSpace(string(pidBytes))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid > 0 {
			if syscall.Kill(pid, 0) == nil {
				slog.Error("kbserve already running", "pid", pid, "pidfile", pidPath)
				os.Exit(1)
			}
			if err := os.Remove(pidPath); err != nil {
				slog.Warn("failed to remove stale pidfile", "path", pidPath, "error", err)
			} else {
				slog.Info("cleaned stale pidfile", "pid", pid)
			}
		}
	}
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		slog.Error("failed to write pidfile", "path", pidPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := os.Remove(pidPath); err != nil {
			slog.Error("failed to remove pidfile", "path", pidPath, "error", err)
		}
	}()

	dbPath := filepath.Join(cfg.StorageDir, "kb.db")
	engine, err := kb.New(dbPath, cfg.Embeddings.Dimension)
	if err != nil {
		slog.Error("failed to initialize kb engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	embedder, err := embed.FromConfig(&cfg.Embeddings)
	if err != nil {
		slog.Error("failed to initialize embedder", "error", err)
		os.Exit(1)
	}
	slog.Info("embedder initialized", "provider", cfg.Embeddings.Provider, "dimension", embedder.Dimension())

	metrics := observability.NewMetrics("kbserve", nil)
	metrics.Memories.Set(float64(engine.Size()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Maintenance.Enabled {
		runner := maintenance.NewRunner(engine)
		if err := runner.Start(cfg.Maintenance.Schedule); err != nil {
			slog.Error("failed to start maintenance", "error", err)
			os.Exit(1)
		}
		defer runner.Stop()
	}

	handler := server.NewHandler(engine, embedder, metrics)
	tcpServer := server.NewServer(handler)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tcpServer.ListenAndServe(gctx, cfg.Server.Addr)
	})

	if cfg.HTTP.Enabled {
		httpServer := api.NewServer(engine, embedder, cfg.HTTP.Key)
		g.Go(func() error {
			return httpServer.ListenAndServe(gctx, cfg.HTTP.Addr)
		})
	}

	slog.Info("kb service ready", "memories", engine.Size(), "addr", cfg.Server.Addr)

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
