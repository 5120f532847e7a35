// SPDX-License-Identifier: MIT

// momd is the builder/storage daemon: it owns the tenant catalogs, the
// layered artifact store and the derivation pipeline, and serves them over
// HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cubhouse/mom/internal/api"
	"github.com/cubhouse/mom/internal/catalog"
	"github.com/cubhouse/mom/internal/config"
	"github.com/cubhouse/mom/internal/deriver"
	"github.com/cubhouse/mom/internal/jobs"
	momlog "github.com/cubhouse/mom/internal/log"
	"github.com/cubhouse/mom/internal/storage"
	"github.com/cubhouse/mom/internal/watcher"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("momd %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "momd: %v\n", err)
		os.Exit(1)
	}

	momlog.Configure(momlog.Config{Level: cfg.LogLevel, Service: "momd"})
	logger := momlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := momlog.WithComponent("daemon")
	logger.Info().Str("version", version).Str("env", cfg.Env).Str("listen", cfg.Listen).Msg("starting")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cat, err := catalog.NewStore(filepath.Join(cfg.DataDir, "catalog.db"))
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := jobs.NewRegistry()
	exec := deriver.New(deriver.Config{
		Env:         cfg.Env,
		EncoderBin:  cfg.EncoderBin,
		DevRoot:     cfg.DevRoot,
		EncodeSlots: cfg.EncodeSlots,
	}, cat, store, reg)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(cfg, exec, reg, cat, store).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Listen).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Watch.Enabled {
		w := watcher.New(cfg.DevRoot, "dev", cfg.Env, cat, store, exec, cfg.Watch.Debounce)
		g.Go(func() error {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// buildStore assembles the layered artifact store: memory, then the optional
// shared redis tier, then badger on local disk as the system of record.
func buildStore(cfg config.Config) (storage.Store, func(), error) {
	logger := momlog.WithComponent("storage")

	disk, err := storage.OpenBadger(filepath.Join(cfg.DataDir, "objects"))
	if err != nil {
		return nil, nil, err
	}

	tiers := []storage.Tier{{Name: "memory", Store: storage.NewMemory(cfg.MemoryCacheBytes)}}
	closers := []func() error{disk.Close}

	if cfg.Redis.Addr != "" {
		shared, err := storage.NewRedis(storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
		if err != nil {
			_ = disk.Close()
			return nil, nil, err
		}
		tiers = append(tiers, storage.Tier{Name: "redis", Store: shared})
		closers = append(closers, shared.Close)
	}

	tiers = append(tiers, storage.Tier{Name: "disk", Store: disk})
	layered, err := storage.NewLayered(logger, tiers...)
	if err != nil {
		_ = disk.Close()
		return nil, nil, err
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("store close failed")
			}
		}
	}
	return layered, cleanup, nil
}
