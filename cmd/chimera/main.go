package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/chimera/internal/api"
	"github.com/darshan-rambhia/chimera/internal/cache"
	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/config"
	"github.com/darshan-rambhia/chimera/internal/engine"
	"github.com/darshan-rambhia/chimera/internal/model"
	"github.com/darshan-rambhia/chimera/internal/store"
)

// @title Chimera API
// @version 1.0
// @description Server property query engine: filtered, streamed queries over server inventories
// @host localhost:8000
// @BasePath /

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// buildInfo returns version, commit, build time, and VCS details from the
// embedded Go build info. ldflags-injected values take priority.
func buildInfo() (ver, sha, built, dirty string) {
	ver = version
	sha = commit
	built = buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}

	return
}

// catalogCheckTimeout bounds the column lookup run for every catalog
// (re)load.
const catalogCheckTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to chimera.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()

	if *showVersion {
		fmt.Printf("chimera %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Run without -config to use defaults and CHIMERA_* environment overrides.\n")
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting chimera",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"listen", cfg.Listen,
		"driver", cfg.Database.Driver,
	)

	if err := run(cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	slog.Info("chimera stopped gracefully")
}

func setupLogging(cfg *config.Config) {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(api.LogHandler(handler)))
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// Every catalog snapshot, at startup and on reload, must name real
	// columns.
	verify := func(ix *catalog.Index) error {
		vctx, vcancel := context.WithTimeout(context.Background(), catalogCheckTimeout)
		defer vcancel()
		main, side, err := st.Columns(vctx, ix.Name)
		if err != nil {
			return err
		}
		return ix.Verify(main, side)
	}
	cat, err := catalog.Load(map[model.Index]string{
		model.IndexInventory:          cfg.Catalog.Inventory,
		model.IndexBusinessContinuity: cfg.Catalog.BusinessContinuity,
	}, cfg.Catalog.CheckInterval.Duration, verify)
	if err != nil {
		return fmt.Errorf("loading field catalogs: %w", err)
	}

	for _, index := range cat.Indexes() {
		ix, err := cat.Current(index)
		if err != nil {
			return err
		}
		if err := st.EnsureIndexes(ctx, ix); err != nil {
			return fmt.Errorf("creating indexes for %s: %w", index, err)
		}
	}

	c, err := cache.New(ctx, cache.Options{
		TTL:      cfg.Cache.TTL.Duration,
		Size:     cfg.Cache.Size,
		RedisURL: cfg.Cache.RedisURL,
	})
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	defer c.Close()

	e := engine.New(st, cat, engine.Limits{
		MaxResults:              int64(cfg.Limits.MaxResults),
		MaxFilterFields:         cfg.Limits.MaxFilterFields,
		MaxFilterValuesPerField: cfg.Limits.MaxFilterValuesPerField,
		StreamingThreshold:      int64(cfg.Limits.StreamingThreshold),
		ChunkSize:               cfg.Limits.StreamingChunkSize,
		PageSize:                cfg.Limits.PageSize,
		MaxPageSize:             cfg.Limits.MaxPageSize,
		MaxConcurrentStreams:    cfg.Limits.MaxConcurrentStreams,
		RequestTimeout:          cfg.Limits.RequestTimeout.Duration,
	})

	server := api.NewServer(cfg.Listen, e, cat, st, c, api.Options{
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		RateLimit:    api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cat.Run(ctx) })
	g.Go(func() error { return store.NewMaintainer(st, cfg.Database.AnalyzeInterval.Duration).Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	slog.Info("all components started",
		"indexes", len(cat.Indexes()),
		"redis_cache", cfg.Cache.RedisURL != "",
		"max_concurrent_streams", cfg.Limits.MaxConcurrentStreams,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
