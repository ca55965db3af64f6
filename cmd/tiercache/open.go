package main

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/tiercache/pkg/cache"
	"github.com/pario-ai/tiercache/pkg/config"
	"github.com/pario-ai/tiercache/pkg/journal"
	"github.com/pario-ai/tiercache/pkg/logging"
)

// Values are kept as raw JSON so the CLI can handle whatever an embedding
// process stored.
type rawCache = cache.Cache[json.RawMessage]

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	journal *journal.Journal
	cache   *rawCache
}

// openApp builds the logger, the journal when enabled and the cache.
// Background maintenance only runs when loop is true. The returned cleanup
// flushes the L2 index and closes the journal.
func openApp(configPath string, loop bool, extra ...cache.Option) (*app, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}

	rt := &app{cfg: cfg, logger: logger}
	opts := []cache.Option{cache.WithLogger(logger)}

	if cfg.Journal.Enabled {
		rt.journal, err = journal.New(cfg.Journal, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
		opts = append(opts, cache.WithEventSink(rt.journal))
	}
	opts = append(opts, extra...)

	cacheCfg := cfg.Cache.Options()
	if !loop {
		cacheCfg.MaintenanceInterval = -1
	}
	rt.cache, err = cache.New[json.RawMessage](cacheCfg, opts...)
	if err != nil {
		if rt.journal != nil {
			_ = rt.journal.Close()
		}
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Cache.ShutdownTimeout)
		defer cancel()
		if err := rt.cache.Shutdown(ctx); err != nil {
			logger.Error("shutdown cache", zap.Error(err))
		}
		if rt.journal != nil {
			if err := rt.journal.Close(); err != nil {
				logger.Error("close journal", zap.Error(err))
			}
		}
		_ = logger.Sync()
	}
	return rt, cleanup, nil
}

func openJournal(configPath string) (*journal.Journal, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, nil, fmt.Errorf("journal is disabled in config")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	j, err := journal.New(cfg.Journal, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return j, func() {
		_ = j.Close()
		_ = logger.Sync()
	}, nil
}
