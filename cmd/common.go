/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/valpere/batchtran/internal/config"
	"github.com/valpere/batchtran/internal/logging"
	"github.com/valpere/batchtran/internal/orchestrator"
	"github.com/valpere/batchtran/internal/ratelimit"
	"github.com/valpere/batchtran/internal/store"
	"github.com/valpere/batchtran/internal/translator"
	"github.com/valpere/batchtran/internal/validator"
)

// runtime is the wiring shared by commands that submit jobs.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *store.Store
	redis  *redis.Client
	engine *orchestrator.Engine
}

// loadConfig reads the .env file, configuration and builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	if _, err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env")); err != nil {
		return nil, zerolog.Logger{}, err
	}
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	return cfg, logger, nil
}

// openStore opens the configured database, or returns nil when none is set.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// buildService constructs the configured provider, wrapped in translation
// memory unless caching is disabled or there is no database.
func buildService(cfg *config.Config, db *store.Store) (translator.TranslationService, error) {
	sc, err := cfg.Service(cfg.Provider)
	if err != nil {
		return nil, err
	}
	svc, err := translator.Build(cfg.Provider, sc)
	if err != nil {
		return nil, err
	}
	if db != nil && !cfg.NoCache {
		return translator.NewCachedService(svc, db), nil
	}
	return svc, nil
}

func setup(cmd *cobra.Command) (*runtime, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	db, err := openStore(cfg.DB)
	if err != nil {
		return nil, err
	}

	svc, err := buildService(cfg, db)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if db != nil {
		opts = append(opts, orchestrator.WithRecorder(db))
	}
	if cfg.ValidateOutput {
		opts = append(opts, orchestrator.WithValidator(validator.New()))
	}

	var rc *redis.Client
	if cfg.Limiter == ratelimit.KindRedis {
		rc = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counter := ratelimit.NewRedisCounter(rc)
		key := cfg.GateKey()
		opts = append(opts, orchestrator.WithGateFactory(func() (ratelimit.Gate, error) {
			return ratelimit.NewSharedWindow(counter, key, cfg.QPS, cfg.Interval), nil
		}))
	}

	logger.Debug().
		Str("provider", cfg.Provider).
		Int("qps", cfg.QPS).
		Dur("interval", cfg.Interval).
		Str("limiter", cfg.Limiter).
		Bool("memory", db != nil && !cfg.NoCache).
		Msg("engine configured")

	return &runtime{
		cfg:    cfg,
		logger: logger,
		db:     db,
		redis:  rc,
		engine: orchestrator.New(svc, cfg.Engine(), opts...),
	}, nil
}

func (r *runtime) Close() {
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close database")
		}
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
