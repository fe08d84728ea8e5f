// Package app assembles the loan origination service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/lendflow/internal/api"
	"github.com/ashureev/lendflow/internal/audit"
	"github.com/ashureev/lendflow/internal/bureau"
	"github.com/ashureev/lendflow/internal/config"
	"github.com/ashureev/lendflow/internal/kyc"
	"github.com/ashureev/lendflow/internal/metrics"
	"github.com/ashureev/lendflow/internal/nlu"
	"github.com/ashureev/lendflow/internal/orchestrator"
	"github.com/ashureev/lendflow/internal/presenter"
	"github.com/ashureev/lendflow/internal/sales"
	"github.com/ashureev/lendflow/internal/sanction"
	"github.com/ashureev/lendflow/internal/shared"
	"github.com/ashureev/lendflow/internal/store"
	"github.com/ashureev/lendflow/internal/underwriting"
	"github.com/redis/go-redis/v9"
)

// App holds the wired service and the resources it owns.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *store.SQLiteStore
	Audit        *audit.FileSink
	Metrics      *metrics.Registry
	// Checks are the dependencies reported by the health endpoint.
	Checks map[string]api.Pinger

	closers []func() error
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Build wires every component from cfg. The caller must Close the App.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Checks: make(map[string]api.Pinger)}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.Store = st
	a.Checks["database"] = st
	a.closers = append(a.closers, st.Close)

	locker, err := a.buildLocker(cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	breakerCfg := shared.BreakerConfig{
		MaxConsecutiveFailures: cfg.Breaker.MaxFailures,
		OpenTimeout:            cfg.Breaker.OpenTimeout,
		Interval:               time.Minute,
	}

	registry, err := bureau.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load customer registry: %w", err)
	}
	logger.Info("Customer registry loaded", "customers", registry.Len(), "path", cfg.RegistryPath)

	sink, err := audit.NewFileSink(cfg.AuditDir, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Audit = sink

	letters, err := sanction.NewFileGenerator(cfg.SanctionDir)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Metrics = metrics.NewRegistry()

	a.Orchestrator, err = orchestrator.New(orchestrator.Deps{
		Store:       st,
		Locker:      locker,
		NLU:         buildInterpreter(cfg, breakerCfg, logger),
		Sales:       sales.NewCollector(),
		KYC:         kyc.NewValidator(bureau.NewGuardedRegistry(registry, breakerCfg, logger)),
		Underwriter: underwriting.NewEngine(bureau.NewGuardedScores(bureau.HashScores{}, breakerCfg, logger)),
		Sanction:    letters,
		Audit:       sink,
		Presenter:   presenter.NewPlain(""),
		Metrics:     a.Metrics,
		Logger:      logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildLocker(cfg *config.Config, logger *slog.Logger) (store.Locker, error) {
	switch cfg.Lock.Backend {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
		a.Checks["redis"] = redisPinger{client: client}
		a.closers = append(a.closers, client.Close)
		logger.Info("Using redis session locks", "addr", cfg.Lock.RedisAddr)
		return store.NewRedisLocker(client, store.RedisLockerConfig{
			TTL:  cfg.Lock.TTL,
			Wait: cfg.Lock.Wait,
		}, logger), nil
	case config.LockMemory, "":
		return store.NewMemoryLocker(cfg.Lock.Wait), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

func buildInterpreter(cfg *config.Config, breakerCfg shared.BreakerConfig, logger *slog.Logger) nlu.Interpreter {
	if cfg.NLU.Provider == config.NLUOllama {
		logger.Info("Using Ollama intent detection", "url", cfg.NLU.OllamaURL, "model", cfg.NLU.OllamaModel)
		return nlu.NewOllama(nlu.OllamaConfig{
			BaseURL: cfg.NLU.OllamaURL,
			Model:   cfg.NLU.OllamaModel,
			Timeout: cfg.NLU.Timeout,
			Breaker: breakerCfg,
		}, logger)
	}
	return nlu.NewRules()
}

// Close releases owned resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
