/*
app.go - Component wiring shared by subcommands

PURPOSE:
  Builds logger, metrics, store, ledger and both workflows from the
  loaded config. Every subcommand gets the same wiring.

STORES (database.driver):
  memory    In-process maps, lost on exit
  sqlite    File database at database.path
  postgres  Pooled connection to database.url

SEE ALSO:
  - serve.go, accrue.go: Subcommands using app
  - observability/logger.go: NewLogger
*/
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/leave-credits/api"
	"github.com/warp/leave-credits/config"
	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/observability"
	"github.com/warp/leave-credits/reschedule"
	"github.com/warp/leave-credits/store/memory"
	"github.com/warp/leave-credits/store/postgres"
	"github.com/warp/leave-credits/store/sqlite"
)

// backend is what every store implementation provides.
type backend interface {
	generic.LedgerStore
	generic.AccrualRunStore
	generic.TxManager
	generic.EmployeeDirectory
	generic.LeaveRequestStore
	conversion.Store
	reschedule.Store
	api.Seeder
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	metrics     *observability.Metrics
	store       backend
	closeStore  func() error
	ledger      *generic.CreditLedger
	conversions *conversion.Workflow
	reschedules *reschedule.Workflow
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", zap.String("driver", cfg.Database.Driver))

	clock := generic.SystemClock{Location: loc}

	// The ledger is configured before the workflows: conversion copies
	// clock, policy, logger and metrics from it.
	ledger := generic.NewCreditLedger(store, store, store)
	ledger.Runs = store
	ledger.Clock = clock
	ledger.Policy = policy
	ledger.Logger = logger.Named("ledger")
	ledger.Metrics = metrics

	conversions := conversion.NewWorkflow(store, ledger, store, store)
	conversions.Logger = logger.Named("conversion")

	reschedules := reschedule.NewWorkflow(store, store, store, clock)
	reschedules.Logger = logger.Named("reschedule")
	reschedules.Metrics = metrics

	return &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		store:       store,
		closeStore:  closeStore,
		ledger:      ledger,
		conversions: conversions,
		reschedules: reschedules,
	}, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (backend, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		return s, s.Close, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func (a *app) Close() {
	if err := a.closeStore(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
