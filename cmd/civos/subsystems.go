package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/qontrek/civos/pkg/budget"
	"github.com/qontrek/civos/pkg/classification"
	"github.com/qontrek/civos/pkg/config"
	"github.com/qontrek/civos/pkg/contracts"
	"github.com/qontrek/civos/pkg/confirmation"
	"github.com/qontrek/civos/pkg/events"
	"github.com/qontrek/civos/pkg/ledger"
	"github.com/qontrek/civos/pkg/ledger/sqlstore"
	"github.com/qontrek/civos/pkg/observability"
	"github.com/qontrek/civos/pkg/vocabulary"
)

// subsystems is the wired governance core.
type subsystems struct {
	telemetry   *observability.Provider
	bus         *events.Bus
	engine      *classification.Engine
	ledger      *ledger.Ledger
	monitor     *budget.Monitor
	guard       *vocabulary.Guard
	coordinator *confirmation.Coordinator

	closers []func() error
}

// Close releases stores in reverse order of opening.
func (s *subsystems) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func buildEngine(cfg *config.Config) (*classification.Engine, error) {
	phase, err := contracts.ParseFrictionPhase(cfg.Classification.FrictionPhase)
	if err != nil {
		return nil, err
	}
	opts := []classification.Option{
		classification.WithSpendThresholds(cfg.SpendThresholds()),
		classification.WithFrictionPhase(phase),
	}
	if cfg.Classification.RulesFile != "" {
		rules, err := classification.LoadRulePack(cfg.Classification.RulesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, classification.WithRules(rules...))
		slog.Info("escalation rules loaded", "file", cfg.Classification.RulesFile, "count", len(rules))
	}
	return classification.NewEngine(opts...)
}

func buildSubsystems(ctx context.Context, cfg *config.Config) (_ *subsystems, err error) {
	s := &subsystems{bus: events.NewBus(), guard: vocabulary.NewGuard()}
	defer func() {
		if err != nil {
			_ = s.Close(ctx)
		}
	}()

	s.telemetry, err = observability.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	s.engine, err = buildEngine(cfg)
	if err != nil {
		return nil, err
	}

	ledgerOpts := []ledger.Option{ledger.WithBus(s.bus)}
	var source ledger.Source
	if cfg.Ledger.Driver != "memory" {
		store, err := sqlstore.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		ledgerOpts = append(ledgerOpts, ledger.WithSink(store))
		source = store
	}
	s.ledger = ledger.New(ledgerOpts...)
	if source != nil {
		n, err := s.ledger.Restore(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("restore ledger: %w", err)
		}
		slog.Info("proof ledger restored", "entries", n, "head", s.ledger.Head())
	}

	store, err := s.budgetStore(ctx, cfg.Budget)
	if err != nil {
		return nil, err
	}
	s.monitor, err = budget.NewMonitor(cfg.Budget.Monthly,
		budget.WithStore(store),
		budget.WithTenant(cfg.Budget.Tenant),
		budget.WithThresholds(budget.Thresholds{
			AutoSpendLimit: cfg.Budget.AutoSpendLimit,
			GreenRatio:     cfg.Budget.GreenRatio,
			YellowRatio:    cfg.Budget.YellowRatio,
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := s.monitor.Restore(ctx); err != nil {
		return nil, err
	}

	s.coordinator = confirmation.NewCoordinator(s.engine, s.ledger,
		confirmation.WithBudget(s.monitor),
		confirmation.WithBus(s.bus),
		confirmation.WithVocabulary(s.guard),
		confirmation.WithMetrics(s.telemetry.Metrics()),
	)

	s.bus.ActionExecuted.Subscribe(func(ctx context.Context, e events.ActionExecuted) {
		slog.InfoContext(ctx, "action executed", "action_id", e.ActionID, "action_type", e.ActionType,
			"type", e.Classification.Type)
	})
	return s, nil
}

func (s *subsystems) budgetStore(ctx context.Context, bc config.BudgetConfig) (budget.Store, error) {
	switch bc.Store {
	case "postgres":
		db, err := sql.Open("postgres", bc.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open budget database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		store := budget.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: bc.RedisAddr})
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", bc.RedisAddr, err)
		}
		return budget.NewRedisStore(client, bc.RedisTTL), nil
	default:
		return budget.NewMemoryStore(), nil
	}
}
