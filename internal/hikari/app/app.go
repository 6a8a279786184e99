// Package app wires Hikari's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Hikari/internal/hikari/commands"
	"github.com/bdobrica/Hikari/internal/hikari/companion"
	"github.com/bdobrica/Hikari/internal/hikari/config"
	"github.com/bdobrica/Hikari/internal/hikari/docstore"
	"github.com/bdobrica/Hikari/internal/hikari/gate"
	"github.com/bdobrica/Hikari/internal/hikari/governor"
	"github.com/bdobrica/Hikari/internal/hikari/llm"
	"github.com/bdobrica/Hikari/internal/hikari/matrix"
	"github.com/bdobrica/Hikari/internal/hikari/memory"
	"github.com/bdobrica/Hikari/internal/hikari/metrics"
	"github.com/bdobrica/Hikari/internal/hikari/sweep"
)

// App is the assembled companion.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store     docstore.Store
	metrics   *metrics.Collector
	governor  *governor.Governor
	sessions  *memory.Sessions
	longTerm  *memory.LongTerm
	provider  *llm.OpenAI
	matrix    *matrix.Client
	gate      *gate.Pipeline
	companion *companion.Companion

	sweepers []*sweep.Runner
	cron     *cron.Cron
	health   *HealthServer
}

// New builds every component from cfg. It opens the document store but does
// not contact the homeserver or the model provider.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	logger.Info("opening document store", "backend", cfg.Store.Backend)
	store, err := docstore.Open(ctx, docstore.Config{
		Backend:       cfg.Store.Backend,
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		KeyPrefix:     cfg.Store.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	a, err := build(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, store docstore.Store, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
	}

	govCfg := governor.Config{
		DailyTokenLimit:  cfg.Governor.DailyTokenLimit,
		LowWaterFraction: cfg.Governor.LowWaterFraction,
		Cooldown:         cfg.Governor.Cooldown,
		MaxPerMinute:     cfg.Governor.MaxPerMinute,
		Logger:           logger,
	}
	if cfg.Governor.PersistBudget {
		govCfg.Store = store
	}
	a.governor = governor.New(govCfg)
	a.governor.LoadBudget(ctx)
	a.metrics.BudgetRemaining(a.governor.Snapshot().Remaining)

	a.provider = llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		Model:             cfg.Provider.Model,
		MaxTokens:         cfg.Provider.MaxTokens,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Metrics:           a.metrics,
		Logger:            logger,
	})

	var summariser memory.Summariser = memory.ExtractiveSummariser{}
	if cfg.Provider.SummariseSessions {
		summariser = &llm.Summariser{
			Provider: a.provider,
			Budget:   a.governor,
			Fallback: memory.ExtractiveSummariser{},
		}
		logger.Info("session summaries: llm", "model", a.provider.Model())
	}
	a.sessions = memory.NewSessions(memory.SessionConfig{
		MaxEntries: cfg.Session.MaxEntries,
		MaxAge:     cfg.Session.MaxAge,
		Summariser: summariser,
		Store:      store,
		Logger:     logger,
		Metrics:    a.metrics,
	})

	lt, err := memory.NewLongTerm(memory.LongTermConfig{
		MaxFacts:         cfg.LongTerm.MaxFacts,
		MaxPreferences:   cfg.LongTerm.MaxPreferences,
		MaxRelationships: cfg.LongTerm.MaxRelationships,
		ArchiveAfter:     cfg.LongTerm.ArchiveAfter,
		MinRelevance:     cfg.LongTerm.MinRelevance,
		Weights: memory.Weights{
			Recency:    cfg.LongTerm.Weights.Recency,
			Importance: cfg.LongTerm.Weights.Importance,
			Age:        cfg.LongTerm.Weights.Age,
		},
		NodeID:  cfg.LongTerm.NodeID,
		Store:   store,
		Logger:  logger,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: long-term memory: %w", err)
	}
	a.longTerm = lt

	mc, err := matrix.New(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		DisplayName: cfg.Matrix.DisplayName,
		Rooms:       cfg.Matrix.Rooms,
		AutoJoin:    cfg.Matrix.AutoJoin,
		Bots:        cfg.Matrix.Bots,
		Store:       store,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: matrix client: %w", err)
	}
	a.matrix = mc

	a.gate, err = gate.New(gate.Config{
		CompanionID:     mc.UserID(),
		DisplayName:     cfg.Matrix.DisplayName,
		CommandPrefixes: slices.Concat(cfg.Gate.CommandPrefixes, []string{cfg.Commands.Prefix}),
		CommandPattern:  cfg.Gate.CommandPattern,
		Content: gate.ContentFilter{
			MaxLength: cfg.Gate.MaxContentLength,
			Blocked:   cfg.Gate.BlockedTerms,
		},
		Fetcher:   mc,
		Governor:  a.governor,
		AIReplies: gate.NewAIReplySet(cfg.Gate.AIReplyCap, cfg.Gate.AIReplyTrimTo),
		Metrics:   a.metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: gate: %w", err)
	}

	handlers := &commands.Handlers{
		Governor: a.governor,
		Sessions: a.sessions,
		LongTerm: a.longTerm,
		Metrics:  a.metrics,
	}
	router := handlers.NewRouter(cfg.Commands.Prefix)

	a.companion = companion.New(companion.Config{
		Gate:     a.gate,
		Commands: router,
		Governor: a.governor,
		Sessions: a.sessions,
		LongTerm: a.longTerm,
		Assembler: &memory.Assembler{
			Sessions:    a.sessions,
			LongTerm:    a.longTerm,
			CountTokens: a.provider.Tokens().Count,
		},
		Provider:  a.provider,
		Transport: mc,
		Persona:   cfg.Provider.Persona,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	if _, err := cron.ParseStandard(cfg.LongTerm.SweepSchedule); err != nil {
		return nil, fmt.Errorf("app: long-term sweep schedule %q: %w", cfg.LongTerm.SweepSchedule, err)
	}
	a.sweepers = []*sweep.Runner{
		sweep.New("governor", cfg.Governor.SweepInterval, a.governor.Sweep, logger),
		sweep.New("sessions", cfg.Session.SweepInterval, a.sessions.Sweep, logger),
	}

	if cfg.HTTP.Addr != "" {
		a.health = NewHealthServer(cfg.HTTP.Addr, a)
		a.health.Handle("/metrics", a.metrics.Handler())
		logger.Info("health server configured", "addr", cfg.HTTP.Addr)
	}
	return a, nil
}

// Status implements the health server's status provider.
func (a *App) Status() Status {
	return Status{
		Budget:         a.governor.Snapshot(),
		Cooldowns:      a.governor.CooldownCount(),
		RateCounters:   a.governor.RateCounterCount(),
		CachedSessions: a.sessions.CachedSessions(),
		CachedUsers:    a.longTerm.CachedUsers(),
		AIReplies:      a.gate.AIReplies().Len(),
	}
}

// Run starts the sweeps, the long-term schedule, the health server and the
// Matrix sync, and blocks until ctx is cancelled or the sync fails. The
// store is closed before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched, err := newSchedule(a.cfg.LongTerm.SweepSchedule, func() {
		a.longTerm.Sweep(ctx, time.Now())
	})
	if err != nil {
		return err
	}
	a.cron = sched

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range a.sweepers {
		g.Go(func() error {
			r.Run(ctx)
			return nil
		})
	}

	a.cron.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-a.cron.Stop().Done()
		return nil
	})

	g.Go(func() error {
		defer cancel()
		a.logger.Info("starting Matrix sync", "user_id", a.matrix.UserID())
		if err := a.matrix.Run(ctx, a.companion.HandleMessage); err != nil {
			return fmt.Errorf("app: matrix: %w", err)
		}
		return nil
	})

	a.logger.Info("Hikari is running", "model", a.provider.Model())
	err = g.Wait()
	a.logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop ends the Matrix sync, which makes Run return.
func (a *App) Stop() {
	a.matrix.Stop()
}

func (a *App) close() {
	if a.health != nil {
		a.health.Stop()
	}
	a.logger.Info("closing document store")
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close document store", "err", err)
	}
}
