package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/mcpforge/server/internal/config"
	"github.com/mcpforge/server/pkg/logger"
)

// Sweeper periodically reaps expired sessions, terminal/expired async tasks, and
// terminal/expired elicitations, grounded on the teacher's robfig/cron scheduler idiom
// (§4.2 session expiry, §4.8 task TTL, §4.9 elicitation TTL).
type Sweeper struct {
	cron         *cron.Cron
	log          *slog.Logger
	store        Store
	tasks        *TaskManager
	elicitations *ElicitationManager
	schedule     string
	idleTTL      time.Duration
}

// NewSweeper constructs the sweeper from the configured cron schedule.
func NewSweeper(cfg *config.Config, log *slog.Logger, store Store, tasks *TaskManager, elicitations *ElicitationManager) *Sweeper {
	return &Sweeper{
		cron:         cron.New(),
		log:          log.With(logger.Scope("mcp.sweeper")),
		store:        store,
		tasks:        tasks,
		elicitations: elicitations,
		schedule:     cfg.MCP.SweepInterval,
		idleTTL:      cfg.MCP.SessionIdleTTL,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.schedule == "" {
		s.log.Info("sweep schedule not configured, skipping sweeper")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("sweeper started", slog.String("schedule", s.schedule))
	return nil
}

// Stop drains in-flight sweeps and stops the cron scheduler.
func (s *Sweeper) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.log.Warn("sweeper stop timed out")
	}
	return nil
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	sessions, err := s.store.SweepExpired(ctx, s.idleTTL)
	if err != nil {
		s.log.Error("session sweep failed", logger.Error(err))
	} else if sessions > 0 {
		s.log.Info("swept expired sessions", slog.Int("count", sessions))
	}

	if tasks := s.tasks.Sweep(); tasks > 0 {
		s.log.Info("swept terminal/expired tasks", slog.Int("count", tasks))
	}

	if elicitations := s.elicitations.Sweep(); elicitations > 0 {
		s.log.Info("swept terminal/expired elicitations", slog.Int("count", elicitations))
	}
}

// startSweeper registers the sweeper's Start/Stop with the fx lifecycle.
func startSweeper(lc fx.Lifecycle, sweeper *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: sweeper.Start,
		OnStop:  sweeper.Stop,
	})
}
