// Package schedule provides a cron-based run source: it fires a fixed
// workflow on a schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// FireFunc is invoked on every tick with the trigger data for the run.
type FireFunc func(ctx context.Context, triggerData map[string]any) error

type Source struct {
	ID       string
	CronExpr string
	Enabled  bool

	cron   *cron.Cron
	fire   FireFunc
	logger *slog.Logger
}

func NewSource(id, cronExpr string, logger *slog.Logger) (*Source, error) {
	source := &Source{
		ID:       id,
		CronExpr: cronExpr,
		Enabled:  true,
		logger: logger.With(
			"module", "schedule_source",
			"id", id,
			"cron", cronExpr,
		),
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	return source, nil
}

func (s *Source) Validate() error {
	if s.ID == "" {
		return errors.New("schedule source ID is required")
	}

	if s.CronExpr == "" {
		return errors.New("schedule source cron expression is required")
	}

	if _, err := cron.ParseStandard(s.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (s *Source) Start(ctx context.Context, fire FireFunc) error {
	if !s.Enabled {
		s.logger.InfoContext(ctx, "Schedule source is disabled")

		return nil
	}

	s.logger.InfoContext(ctx, "Starting schedule source")
	s.fire = fire

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := s.cron.AddFunc(s.CronExpr, s.run)
	if err != nil {
		return fmt.Errorf("failed to add cron job for source %s: %w", s.ID, err)
	}

	s.logger.Info("Added cron job", "entry_id", entryID)
	s.cron.Start()

	return nil
}

func (s *Source) run() {
	s.logger.Info("Cron tick fired")

	triggerData := map[string]any{
		"triggerId": s.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	go func() {
		if err := s.fire(context.Background(), triggerData); err != nil {
			s.logger.Error("Error starting scheduled run", "error", err)
		}
	}()
}

func (s *Source) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping schedule source", "id", s.ID)

	if s.cron != nil {
		s.cron.Stop()
	}

	return nil
}
