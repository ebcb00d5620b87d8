// Package scheduler turns the collector into a daemon, running passes on
// a cron spec.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"nichefeed/internal/pipeline"
)

const (
	timezone              = "UTC"
	timezoneOffsetSeconds = 0
	passTimeout           = 15 * time.Minute
)

// Runner executes one ingest pass.
type Runner interface {
	Run(ctx context.Context) pipeline.Summary
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	spec   string
	runner Runner
	log    *slog.Logger
}

// New builds a scheduler that fires runner on the given cron spec. Ticks
// arriving while a pass is still running are skipped, not queued.
func New(ctx context.Context, spec string, runner Runner, log *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.FixedZone(timezone, timezoneOffsetSeconds)),
		cron.WithChain(cron.SkipIfStillRunning(
			cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn)))),
	)

	return &Scheduler{
		ctx:    ctx,
		cron:   c,
		spec:   spec,
		runner: runner,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.runPass); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runPass() {
	ctx, cancel := context.WithTimeout(s.ctx, passTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	s.runner.Run(ctx)
}
