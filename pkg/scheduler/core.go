package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"randooprun/pkg/logger"
	"randooprun/pkg/metrics"
	"randooprun/pkg/models"
)

// ErrRoundInProgress is returned when a round is requested while another
// one is still running.
var ErrRoundInProgress = errors.New("a generation round is already running")

// Generator runs one generation round over a set of packages.
type Generator interface {
	RunAll(ctx context.Context, base models.RunConfig, packages []string) ([]*models.RunRecord, error)
}

// Core fires a generation round over the configured packages on a cron
// schedule. At most one round runs at a time, whatever started it; a
// trigger that arrives while a round is running is skipped.
type Core struct {
	gen      Generator
	base     models.RunConfig
	packages []string

	spec     string
	parser   cron.Parser
	schedule cron.Schedule
	log      *zap.Logger

	running atomic.Bool
}

// NewCore parses spec (five-field cron or a descriptor such as "@hourly"
// or "@every 30m").
func NewCore(spec string, gen Generator, base models.RunConfig, packages []string) (*Core, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	if len(packages) == 0 {
		return nil, fmt.Errorf("no packages to schedule")
	}

	return &Core{
		gen:      gen,
		base:     base,
		packages: append([]string(nil), packages...),
		spec:     spec,
		parser:   parser,
		schedule: schedule,
		log:      logger.Get().With(zap.String("component", "scheduler")),
	}, nil
}

// Next returns the first trigger time after t.
func (c *Core) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// Run starts the cron loop and blocks until ctx is cancelled. On shutdown it
// waits for a round in progress to finish.
func (c *Core) Run(ctx context.Context) error {
	cl := cronLogger{c.log.Sugar()}
	runner := cron.New(
		cron.WithParser(c.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	runner.Schedule(c.schedule, cron.FuncJob(func() { c.fire(ctx) }))

	c.log.Info("Scheduler started",
		zap.String("schedule", c.spec),
		zap.Strings("packages", c.packages),
		zap.Time("next_run", c.Next(time.Now())),
	)
	runner.Start()

	<-ctx.Done()
	c.log.Info("Shutting down, waiting for running round")
	<-runner.Stop().Done()
	return nil
}

// fire is the cron job body.
func (c *Core) fire(ctx context.Context) {
	err := c.Trigger(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRoundInProgress):
		c.log.Warn("Skipping scheduled round, previous round still running")
	default:
		c.log.Error("Scheduled round failed", zap.Error(err))
	}
}

// Running reports whether a round is in progress.
func (c *Core) Running() bool {
	return c.running.Load()
}

// Trigger runs one round now and waits for it. It returns
// ErrRoundInProgress without running anything if a round is already going.
func (c *Core) Trigger(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.running.Store(false)
	return c.round(ctx)
}

// Launch starts a round in the background. The guard is taken before Launch
// returns, so ErrRoundInProgress is reported synchronously; the round's
// result is delivered on the returned channel.
func (c *Core) Launch(ctx context.Context) (<-chan error, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		defer c.running.Store(false)
		done <- c.round(ctx)
	}()
	return done, nil
}

func (c *Core) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrRoundInProgress
	}
	return nil
}

func (c *Core) round(ctx context.Context) error {
	metrics.ScheduledTriggers.Inc()

	start := time.Now()
	records, err := c.gen.RunAll(ctx, c.base, c.packages)

	failed := 0
	for _, rec := range records {
		if rec != nil && rec.Error != "" {
			failed++
		}
	}
	c.log.Info("Round finished",
		zap.Int("runs", len(records)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
		zap.Time("next_run", c.Next(time.Now())),
	)
	return err
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
