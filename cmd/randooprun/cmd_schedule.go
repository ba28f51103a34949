package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"randooprun/pkg/api"
	"randooprun/pkg/logger"
	"randooprun/pkg/metrics"
	"randooprun/pkg/models"
	"randooprun/pkg/scheduler"
)

func newScheduleCmd(a *app) *cobra.Command {
	var (
		cronSpec   string
		listenAddr string
		runNow     bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run generation rounds on a cron schedule and serve their status",
		Long: `Runs a generation round over all configured packages whenever the cron
schedule fires, and serves health, metrics and recent run records over HTTP
until interrupted. Only one round runs at a time: a cron tick, --run-now or
API trigger that arrives while a round is running is skipped.

Examples:
  randooprun schedule -p com.example.model --tool-jar randoop.jar --cron "0 2 * * *"
  randooprun schedule --config randooprun.yaml --cron "@every 6h" --listen :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("cron") {
				cfg.Schedule = cronSpec
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listenAddr
			}
			if cfg.Schedule == "" {
				return errors.New("a cron schedule is required (--cron or RANDOOP_SCHEDULE)")
			}
			if err := cfg.RequireTool(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := a.newSession(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer s.close()

			history := api.NewHistory(api.DefaultHistorySize)
			s.pipeline.OnRecord(history.Add)
			s.pipeline.OnRecord(func(*models.RunRecord) {
				if cfg.MetricsTextfile == "" {
					return
				}
				if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
					logger.Get().Warn("Failed to write metrics textfile", zap.Error(err))
				}
			})

			core, err := scheduler.NewCore(cfg.Schedule, s.pipeline, cfg.RunConfig(""), cfg.Packages)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return core.Run(gctx) })

			if cfg.ListenAddr != "" {
				srv := api.NewServer(api.Config{
					Addr:        cfg.ListenAddr,
					ServiceName: serviceName,
					History:     history,
					LogStore:    s.pipeline.LogStore(),
					Trigger:     core,
					BaseContext: gctx,
				})
				g.Go(srv.Start)
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			if runNow {
				g.Go(func() error {
					switch err := core.Trigger(gctx); {
					case errors.Is(err, scheduler.ErrRoundInProgress):
						logger.Get().Warn("Initial round skipped, a round is already running")
					case err != nil:
						logger.Get().Error("Initial round failed", zap.Error(err))
					}
					return nil
				})
			}

			return g.Wait()
		},
	}
	a.addGenFlags(cmd)
	a.addSuperviseFlags(cmd)
	f := cmd.Flags()
	f.StringVar(&cronSpec, "cron", "", `cron schedule, e.g. "0 2 * * *" or "@every 6h"`)
	f.StringVar(&listenAddr, "listen", "", "status API address; empty disables it")
	f.BoolVar(&runNow, "run-now", false, "run one round immediately on start")
	return cmd
}
