package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"randooprun/pkg/logger"
	"randooprun/pkg/metrics"
	"randooprun/pkg/models"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover classes and run the generator once per package",
		Long: `Runs the generator once for every configured package and waits for it.
The command fails if any run fails to start, exits non-zero or outlives its
time limit plus the grace period.

Examples:
  randooprun run -p com.example.model --tool-jar randoop.jar
  randooprun run -p com.example.a -p com.example.b --time-limit 60 --dep lib/guava.jar`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireTool(); err != nil {
				return err
			}
			s, err := a.newSession(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer s.close()
			return a.runOnce(cmd.Context(), s, cmd.OutOrStdout())
		},
	}
	a.addGenFlags(cmd)
	a.addSuperviseFlags(cmd)
	return cmd
}

func (a *app) runOnce(ctx context.Context, s *session, out io.Writer) error {
	records, runErr := s.pipeline.RunAll(ctx, a.cfg.RunConfig(""), a.cfg.Packages)
	printSummary(out, records)

	if path := a.cfg.MetricsTextfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			logger.Get().Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}
	return runErr
}

func printSummary(out io.Writer, records []*models.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tOUTCOME\tEXIT\tCLASSES\tDURATION\tLOG")
	for _, rec := range records {
		if rec == nil {
			continue
		}
		outcome := string(rec.Verdict.Outcome)
		if outcome == "" {
			outcome = "NOT_STARTED"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.PackageName,
			outcome,
			rec.Verdict.ExitCode,
			rec.Classes,
			rec.Verdict.Duration.Round(time.Millisecond),
			rec.LogReference,
		)
	}
	_ = w.Flush()
}
