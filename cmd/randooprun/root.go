package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "randooprun/configs"
	"randooprun/pkg/executor"
	"randooprun/pkg/executor/runner"
	"randooprun/pkg/logger"
	tracing "randooprun/pkg/observability"
	"randooprun/pkg/storage"
)

const serviceName = "randooprun"

// app carries state shared by every subcommand: the merged configuration
// and the raw flag values it was merged from.
type app struct {
	configPath  string
	logLevel    string
	logEncoding string

	cfg *config.Config
	gen genFlags
}

// genFlags mirror the Config fields that can be set on the command line.
type genFlags struct {
	packages        []string
	sourceDir       string
	targetDir       string
	timeLimit       int
	deps            []string
	toolJar         string
	workDir         string
	java            string
	grace           int
	noKill          bool
	parallelism     int
	logDir          string
	metricsTextfile string
	stream          bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "randooprun",
		Short: "Generate unit tests for a Java package with Randoop",
		Long: `randooprun discovers the instantiable classes of one or more Java packages
on a compiled classpath and runs the Randoop test generator over them under a
time budget. It stands in for the build-tool plugin: configuration comes from
flags, RANDOOP_* environment variables and an optional YAML file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logEncoding, "log-encoding", "", "log encoding (console, json)")

	root.AddCommand(
		newRunCmd(a),
		newClassesCmd(a),
		newCommandCmd(a),
		newScheduleCmd(a),
	)
	return root
}

// addGenFlags registers the flags shared by every subcommand that works on
// packages.
func (a *app) addGenFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVarP(&a.gen.packages, "package", "p", nil, "package to generate tests for (repeatable)")
	f.StringVar(&a.gen.sourceDir, "source-dir", "", "compiled classes of the project")
	f.StringVar(&a.gen.targetDir, "target-dir", "", "output directory for generated tests")
	f.IntVar(&a.gen.timeLimit, "time-limit", 0, "generation time budget in seconds")
	f.StringArrayVar(&a.gen.deps, "dep", nil, "dependency jar or directory (repeatable, in classpath order)")
	f.StringVar(&a.gen.toolJar, "tool-jar", "", "Randoop jar")
	f.StringVar(&a.gen.workDir, "work-dir", "", "working directory of the generator process")
	f.StringVar(&a.gen.java, "java", "", "java executable")
}

// addSuperviseFlags registers the flags of subcommands that launch the
// generator.
func (a *app) addSuperviseFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&a.gen.grace, "grace", 0, "seconds to wait past the time limit before giving up")
	f.BoolVar(&a.gen.noKill, "no-kill", false, "leave a timed out generator running")
	f.IntVar(&a.gen.parallelism, "parallelism", 0, "packages generated concurrently")
	f.StringVar(&a.gen.logDir, "log-dir", "", "directory to keep generator output in")
	f.StringVar(&a.gen.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file when done")
	f.BoolVar(&a.gen.stream, "stream", false, "echo generator output to stderr while it runs")
}

// setup loads configuration (defaults, then env, then file, then flags),
// validates it and initializes logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg := config.LoadConfig()
	if a.configPath != "" {
		if err := cfg.LoadFile(a.configPath); err != nil {
			return err
		}
	}
	a.overlay(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logger.DefaultConfig(serviceName)
	logCfg.Level = cfg.LogLevel
	logCfg.Encoding = cfg.LogEncoding
	if _, err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	return nil
}

func (a *app) overlay(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}

	set("log-level", func() { cfg.LogLevel = a.logLevel })
	set("log-encoding", func() { cfg.LogEncoding = a.logEncoding })
	set("package", func() { cfg.Packages = a.gen.packages })
	set("source-dir", func() { cfg.SourceDir = a.gen.sourceDir })
	set("target-dir", func() { cfg.TargetDir = a.gen.targetDir })
	set("time-limit", func() { cfg.TimeLimit = a.gen.timeLimit })
	set("dep", func() { cfg.Dependencies = a.gen.deps })
	set("tool-jar", func() { cfg.ToolJar = a.gen.toolJar })
	set("work-dir", func() { cfg.WorkDir = a.gen.workDir })
	set("java", func() { cfg.JavaBin = a.gen.java })
	set("grace", func() { cfg.GraceSeconds = a.gen.grace })
	set("no-kill", func() { cfg.KillOnTimeout = !a.gen.noKill })
	set("parallelism", func() { cfg.Parallelism = a.gen.parallelism })
	set("log-dir", func() { cfg.LogStore.Dir = a.gen.logDir })
	set("metrics-textfile", func() { cfg.MetricsTextfile = a.gen.metricsTextfile })
}

// session holds what a launching subcommand builds from configuration.
type session struct {
	pipeline *executor.Pipeline
	tracer   *tracing.Provider
}

func (r *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracer.Shutdown(ctx); err != nil {
		logger.Get().Warn("Failed to flush traces", zap.Error(err))
	}
}

// newSession wires the pipeline. sup may be nil to use a supervisor built
// from configuration.
func (a *app) newSession(ctx context.Context, cmd *cobra.Command, sup runner.Runner) (*session, error) {
	cfg := a.cfg

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.Endpoint = cfg.Tracing.Endpoint
	tcfg.SamplingRate = cfg.Tracing.SamplingRate
	tracer, err := tracing.Init(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store, err := storage.New(storage.Options{
		Dir:             cfg.LogStore.Dir,
		Bucket:          cfg.LogStore.S3Bucket,
		Prefix:          cfg.LogStore.S3Prefix,
		Region:          cfg.LogStore.S3Region,
		Endpoint:        cfg.LogStore.S3Endpoint,
		AccessKeyID:     cfg.LogStore.AccessKeyID,
		SecretAccessKey: cfg.LogStore.SecretAccessKey,
	})
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize log store: %w", err)
	}

	if sup == nil {
		s := runner.NewSupervisor()
		s.Grace = cfg.Grace()
		s.KillOnTimeout = cfg.KillOnTimeout
		if a.gen.stream {
			s.Output = cmd.ErrOrStderr()
		}
		sup = s
	}

	return &session{
		pipeline: executor.NewPipeline(cfg, sup, store, tracer),
		tracer:   tracer,
	}, nil
}
