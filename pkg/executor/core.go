package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	config "randooprun/configs"
	"randooprun/pkg/classpath"
	"randooprun/pkg/command"
	"randooprun/pkg/discovery"
	"randooprun/pkg/executor/runner"
	"randooprun/pkg/logger"
	"randooprun/pkg/metrics"
	"randooprun/pkg/models"
	tracing "randooprun/pkg/observability"
	"randooprun/pkg/storage"
)

// outputTailLines is how much of a failed run's output is echoed to the log.
const outputTailLines = 20

// Pipeline runs assemble → discover → build → supervise for one package
// at a time.
type Pipeline struct {
	ID       string
	Hostname string

	// Resources
	TotalCPU int
	TotalMem uint64 // In MB

	finder      *discovery.Finder
	runner      runner.Runner
	grace       time.Duration
	cmdOpts     command.Options
	logStore    storage.LogStore
	tracer      *tracing.Provider
	parallelism int

	mu        sync.Mutex
	observers []func(*models.RunRecord)
}

// NewPipeline wires a pipeline from configuration. store may be nil when
// run logs are not persisted; tracer may be nil to disable spans.
func NewPipeline(cfg *config.Config, r runner.Runner, store storage.LogStore, tracer *tracing.Provider) *Pipeline {
	hostname, _ := os.Hostname()
	if tracer == nil {
		tracer = tracing.Noop()
	}
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	opts := command.DefaultOptions()
	if cfg.JavaBin != "" {
		opts.Runtime = cfg.JavaBin
	}

	return &Pipeline{
		ID:          fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		Hostname:    hostname,
		TotalCPU:    runtime.NumCPU(),
		TotalMem:    detectTotalMemory(),
		finder:      discovery.NewFinder(),
		runner:      r,
		grace:       cfg.Grace(),
		cmdOpts:     opts,
		logStore:    store,
		tracer:      tracer,
		parallelism: parallelism,
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Get().Warn("Failed to detect memory, defaulting to 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// LogStore returns the store run output is persisted to, or nil.
func (p *Pipeline) LogStore() storage.LogStore {
	return p.logStore
}

// OnRecord registers fn to receive every finished run record.
func (p *Pipeline) OnRecord(fn func(*models.RunRecord)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Pipeline) notify(rec *models.RunRecord) {
	p.mu.Lock()
	observers := append([]func(*models.RunRecord){}, p.observers...)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(rec)
	}
}

// Run executes one generation run. The returned error is nil only when the
// generator exited 0 within its budget; the record is always returned.
func (p *Pipeline) Run(ctx context.Context, rc models.RunConfig) (*models.RunRecord, error) {
	rec := models.NewRunRecord(rc.PackageName)
	log := logger.ForRun(rec.ID.String(), rc.PackageName)

	ctx, span := p.tracer.StartRun(ctx, rec.ID.String(), rc.PackageName)
	defer span.End()
	if id := tracing.TraceID(ctx); id != "" {
		log = log.With(zap.String("trace_id", id))
	}

	err := p.run(ctx, rc, rec, log)
	rec.CompletedAt = time.Now().UTC()
	if err != nil {
		rec.Error = err.Error()
		tracing.Fail(ctx, err)
	}
	p.notify(rec)
	return rec, err
}

func (p *Pipeline) run(ctx context.Context, rc models.RunConfig, rec *models.RunRecord, log *zap.Logger) error {
	inv, found, err := p.plan(ctx, rc, log)
	if err != nil {
		return err
	}
	rec.Classes = len(found.Classes)
	rec.Warnings = len(found.Warnings)
	if err := prepareTarget(rc); err != nil {
		return err
	}
	log.Info("Call outside build tool: " + command.ShellString(inv))

	budget := rc.Budget()
	log.Info("Starting supervised generation",
		zap.Int("time_limit", rc.TimeBudget),
		zap.Duration("wait", budget+p.grace),
		zap.Int("classes", len(found.Classes)),
	)

	sctx, sspan := p.tracer.StartPhase(ctx, tracing.PhaseSupervise)
	metrics.RunsInFlight.Inc()
	result := p.runner.Supervise(sctx, inv, budget)
	metrics.RunsInFlight.Dec()
	sspan.End()

	v := result.Verdict
	rec.Verdict = v
	metrics.RecordRun(rc.PackageName, string(v.Outcome), v.Duration.Seconds(), v.Killed)
	tracing.Annotate(ctx,
		attribute.String("run.outcome", string(v.Outcome)),
		attribute.Int("run.exit_code", v.ExitCode),
		attribute.Int("run.classes", len(found.Classes)),
	)

	if p.logStore != nil && result.State != runner.StateLaunchFailed {
		ref, err := p.logStore.Store(ctx, rec.ID.String(), rc.PackageName, result.Output)
		if err != nil {
			log.Warn("Failed to store run log", zap.Error(err))
		} else {
			rec.LogReference = ref
		}
	}
	if result.KillErr != nil {
		log.Warn("Failed to terminate timed out generator", zap.Error(result.KillErr))
	}

	verr := runner.VerdictErr(v)
	if verr == nil {
		log.Info("Generation finished",
			zap.Duration("duration", v.Duration),
			zap.String("log", rec.LogReference),
		)
		return nil
	}

	log.Error("Generation failed",
		zap.String("outcome", string(v.Outcome)),
		zap.Int("exit_code", v.ExitCode),
		zap.Bool("killed", v.Killed),
		zap.Duration("duration", v.Duration),
		zap.String("output_tail", tail(result.Output, outputTailLines)),
	)
	return fmt.Errorf("generating tests for %s: %w", rc.PackageName, verr)
}

// prepareTarget creates the output directory before launch. A relative
// TargetDir is resolved against WorkDir, where the child runs.
func prepareTarget(rc models.RunConfig) error {
	dir := rc.TargetDir
	if !filepath.IsAbs(dir) && rc.WorkDir != "" {
		dir = filepath.Join(rc.WorkDir, dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &classpath.PathResolutionError{Path: rc.TargetDir, Role: classpath.RoleTarget, Err: err}
	}
	return nil
}

// Discover assembles rc's classpath and lists the instantiable classes of
// its package. The tool artifact is optional here.
func (p *Pipeline) Discover(ctx context.Context, rc models.RunConfig) (*discovery.Result, error) {
	log := logger.Get().With(zap.String("package", rc.PackageName))
	cp, err := p.assemble(ctx, rc)
	if err != nil {
		return nil, err
	}
	return p.discover(ctx, cp, rc.PackageName, log)
}

// Plan validates rc and returns the invocation Run would launch, without
// launching it.
func (p *Pipeline) Plan(ctx context.Context, rc models.RunConfig) (models.Invocation, *discovery.Result, error) {
	return p.plan(ctx, rc, logger.Get().With(zap.String("package", rc.PackageName)))
}

func (p *Pipeline) plan(ctx context.Context, rc models.RunConfig, log *zap.Logger) (models.Invocation, *discovery.Result, error) {
	if err := config.Validate(rc); err != nil {
		return models.Invocation{}, nil, err
	}

	cp, err := p.assemble(ctx, rc)
	if err != nil {
		return models.Invocation{}, nil, err
	}

	found, err := p.discover(ctx, cp, rc.PackageName, log)
	if err != nil {
		return models.Invocation{}, nil, err
	}
	return command.Build(cp, found.Classes, rc, p.cmdOpts), found, nil
}

func (p *Pipeline) assemble(ctx context.Context, rc models.RunConfig) (*classpath.Classpath, error) {
	ctx, span := p.tracer.StartPhase(ctx, tracing.PhaseClasspath)
	defer span.End()

	cp, err := classpath.Assemble(rc.SourceDir, rc.Dependencies, rc.ToolArtifact)
	if err != nil {
		tracing.Fail(ctx, err)
		return nil, err
	}
	tracing.Annotate(ctx, attribute.Int("classpath.entries", cp.Len()))
	return cp, nil
}

func (p *Pipeline) discover(ctx context.Context, cp *classpath.Classpath, pkg string, log *zap.Logger) (*discovery.Result, error) {
	ctx, span := p.tracer.StartPhase(ctx, tracing.PhaseDiscover)
	defer span.End()

	found, err := p.finder.Discover(ctx, cp, pkg)
	if err != nil {
		tracing.Fail(ctx, err)
		return nil, fmt.Errorf("discovering classes in %s: %w", pkg, err)
	}

	for _, c := range found.Classes {
		log.Info("Add class "+c.Name, zap.String("entry", c.Entry))
	}
	for _, w := range found.Warnings {
		log.Warn("Skipping class that failed to load",
			zap.String("class", w.Class),
			zap.String("entry", w.Entry),
			zap.Error(w.Err),
		)
	}
	if len(found.Classes) == 0 {
		log.Warn("No instantiable classes found in package")
	}

	metrics.RecordDiscovery(pkg, len(found.Classes), len(found.Warnings))
	tracing.Annotate(ctx,
		attribute.Int("discovery.classes", len(found.Classes)),
		attribute.Int("discovery.warnings", len(found.Warnings)),
	)
	return found, nil
}

// RunAll runs base once per package, at most Parallelism at a time.
// Runs are independent: one failure does not stop the others. Records come
// back in package order; errors are joined.
func (p *Pipeline) RunAll(ctx context.Context, base models.RunConfig, packages []string) ([]*models.RunRecord, error) {
	logger.Get().Info("Starting generation",
		zap.String("pipeline", p.ID),
		zap.Int("packages", len(packages)),
		zap.Int("parallelism", p.parallelism),
		zap.Int("cpus", p.TotalCPU),
		zap.Uint64("memory_mb", p.TotalMem),
	)

	records := make([]*models.RunRecord, len(packages))
	errs := make([]error, len(packages))

	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for i, pkg := range packages {
		rc := base
		rc.PackageName = pkg
		rc.Dependencies = append([]string(nil), base.Dependencies...)
		g.Go(func() error {
			records[i], errs[i] = p.Run(ctx, rc)
			return nil
		})
	}
	_ = g.Wait()

	return records, errors.Join(errs...)
}

// tail returns the last n lines of out.
func tail(out []byte, n int) string {
	s := strings.TrimRight(string(out), "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
