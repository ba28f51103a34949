package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"randooprun/pkg/models"
)

const (
	// DefaultGrace is added to the time budget before the child counts as hung.
	DefaultGrace = 3 * time.Second
	// DefaultKillWait bounds how long we wait for a killed child to be reaped.
	DefaultKillWait = 5 * time.Second
)

// Supervisor runs the test generator as a child process.
type Supervisor struct {
	Grace         time.Duration
	KillOnTimeout bool
	KillWait      time.Duration
	// Output, when set, receives the merged stream live in addition to
	// the captured copy.
	Output io.Writer
}

// NewSupervisor returns a supervisor with the default grace period that
// kills hung children.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		Grace:         DefaultGrace,
		KillOnTimeout: true,
		KillWait:      DefaultKillWait,
	}
}

// Wait returns the total time the supervisor waits for a given budget.
// The sum saturates instead of overflowing.
func (s *Supervisor) Wait(budget time.Duration) time.Duration {
	if s.Grace > 0 && budget > math.MaxInt64-s.Grace {
		return math.MaxInt64
	}
	return budget + s.Grace
}

func (s *Supervisor) killWait() time.Duration {
	if s.KillWait > 0 {
		return s.KillWait
	}
	return DefaultKillWait
}

// Supervise starts inv and blocks until it exits or budget plus grace
// elapses. The caller is never blocked longer than that plus the kill wait.
func (s *Supervisor) Supervise(ctx context.Context, inv models.Invocation, budget time.Duration) Result {
	start := time.Now()
	res := Result{State: StateNotStarted}

	if len(inv.Args) == 0 {
		res.State = StateLaunchFailed
		res.Verdict = models.Verdict{
			Outcome:  models.OutcomeLaunchFailed,
			ExitCode: -1,
			Cause:    errors.New("empty argument vector"),
		}
		return res
	}

	cmd := exec.Command(inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir

	// One writer for both streams: os/exec then shares a single pipe and
	// a single copier, so the merged order is preserved.
	captured := &syncBuffer{}
	var w io.Writer = captured
	if s.Output != nil {
		w = io.MultiWriter(captured, s.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = s.killWait()
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		res.State = StateLaunchFailed
		res.Verdict = models.Verdict{
			Outcome:  models.OutcomeLaunchFailed,
			ExitCode: -1,
			Cause:    err,
			Duration: time.Since(start),
		}
		return res
	}
	res.State = StateRunning
	span := trace.SpanFromContext(ctx)
	span.AddEvent("process started", trace.WithAttributes(attribute.Int("pid", cmd.Process.Pid)))

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(s.Wait(budget))
	defer timer.Stop()

	select {
	case err := <-done:
		code := exitCode(cmd, err)
		res.State = StateCompleted
		res.Verdict = models.Verdict{Outcome: models.OutcomeSucceeded, ExitCode: code}
		if code != 0 {
			res.Verdict.Outcome = models.OutcomeFailedNonZeroExit
			res.Verdict.Cause = err
		}

	case <-timer.C:
		res.State = StateTimedOut
		res.Verdict = models.Verdict{Outcome: models.OutcomeTimedOut, ExitCode: -1}
		span.AddEvent("deadline exceeded", trace.WithAttributes(attribute.Bool("kill", s.KillOnTimeout)))
		if s.KillOnTimeout {
			res.KillErr = terminate(cmd.Process.Pid)
			select {
			case <-done:
				res.Verdict.Killed = true
			case <-time.After(s.killWait()):
				if res.KillErr == nil {
					res.KillErr = errors.New("child not reaped after kill")
				}
			}
		}
	}

	res.Verdict.Duration = time.Since(start)
	res.Output = captured.Bytes()
	return res
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}

// terminate kills the child and every descendant it spawned. Descendants
// go first since some may have left the child's process group.
func terminate(pid int) error {
	if p, err := process.NewProcess(int32(pid)); err == nil {
		killDescendants(p)
	}
	return killGroup(pid)
}

func killDescendants(p *process.Process) {
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		killDescendants(c)
		_ = c.Kill()
	}
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
