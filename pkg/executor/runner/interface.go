package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"randooprun/pkg/models"
)

var (
	ErrLaunchFailed = errors.New("failed to launch test generator")
	ErrTimedOut     = errors.New("test generator exceeded its time budget")
	ErrNonZeroExit  = errors.New("test generator exited with a failure code")
)

// ExitError reports a non-zero exit of the tool.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("test generation failed with exit code %d", e.Code)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrNonZeroExit
}

// State tracks a supervised process through its lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateLaunchFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed-out"
	case StateLaunchFailed:
		return "launch-failed"
	default:
		return "unknown"
	}
}

// Result captures the outcome of one supervised invocation.
type Result struct {
	State   State
	Verdict models.Verdict
	Output  []byte // merged stdout and stderr
	KillErr error  // set when terminating a timed-out child failed
}

// Runner launches an invocation and waits at most budget plus its grace
// period for it to finish.
type Runner interface {
	Supervise(ctx context.Context, inv models.Invocation, budget time.Duration) Result
}

// VerdictErr maps a verdict to the error reported to the caller. It is nil
// only for a successful run.
func VerdictErr(v models.Verdict) error {
	switch v.Outcome {
	case models.OutcomeSucceeded:
		return nil
	case models.OutcomeFailedNonZeroExit:
		return &ExitError{Code: v.ExitCode}
	case models.OutcomeTimedOut:
		if v.Killed {
			return fmt.Errorf("%w after %s, process killed", ErrTimedOut, v.Duration.Round(time.Millisecond))
		}
		return fmt.Errorf("%w after %s", ErrTimedOut, v.Duration.Round(time.Millisecond))
	case models.OutcomeLaunchFailed:
		if v.Cause == nil {
			return ErrLaunchFailed
		}
		return fmt.Errorf("%w: %w", ErrLaunchFailed, v.Cause)
	default:
		return fmt.Errorf("unknown outcome %q", v.Outcome)
	}
}
