package runner_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"randooprun/pkg/models"
	. "randooprun/pkg/executor/runner"
)

func sh(script string) models.Invocation {
	return models.Invocation{Args: []string{"/bin/sh", "-c", script}}
}

func fastSupervisor() *Supervisor {
	s := NewSupervisor()
	s.Grace = 100 * time.Millisecond
	s.KillWait = 2 * time.Second
	return s
}

func TestSupervise_Succeeds(t *testing.T) {
	res := fastSupervisor().Supervise(context.Background(), sh("echo hello"), 5*time.Second)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, models.OutcomeSucceeded, res.Verdict.Outcome)
	assert.Equal(t, 0, res.Verdict.ExitCode)
	assert.Equal(t, "hello\n", string(res.Output))
	assert.NoError(t, VerdictErr(res.Verdict))
}

func TestSupervise_NonZeroExit(t *testing.T) {
	res := fastSupervisor().Supervise(context.Background(), sh("echo failing >&2; exit 2"), 5*time.Second)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, models.OutcomeFailedNonZeroExit, res.Verdict.Outcome)
	assert.Equal(t, 2, res.Verdict.ExitCode)
	assert.Equal(t, "failing\n", string(res.Output))

	err := VerdictErr(res.Verdict)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonZeroExit))
	assert.False(t, errors.Is(err, ErrTimedOut))
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, err.Error(), "exit code 2")
}

func TestSupervise_MergesStreamsInOrder(t *testing.T) {
	res := fastSupervisor().Supervise(context.Background(), sh("echo a; echo b >&2; echo c"), 5*time.Second)

	assert.Equal(t, "a\nb\nc\n", string(res.Output))
}

func TestSupervise_DrainsLargeOutput(t *testing.T) {
	res := fastSupervisor().Supervise(context.Background(), sh("yes x | head -n 200000"), 10*time.Second)

	require.Equal(t, models.OutcomeSucceeded, res.Verdict.Outcome)
	assert.Len(t, res.Output, 400000)
}

func TestSupervise_TimesOutAndKills(t *testing.T) {
	s := fastSupervisor()
	start := time.Now()

	res := s.Supervise(context.Background(), sh("echo started; sleep 30 & wait"), 200*time.Millisecond)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, models.OutcomeTimedOut, res.Verdict.Outcome)
	assert.True(t, res.Verdict.Killed)
	assert.NoError(t, res.KillErr)
	assert.GreaterOrEqual(t, res.Verdict.Duration, 300*time.Millisecond)
	assert.Equal(t, "started\n", string(res.Output))

	err := VerdictErr(res.Verdict)
	assert.True(t, errors.Is(err, ErrTimedOut))
	assert.False(t, errors.Is(err, ErrNonZeroExit))
}

func TestSupervise_TimeoutWithoutKillStillReported(t *testing.T) {
	s := fastSupervisor()
	s.KillOnTimeout = false

	res := s.Supervise(context.Background(), sh("sleep 2"), 100*time.Millisecond)

	assert.Equal(t, models.OutcomeTimedOut, res.Verdict.Outcome)
	assert.False(t, res.Verdict.Killed)
	assert.Less(t, res.Verdict.Duration, 2*time.Second)
}

func TestSupervise_WaitIsBudgetPlusGrace(t *testing.T) {
	s := NewSupervisor()
	assert.Equal(t, 33*time.Second, s.Wait(30*time.Second))
}

func TestSupervise_WaitSaturates(t *testing.T) {
	s := NewSupervisor()
	assert.Equal(t, time.Duration(math.MaxInt64), s.Wait(time.Duration(math.MaxInt64)-time.Second))
	assert.Positive(t, s.Wait(time.Duration(math.MaxInt64)))
}

func TestSupervise_HugeBudgetDoesNotTimeOut(t *testing.T) {
	res := fastSupervisor().Supervise(context.Background(), sh("exit 0"), time.Duration(math.MaxInt64))

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, models.OutcomeSucceeded, res.Verdict.Outcome)
	assert.False(t, res.Verdict.Killed)
}

func TestSupervise_LaunchFailures(t *testing.T) {
	s := fastSupervisor()

	cases := map[string]models.Invocation{
		"missing executable": {Args: []string{"/definitely/not/here/java"}},
		"bad working dir":    {Args: []string{"/bin/sh", "-c", "true"}, Dir: filepath.Join(t.TempDir(), "missing")},
		"empty args":         {},
	}
	for name, inv := range cases {
		t.Run(name, func(t *testing.T) {
			res := s.Supervise(context.Background(), inv, time.Second)

			assert.Equal(t, StateLaunchFailed, res.State)
			assert.Equal(t, models.OutcomeLaunchFailed, res.Verdict.Outcome)
			require.Error(t, res.Verdict.Cause)

			err := VerdictErr(res.Verdict)
			assert.True(t, errors.Is(err, ErrLaunchFailed))
			assert.True(t, errors.Is(err, res.Verdict.Cause))
		})
	}
}

func TestSupervise_UsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	inv := sh("pwd")
	inv.Dir = dir

	res := fastSupervisor().Supervise(context.Background(), inv, 5*time.Second)

	require.Equal(t, models.OutcomeSucceeded, res.Verdict.Outcome)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(string(res.Output)))
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSupervise_TeesLiveOutput(t *testing.T) {
	var live strings.Builder
	s := fastSupervisor()
	s.Output = &live

	res := s.Supervise(context.Background(), sh("echo live"), 5*time.Second)

	assert.Equal(t, "live\n", string(res.Output))
	assert.Equal(t, "live\n", live.String())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "timed-out", StateTimedOut.String())
	assert.Equal(t, "launch-failed", StateLaunchFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
