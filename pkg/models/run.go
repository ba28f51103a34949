package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxTimeBudget is the largest accepted time budget in seconds (one year).
// Validation tags on TimeBudget and the config's time_limit repeat it.
const MaxTimeBudget = 365 * 24 * 60 * 60

// RunConfig is everything one generation run needs from the caller.
// It is read-only once a run starts.
type RunConfig struct {
	PackageName  string   `json:"package_name" yaml:"package_name" validate:"required,javapkg"`
	SourceDir    string   `json:"source_dir" yaml:"source_dir" validate:"required"`
	TargetDir    string   `json:"target_dir" yaml:"target_dir" validate:"required"`
	TimeBudget   int      `json:"time_budget" yaml:"time_budget" validate:"gt=0,lte=31536000"` // seconds
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	ToolArtifact string   `json:"tool_artifact" yaml:"tool_artifact" validate:"required"`
	WorkDir      string   `json:"work_dir" yaml:"work_dir"`
}

// Budget returns TimeBudget as a duration, capped at MaxTimeBudget so
// oversized values cannot wrap around.
func (rc RunConfig) Budget() time.Duration {
	if rc.TimeBudget > MaxTimeBudget {
		return MaxTimeBudget * time.Second
	}
	return time.Duration(rc.TimeBudget) * time.Second
}

// ClassDescriptor names one discovered class and the classpath entry that
// defined it.
type ClassDescriptor struct {
	Name  string `json:"name"`
	Entry string `json:"entry"`
}

// Invocation is the fully built command for the external tool.
// Args[0] is the executable.
type Invocation struct {
	Args []string `json:"args"`
	Dir  string   `json:"dir"`
}

// Outcome classifies how a supervised run ended.
type Outcome string

const (
	OutcomeSucceeded         Outcome = "SUCCEEDED"
	OutcomeFailedNonZeroExit Outcome = "FAILED"
	OutcomeTimedOut          Outcome = "TIMED_OUT"
	OutcomeLaunchFailed      Outcome = "LAUNCH_FAILED"
)

// Verdict is the terminal result of one supervised invocation.
type Verdict struct {
	Outcome  Outcome       `json:"outcome"`
	ExitCode int           `json:"exit_code"`
	Cause    error         `json:"-"`
	Duration time.Duration `json:"duration"`
	Killed   bool          `json:"killed"` // child tree was terminated after a timeout
}

// Succeeded reports whether the tool exited 0 before its deadline.
func (v Verdict) Succeeded() bool {
	return v.Outcome == OutcomeSucceeded
}

// RunRecord summarises a finished pipeline run.
type RunRecord struct {
	ID           uuid.UUID `json:"id"`
	PackageName  string    `json:"package_name"`
	Classes      int       `json:"classes"`
	Warnings     int       `json:"warnings"`
	Verdict      Verdict   `json:"verdict"`
	Error        string    `json:"error,omitempty"`
	LogReference string    `json:"log_reference,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// NewRunRecord starts a record for the given package.
func NewRunRecord(pkg string) *RunRecord {
	return &RunRecord{
		ID:          uuid.New(),
		PackageName: pkg,
		StartedAt:   time.Now().UTC(),
	}
}
