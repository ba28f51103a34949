package command

import (
	"strconv"
	"strings"

	"randooprun/pkg/classpath"
	"randooprun/pkg/models"
)

// Options select the runtime and tool entry point.
type Options struct {
	Runtime        string // java executable
	AssertionsFlag string
	EntryPoint     string
	Subcommand     string
}

// DefaultOptions targets Randoop's command-line driver.
func DefaultOptions() Options {
	return Options{
		Runtime:        "java",
		AssertionsFlag: "-ea",
		EntryPoint:     "randoop.main.Main",
		Subcommand:     "gentests",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Runtime == "" {
		o.Runtime = d.Runtime
	}
	if o.AssertionsFlag == "" {
		o.AssertionsFlag = d.AssertionsFlag
	}
	if o.EntryPoint == "" {
		o.EntryPoint = d.EntryPoint
	}
	if o.Subcommand == "" {
		o.Subcommand = d.Subcommand
	}
	return o
}

// Build turns a classpath, the discovered classes and the run
// configuration into the tool's argument vector. It performs no I/O.
func Build(cp *classpath.Classpath, classes []models.ClassDescriptor, cfg models.RunConfig, opts Options) models.Invocation {
	opts = opts.withDefaults()

	args := make([]string, 0, 10+len(classes))
	args = append(args,
		opts.Runtime,
		opts.AssertionsFlag,
		"-classpath", cp.String(),
		opts.EntryPoint,
		opts.Subcommand,
		"--timelimit="+strconv.Itoa(cfg.TimeBudget),
		"--debug-checks=true",
		"--junit-package-name="+cfg.PackageName,
		"--junit-output-dir="+cfg.TargetDir,
	)
	for _, c := range classes {
		args = append(args, "--testclass="+c.Name)
	}

	return models.Invocation{Args: args, Dir: cfg.WorkDir}
}

// ShellString renders inv as a single POSIX shell line that reproduces the
// call by hand.
func ShellString(inv models.Invocation) string {
	quoted := make([]string, len(inv.Args))
	for i, a := range inv.Args {
		quoted[i] = quote(a)
	}
	line := strings.Join(quoted, " ")
	if inv.Dir != "" {
		line = "cd " + quote(inv.Dir) + " && " + line
	}
	return line
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", r)
}
