package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "randooprun/configs"
	"randooprun/internal/classtest"
	"randooprun/pkg/executor/runner"
)

type fixture struct {
	classes string
	tool    string
	java    string
	root    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		root:    root,
		classes: filepath.Join(root, "classes"),
		tool:    filepath.Join(root, "randoop.jar"),
		java:    filepath.Join(root, "java"),
	}
	classtest.WriteDir(t, f.classes,
		classtest.Concrete("com.example.model.Foo"),
		classtest.Concrete("com.example.model.Foo$Inner"),
		classtest.Concrete("com.example.model.Foo$1"),
		classtest.Spec{Name: "com.example.model.Shape", Super: "java.lang.Object", Flags: classtest.AccInterface | classtest.AccAbstract},
	)
	classtest.WriteJar(t, f.tool, classtest.Concrete("randoop.main.Main"))
	require.NoError(t, os.WriteFile(f.java, []byte("#!/bin/sh\necho \"generated for $#\"\nexit ${FAKE_JAVA_EXIT:-0}\n"), 0755))
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClasses(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "classes", "-p", "com.example.model", "--source-dir", f.classes)
	require.NoError(t, err)
	assert.Equal(t, "com.example.model.Foo\ncom.example.model.Foo$Inner\n", out)
}

func TestClasses_JSON(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "classes", "--json", "-p", "com.example.model", "-p", "com.example.none", "--source-dir", f.classes)
	require.NoError(t, err)

	var got []packageClasses
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "com.example.model", got[0].Package)
	assert.Len(t, got[0].Classes, 2)
	assert.Empty(t, got[1].Classes)
}

func TestCommand(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "command", "-p", "com.example.model", "--source-dir", f.classes)
	assert.ErrorIs(t, err, config.ErrToolRequired)

	out, err := execute(t, "command", "-p", "com.example.model", "--source-dir", f.classes,
		"--tool-jar", f.tool, "--work-dir", f.root, "--time-limit", "12")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "cd "), out)
	assert.Contains(t, out, "--timelimit=12")
	assert.Contains(t, out, "--testclass=com.example.model.Foo ")
	assert.Contains(t, out, "'--testclass=com.example.model.Foo$Inner'")
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	logDir := filepath.Join(f.root, "logs")
	textfile := filepath.Join(f.root, "randooprun.prom")
	args := []string{"run", "-p", "com.example.model", "--source-dir", f.classes,
		"--tool-jar", f.tool, "--java", f.java, "--time-limit", "5", "--grace", "1",
		"--log-dir", logDir, "--metrics-textfile", textfile}

	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, logDir)
	assert.FileExists(t, textfile)

	t.Setenv("FAKE_JAVA_EXIT", "3")
	out, err = execute(t, args...)
	var exitErr *runner.ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, out, "FAILED")
}

func TestRun_MissingToolBinary(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "run", "-p", "com.example.model", "--source-dir", f.classes,
		"--tool-jar", f.tool, "--java", filepath.Join(f.root, "no-such-java"))
	assert.ErrorIs(t, err, runner.ErrLaunchFailed)
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	f := newFixture(t)
	cfgPath := filepath.Join(f.root, "randooprun.yaml")
	yaml := "packages: [com.example.other]\nsource_dir: " + f.classes + "\ntime_limit: 99\ntool_jar: " + f.tool + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0644))

	out, err := execute(t, "command", "--config", cfgPath, "-p", "com.example.model", "--time-limit", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "--timelimit=7")
	assert.Contains(t, out, "--testclass=com.example.model.Foo")

	out, err = execute(t, "command", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "--timelimit=99")
	assert.NotContains(t, out, "--testclass")
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "classes", "--source-dir", f.classes)
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = execute(t, "classes", "-p", "com..bad", "--source-dir", f.classes)
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = execute(t, "schedule", "-p", "com.example.model", "--source-dir", f.classes, "--tool-jar", f.tool)
	assert.ErrorContains(t, err, "cron schedule is required")
}
