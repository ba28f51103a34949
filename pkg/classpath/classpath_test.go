package classpath_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "randooprun/pkg/classpath"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0644))
	return path
}

func TestAssemble_OrdersSourceDepsTool(t *testing.T) {
	dir := t.TempDir()
	classes := filepath.Join(dir, "classes")
	require.NoError(t, os.Mkdir(classes, 0755))
	depA := touch(t, filepath.Join(dir, "a.jar"))
	depB := touch(t, filepath.Join(dir, "b.jar"))
	tool := touch(t, filepath.Join(dir, "randoop.jar"))

	cp, err := Assemble(classes, []string{depA, depB}, tool)
	require.NoError(t, err)

	assert.Equal(t, []string{classes, depA, depB, tool}, cp.Paths())
	assert.Equal(t, DirEntry, cp.Entries[0].Kind)
	assert.Equal(t, ArchiveEntry, cp.Entries[1].Kind)
	assert.Equal(t, classes+string(os.PathListSeparator)+depA+string(os.PathListSeparator)+depB+string(os.PathListSeparator)+tool, cp.String())
}

func TestAssemble_DropsDuplicates(t *testing.T) {
	dir := t.TempDir()
	dep := touch(t, filepath.Join(dir, "a.jar"))

	cp, err := Assemble(dir, []string{dep, dep, filepath.Join(dir, ".", "a.jar")}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{dir, dep}, cp.Paths())
}

func TestAssemble_ToolArtifactStaysLast(t *testing.T) {
	dir := t.TempDir()
	tool := touch(t, filepath.Join(dir, "randoop.jar"))
	dep := touch(t, filepath.Join(dir, "dep.jar"))

	cp, err := Assemble(dir, []string{tool, dep}, tool)
	require.NoError(t, err)

	assert.Equal(t, []string{dir, dep, tool}, cp.Paths())
}

func TestAssemble_NoDependencies(t *testing.T) {
	dir := t.TempDir()

	cp, err := Assemble(dir, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Len())
}

func TestAssemble_MissingDependencyFails(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope.jar")

	cp, err := Assemble(dir, []string{missing}, "")
	require.Error(t, err)
	assert.Nil(t, cp)

	var pre *PathResolutionError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, RoleDependency, pre.Role)
	assert.Equal(t, missing, pre.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAssemble_RejectsEmptyAndMalformedPaths(t *testing.T) {
	dir := t.TempDir()

	_, err := Assemble("", nil, "")
	var pre *PathResolutionError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, RoleSource, pre.Role)
	assert.True(t, errors.Is(err, ErrEmptyPath))

	_, err = Assemble(dir, []string{"bad\x00path"}, "")
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, RoleDependency, pre.Role)

	_, err = Assemble(dir, nil, filepath.Join(dir, "missing-tool.jar"))
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, RoleTool, pre.Role)
}
