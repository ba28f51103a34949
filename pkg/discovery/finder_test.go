package discovery_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"randooprun/internal/classtest"
	"randooprun/pkg/classpath"
	. "randooprun/pkg/discovery"
)

func discover(t *testing.T, pkg string, sourceDir string, deps ...string) *Result {
	t.Helper()
	cp, err := classpath.Assemble(sourceDir, deps, "")
	require.NoError(t, err)
	res, err := NewFinder().Discover(context.Background(), cp, pkg)
	require.NoError(t, err)
	return res
}

func TestDiscover_ExcludesAbstractAndInterfaces(t *testing.T) {
	dir := t.TempDir()
	classtest.WriteDir(t, dir,
		classtest.Concrete("com.example.model.Foo"),
		classtest.Spec{Name: "com.example.model.Bar", Super: "java.lang.Object", Flags: AccPublic | AccAbstract},
		classtest.Spec{Name: "com.example.model.IBaz", Super: "java.lang.Object", Flags: AccPublic | AccInterface | AccAbstract},
	)

	res := discover(t, "com.example.model", dir)

	assert.Equal(t, []string{"com.example.model.Foo"}, res.Names())
	assert.Empty(t, res.Warnings)
	assert.Equal(t, dir, res.Classes[0].Entry)
}

func TestDiscover_FiltersSyntheticNames(t *testing.T) {
	dir := t.TempDir()
	classtest.WriteDir(t, dir,
		classtest.Concrete("p.Outer"),
		classtest.Concrete("p.Outer$Inner"),
		classtest.Concrete("p.Outer$1"),
		classtest.Concrete("p.Outer$1Local"),
		classtest.Concrete("p.Outer$$Lambda"),
		classtest.Spec{Name: "p.Outer$Bridge", Super: "java.lang.Object", Flags: AccSynthetic},
		classtest.Spec{Name: "p.package-info", Super: "java.lang.Object", Flags: AccInterface | AccAbstract | AccSynthetic},
	)

	res := discover(t, "p", dir)

	assert.Equal(t, []string{"p.Outer", "p.Outer$Inner"}, res.Names())
}

func TestDiscover_RecursesIntoSubpackages(t *testing.T) {
	dir := t.TempDir()
	classtest.WriteDir(t, dir,
		classtest.Concrete("p.A"),
		classtest.Concrete("p.sub.B"),
		classtest.Concrete("p.sub.deeper.C"),
		classtest.Concrete("other.D"),
		classtest.Concrete("pkg.NotUnderP"),
	)

	res := discover(t, "p", dir)

	assert.Equal(t, []string{"p.A", "p.sub.B", "p.sub.deeper.C"}, res.Names())
}

func TestDiscover_EmptyPackageIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	classtest.WriteDir(t, dir, classtest.Concrete("q.Foo"))

	res := discover(t, "p.nothing", dir)

	assert.NotNil(t, res.Classes)
	assert.Empty(t, res.Classes)
	assert.Empty(t, res.Warnings)
}

func TestDiscover_SkipsUnloadableClassesWithWarning(t *testing.T) {
	dir := t.TempDir()
	classtest.WriteDir(t, dir,
		classtest.Concrete("p.Good"),
		classtest.Spec{Name: "p.Orphan", Super: "missing.Base", Flags: AccPublic},
		classtest.Spec{Name: "p.NoIface", Super: "java.lang.Object", Flags: AccPublic, Interfaces: []string{"missing.Iface"}},
	)
	classtest.WriteRaw(t, dir, "p/Broken.class", []byte{0xCA, 0xFE})
	classtest.WriteRaw(t, dir, "p/Moved.class", classtest.Concrete("q.Moved").Bytes())

	res := discover(t, "p", dir)

	assert.Equal(t, []string{"p.Good"}, res.Names())
	require.Len(t, res.Warnings, 4)

	byClass := map[string]error{}
	for _, w := range res.Warnings {
		byClass[w.Class] = w.Err
		assert.Equal(t, dir, w.Entry)
	}
	assert.True(t, errors.Is(byClass["p.Orphan"], ErrClassNotFound))
	assert.True(t, errors.Is(byClass["p.NoIface"], ErrClassNotFound))
	assert.True(t, errors.Is(byClass["p.Broken"], ErrMalformedClass))
	assert.True(t, errors.Is(byClass["p.Moved"], ErrNameMismatch))
}

func TestDiscover_ResolvesSupertypesAcrossEntries(t *testing.T) {
	dir := t.TempDir()
	libDir := t.TempDir()
	lib := filepath.Join(libDir, "lib.jar")
	classtest.WriteJar(t, lib,
		classtest.Spec{Name: "lib.Base", Super: "lib.Root", Flags: AccPublic | AccAbstract},
		classtest.Concrete("lib.Root"),
		classtest.Spec{Name: "lib.Marker", Super: "java.lang.Object", Flags: AccInterface | AccAbstract},
	)
	classtest.WriteDir(t, dir,
		classtest.Spec{Name: "p.Child", Super: "lib.Base", Flags: AccPublic, Interfaces: []string{"lib.Marker"}},
	)

	res := discover(t, "p", dir, lib)

	assert.Equal(t, []string{"p.Child"}, res.Names())
	assert.Empty(t, res.Warnings)
}

func TestDiscover_DetectsCircularity(t *testing.T) {
	dir := t.TempDir()
	classtest.WriteDir(t, dir,
		classtest.Spec{Name: "p.A", Super: "p.B", Flags: AccPublic},
		classtest.Spec{Name: "p.B", Super: "p.A", Flags: AccPublic},
	)

	res := discover(t, "p", dir)

	assert.Empty(t, res.Classes)
	require.Len(t, res.Warnings, 2)
	assert.True(t, errors.Is(res.Warnings[0].Err, ErrClassCircularity))
}

func TestDiscover_ArchiveEntriesInClasspathOrder(t *testing.T) {
	dir := t.TempDir()
	libDir := t.TempDir()
	first := filepath.Join(libDir, "first.jar")
	second := filepath.Join(libDir, "second.jar")
	classtest.WriteDir(t, dir, classtest.Concrete("p.Z"))
	classtest.WriteJar(t, first, classtest.Concrete("p.b.Y"), classtest.Concrete("p.A"))
	classtest.WriteJar(t, second, classtest.Concrete("p.A"), classtest.Concrete("p.C"))

	res := discover(t, "p", dir, first, second)

	assert.Equal(t, []string{"p.Z", "p.A", "p.b.Y", "p.C"}, res.Names())
	assert.Equal(t, first, res.Classes[1].Entry, "first definition shadows later ones")
	assert.Equal(t, second, res.Classes[3].Entry)
}

func TestDiscover_IsDeterministic(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"p.M", "p.a.X", "p.B", "p.z.Q", "p.b-x.W"} {
		classtest.WriteDir(t, dir, classtest.Concrete(n))
	}

	first := discover(t, "p", dir).Names()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, discover(t, "p", dir).Names())
	}
	assert.Len(t, first, 5)
}

func TestDiscover_RejectsInvalidPackage(t *testing.T) {
	dir := t.TempDir()
	cp, err := classpath.Assemble(dir, nil, "")
	require.NoError(t, err)

	for _, pkg := range []string{"", "com..example", "1com", "com/example", "com.example."} {
		_, err := NewFinder().Discover(context.Background(), cp, pkg)
		assert.True(t, errors.Is(err, ErrInvalidPackage), "package %q", pkg)
	}
}

func TestDiscover_HonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	classtest.WriteDir(t, dir, classtest.Concrete("p.A"))
	cp, err := classpath.Assemble(dir, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewFinder().Discover(ctx, cp, "p")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscover_UnreadableArchiveIsFatal(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(t.TempDir(), "bogus.jar")
	classtest.WriteRaw(t, filepath.Dir(bogus), "bogus.jar", []byte("not a zip"))
	cp, err := classpath.Assemble(dir, []string{bogus}, "")
	require.NoError(t, err)

	_, err = NewFinder().Discover(context.Background(), cp, "p")
	assert.Error(t, err)
}
