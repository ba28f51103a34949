// Package classtest writes synthetic JVM class files and jars for tests.
package classtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Access flags used by tests.
const (
	AccPublic    uint16 = 0x0001
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
	AccSynthetic uint16 = 0x1000
)

// Spec describes a class file. Names use dots.
type Spec struct {
	Name       string
	Super      string
	Flags      uint16
	Interfaces []string
	WithLong   bool // add an 8-byte constant to exercise two-slot entries
}

// Concrete is a public class extending java.lang.Object.
func Concrete(name string) Spec {
	return Spec{Name: name, Super: "java.lang.Object", Flags: AccPublic}
}

// Internal converts a dotted name to its slash form.
func Internal(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// Bytes encodes the class file.
func (s Spec) Bytes() []byte {
	var pool bytes.Buffer
	count := uint16(1)

	if s.WithLong {
		pool.WriteByte(5)
		_ = binary.Write(&pool, binary.BigEndian, int64(42))
		count += 2
	}

	addClass := func(name string) uint16 {
		n := Internal(name)
		pool.WriteByte(1)
		_ = binary.Write(&pool, binary.BigEndian, uint16(len(n)))
		pool.WriteString(n)
		utf := count
		count++
		pool.WriteByte(7)
		_ = binary.Write(&pool, binary.BigEndian, utf)
		idx := count
		count++
		return idx
	}

	this := addClass(s.Name)
	var super uint16
	if s.Super != "" {
		super = addClass(s.Super)
	}
	ifaces := make([]uint16, 0, len(s.Interfaces))
	for _, i := range s.Interfaces {
		ifaces = append(ifaces, addClass(i))
	}

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(uint32(0xCAFEBABE))
	w(uint16(0))
	w(uint16(52))
	w(count)
	out.Write(pool.Bytes())
	w(s.Flags)
	w(this)
	w(super)
	w(uint16(len(ifaces)))
	for _, i := range ifaces {
		w(i)
	}
	w(uint16(0)) // fields
	w(uint16(0)) // methods
	w(uint16(0)) // attributes
	return out.Bytes()
}

// WriteDir lays the classes out under root like javac output.
func WriteDir(t testing.TB, root string, specs ...Spec) {
	t.Helper()
	for _, s := range specs {
		WriteRaw(t, root, Internal(s.Name)+".class", s.Bytes())
	}
}

// WriteRaw writes data to root/resource.
func WriteRaw(t testing.TB, root, resource string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(resource))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// WriteJar packs the classes into a jar at path.
func WriteJar(t testing.TB, path string, specs ...Spec) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	if _, err := zw.Create("META-INF/MANIFEST.MF"); err != nil {
		t.Fatal(err)
	}
	for _, s := range specs {
		w, err := zw.Create(Internal(s.Name) + ".class")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(s.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}
