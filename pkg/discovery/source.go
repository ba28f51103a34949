package discovery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"randooprun/pkg/classpath"
)

// maxClassFileSize bounds how much of a single class file is read.
const maxClassFileSize = 64 << 20

var errNotDefined = errors.New("not defined by entry")

// source is a classpath entry opened for reading class files.
type source interface {
	// read returns the bytes of a class file given its slash-separated
	// resource name, or errNotDefined.
	read(resource string) ([]byte, error)
	// list returns the class file resource names under prefix, sorted.
	list(prefix string) ([]string, error)
	path() string
	Close() error
}

func openSource(e classpath.Entry) (source, error) {
	switch e.Kind {
	case classpath.DirEntry:
		return &dirSource{root: e.Path}, nil
	case classpath.ArchiveEntry:
		rc, err := zip.OpenReader(e.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive %s: %w", e.Path, err)
		}
		files := make(map[string]*zip.File, len(rc.File))
		for _, f := range rc.File {
			if f.FileInfo().IsDir() {
				continue
			}
			if _, dup := files[f.Name]; !dup {
				files[f.Name] = f
			}
		}
		return &archiveSource{root: e.Path, rc: rc, files: files}, nil
	default:
		return nil, fmt.Errorf("unsupported classpath entry kind %s", e.Kind)
	}
}

type dirSource struct {
	root string
}

func (d *dirSource) path() string { return d.root }

func (d *dirSource) Close() error { return nil }

func (d *dirSource) read(resource string) ([]byte, error) {
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(resource)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNotDefined
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxClassFileSize))
}

func (d *dirSource) list(prefix string) ([]string, error) {
	base := filepath.Join(d.root, filepath.FromSlash(prefix))
	info, err := os.Stat(base)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	err = filepath.WalkDir(base, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".class") {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", base, err)
	}
	sortResources(names)
	return names, nil
}

// sortResources orders class resources by class name, so Outer sorts
// before Outer$Inner.
func sortResources(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return strings.TrimSuffix(names[i], ".class") < strings.TrimSuffix(names[j], ".class")
	})
}

type archiveSource struct {
	root  string
	rc    *zip.ReadCloser
	files map[string]*zip.File
}

func (a *archiveSource) path() string { return a.root }

func (a *archiveSource) Close() error { return a.rc.Close() }

func (a *archiveSource) read(resource string) ([]byte, error) {
	f, ok := a.files[resource]
	if !ok {
		return nil, errNotDefined
	}
	if f.UncompressedSize64 > maxClassFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrMalformedClass, resource, f.UncompressedSize64)
	}
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (a *archiveSource) list(prefix string) ([]string, error) {
	var names []string
	for name := range a.files {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".class") {
			names = append(names, name)
		}
	}
	sortResources(names)
	return names, nil
}
