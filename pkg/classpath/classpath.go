package classpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EntryKind tells directory entries from archive entries.
type EntryKind int

const (
	DirEntry EntryKind = iota
	ArchiveEntry
)

func (k EntryKind) String() string {
	switch k {
	case DirEntry:
		return "dir"
	case ArchiveEntry:
		return "archive"
	default:
		return "unknown"
	}
}

// Roles reported in PathResolutionError.
const (
	RoleSource     = "source"
	RoleDependency = "dependency"
	RoleTool       = "tool"
	RoleTarget     = "target"
)

// ErrEmptyPath is wrapped when a caller passes an empty location.
var ErrEmptyPath = errors.New("empty path")

// PathResolutionError means a supplied location could not be turned into a
// usable classpath entry.
type PathResolutionError struct {
	Path string
	Role string
	Err  error
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s path %q: %v", e.Role, e.Path, e.Err)
}

func (e *PathResolutionError) Unwrap() error {
	return e.Err
}

// Entry is one resolved classpath location.
type Entry struct {
	Path string
	Kind EntryKind
}

// Classpath is an ordered list of entries.
type Classpath struct {
	Entries []Entry
}

// Paths returns the entry paths in order.
func (c *Classpath) Paths() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Path
	}
	return out
}

// String joins the entries with the platform list separator.
func (c *Classpath) String() string {
	return strings.Join(c.Paths(), string(os.PathListSeparator))
}

// Len returns the number of entries.
func (c *Classpath) Len() int {
	return len(c.Entries)
}

// Assemble builds the classpath for one run: the compiled output first,
// then every dependency in the given order, then the tool artifact.
// Duplicates keep their first position, except the tool artifact which
// always ends up last so project classes shadow the tool's bundled copies.
// An empty toolArtifact is allowed for discovery-only callers.
func Assemble(sourceDir string, deps []string, toolArtifact string) (*Classpath, error) {
	cp := &Classpath{}
	seen := make(map[string]int)

	add := func(raw, role string) error {
		entry, err := resolve(raw, role)
		if err != nil {
			return err
		}
		if _, dup := seen[entry.Path]; dup {
			return nil
		}
		seen[entry.Path] = len(cp.Entries)
		cp.Entries = append(cp.Entries, entry)
		return nil
	}

	if err := add(sourceDir, RoleSource); err != nil {
		return nil, err
	}
	for _, dep := range deps {
		if err := add(dep, RoleDependency); err != nil {
			return nil, err
		}
	}

	if toolArtifact == "" {
		return cp, nil
	}
	tool, err := resolve(toolArtifact, RoleTool)
	if err != nil {
		return nil, err
	}
	if idx, dup := seen[tool.Path]; dup {
		cp.Entries = append(cp.Entries[:idx], cp.Entries[idx+1:]...)
	}
	cp.Entries = append(cp.Entries, tool)
	return cp, nil
}

// resolve normalises raw and checks that it names a directory or a
// regular file.
func resolve(raw, role string) (Entry, error) {
	fail := func(err error) (Entry, error) {
		return Entry{}, &PathResolutionError{Path: raw, Role: role, Err: err}
	}

	if strings.TrimSpace(raw) == "" {
		return fail(ErrEmptyPath)
	}
	if strings.ContainsRune(raw, 0) {
		return fail(errors.New("path contains NUL byte"))
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return fail(err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fail(err)
	}

	switch {
	case info.IsDir():
		return Entry{Path: abs, Kind: DirEntry}, nil
	case info.Mode().IsRegular():
		return Entry{Path: abs, Kind: ArchiveEntry}, nil
	default:
		return fail(fmt.Errorf("unsupported file mode %s", info.Mode()))
	}
}
