package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"randooprun/pkg/classpath"
	"randooprun/pkg/models"
)

// ErrInvalidPackage is returned for names that are not dotted Java
// identifiers.
var ErrInvalidPackage = errors.New("invalid package name")

var packagePattern = regexp.MustCompile(`^[\p{L}_$][\p{L}\p{N}_$]*(\.[\p{L}_$][\p{L}\p{N}_$]*)*$`)

// ValidPackageName reports whether name is a dotted Java package name.
func ValidPackageName(name string) bool {
	return packagePattern.MatchString(name)
}

// Warning records a class that was found but could not be loaded.
// Warnings never abort discovery.
type Warning struct {
	Class string
	Entry string
	Err   error
}

func (w Warning) Error() string {
	return fmt.Sprintf("skipping class %s from %s: %v", w.Class, w.Entry, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Result holds discovered classes in classpath order, then lexical order
// within each entry.
type Result struct {
	Classes  []models.ClassDescriptor
	Warnings []Warning
}

// Names returns the fully-qualified class names in result order.
func (r *Result) Names() []string {
	out := make([]string, len(r.Classes))
	for i, c := range r.Classes {
		out[i] = c.Name
	}
	return out
}

// Finder enumerates the instantiable classes of a package.
type Finder struct{}

func NewFinder() *Finder {
	return &Finder{}
}

// Discover walks every classpath entry for classes under packageName,
// including subpackages, and keeps those that are concrete and loadable
// against cp. An empty package yields an empty result.
func (f *Finder) Discover(ctx context.Context, cp *classpath.Classpath, packageName string) (*Result, error) {
	if !ValidPackageName(packageName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPackage, packageName)
	}

	sources := make([]source, 0, cp.Len())
	defer func() {
		for _, s := range sources {
			_ = s.Close()
		}
	}()
	for _, e := range cp.Entries {
		src, err := openSource(e)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	prefix := strings.ReplaceAll(packageName, ".", "/") + "/"
	lnk := newLinker(sources)
	seen := make(map[string]bool)
	result := &Result{Classes: []models.ClassDescriptor{}}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resources, err := src.list(prefix)
		if err != nil {
			return nil, err
		}

		for _, resource := range resources {
			internal := strings.TrimSuffix(resource, ".class")
			if seen[internal] || excludedByName(internal) {
				continue
			}
			seen[internal] = true

			name := binaryName(internal)
			info, owner, err := lnk.define(internal)
			if err == nil {
				if !info.Instantiable() {
					continue
				}
				err = lnk.link(info)
			}
			entry := src.path()
			if owner != nil {
				entry = owner.path()
			}
			if err != nil {
				result.Warnings = append(result.Warnings, Warning{Class: name, Entry: entry, Err: err})
				continue
			}
			result.Classes = append(result.Classes, models.ClassDescriptor{Name: name, Entry: entry})
		}
	}

	return result, nil
}

// excludedByName drops anonymous, local and compiler-synthesised classes
// and the package/module descriptors.
func excludedByName(internalName string) bool {
	simple := internalName[strings.LastIndexByte(internalName, '/')+1:]
	if simple == "package-info" || simple == "module-info" {
		return true
	}
	parts := strings.Split(simple, "$")
	if parts[0] == "" {
		return true
	}
	for _, p := range parts[1:] {
		if p == "" || (p[0] >= '0' && p[0] <= '9') {
			return true
		}
	}
	return false
}
