package discovery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClassNotFound    = errors.New("class not found on classpath")
	ErrClassCircularity = errors.New("class circularity")
	ErrNameMismatch     = errors.New("class name does not match its location")
)

// platformPrefixes are internal-name prefixes supplied by the runtime
// rather than the classpath.
var platformPrefixes = []string{
	"java/",
	"javax/",
	"jdk/",
	"sun/",
	"com/sun/",
	"org/w3c/",
	"org/xml/",
	"org/ietf/",
}

func isPlatformClass(internalName string) bool {
	for _, p := range platformPrefixes {
		if strings.HasPrefix(internalName, p) {
			return true
		}
	}
	return false
}

// linker resolves class names against the opened classpath the way the
// runtime would when loading a class: the class itself, its superclass
// chain and its interfaces must all be defined somewhere.
type linker struct {
	sources  []source
	resolved map[string]error
	active   map[string]bool
}

func newLinker(sources []source) *linker {
	return &linker{
		sources:  sources,
		resolved: make(map[string]error),
		active:   make(map[string]bool),
	}
}

// define finds the first entry defining internalName and parses it.
func (l *linker) define(internalName string) (*ClassInfo, source, error) {
	resource := internalName + ".class"
	for _, src := range l.sources {
		data, err := src.read(resource)
		if errors.Is(err, errNotDefined) {
			continue
		}
		if err != nil {
			return nil, src, fmt.Errorf("failed to read %s from %s: %w", resource, src.path(), err)
		}
		info, err := ParseClass(data)
		if err != nil {
			return nil, src, err
		}
		if info.Name != internalName {
			return nil, src, fmt.Errorf("%w: %s declares %s", ErrNameMismatch, resource, info.Name)
		}
		return info, src, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrClassNotFound, binaryName(internalName))
}

// link checks that info's supertypes resolve.
func (l *linker) link(info *ClassInfo) error {
	if info.SuperName != "" {
		if err := l.resolve(info.SuperName); err != nil {
			return fmt.Errorf("superclass %s: %w", binaryName(info.SuperName), err)
		}
	}
	for _, iface := range info.Interfaces {
		if err := l.resolve(iface); err != nil {
			return fmt.Errorf("interface %s: %w", binaryName(iface), err)
		}
	}
	return nil
}

func (l *linker) resolve(internalName string) error {
	if isPlatformClass(internalName) {
		return nil
	}
	if err, ok := l.resolved[internalName]; ok {
		return err
	}
	if l.active[internalName] {
		return fmt.Errorf("%w: %s", ErrClassCircularity, binaryName(internalName))
	}

	l.active[internalName] = true
	err := func() error {
		info, _, err := l.define(internalName)
		if err != nil {
			return err
		}
		return l.link(info)
	}()
	delete(l.active, internalName)

	l.resolved[internalName] = err
	return err
}

func binaryName(internalName string) string {
	return strings.ReplaceAll(internalName, "/", ".")
}
