package vouch

import (
	"path"
	"slices"
	"strings"
)

// DefaultIgnorePaths are excluded from every digest: the registry unpack
// marker, the lockfile generated by builds, and the build output directory.
var DefaultIgnorePaths = []string{".cargo-ok", "Cargo.lock", "target"}

// IgnoreList is a set of exact slash-separated paths, relative to a tree
// root, that are excluded from a digest. Matching is exact, not pattern
// based; an ignored directory excludes everything below it.
type IgnoreList struct {
	paths map[string]struct{}
}

// NewIgnoreList returns an ignore list holding the given paths.
// Paths are cleaned; empty and "." entries are dropped.
func NewIgnoreList(paths ...string) IgnoreList {
	l := IgnoreList{paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		l.add(p)
	}
	return l
}

// DefaultIgnoreList returns DefaultIgnorePaths plus extra.
func DefaultIgnoreList(extra ...string) IgnoreList {
	return NewIgnoreList(append(slices.Clone(DefaultIgnorePaths), extra...)...)
}

func (l *IgnoreList) add(p string) {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	if p == "" || p == "." || p == "/" {
		return
	}
	l.paths[p] = struct{}{}
}

// With returns a copy of l with extra paths added.
func (l IgnoreList) With(extra ...string) IgnoreList {
	out := NewIgnoreList(l.Paths()...)
	for _, p := range extra {
		out.add(p)
	}
	return out
}

// Contains reports whether rel is ignored.
func (l IgnoreList) Contains(rel string) bool {
	_, ok := l.paths[rel]
	return ok
}

// Len returns the number of ignored paths.
func (l IgnoreList) Len() int {
	return len(l.paths)
}

// Paths returns the ignored paths in sorted order.
func (l IgnoreList) Paths() []string {
	out := make([]string, 0, len(l.paths))
	for p := range l.paths {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
