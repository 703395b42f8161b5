// Package pathutil provides path helpers for package trees on local disk.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

const maxNameLen = 64

// Resolve returns the absolute, symlink-free form of path. If path does not
// exist, its longest existing ancestor is resolved and the rest appended.
func Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	var rest []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// Within reports whether path is base or lies below it. Both paths must
// already be resolved.
func Within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SanitizeName turns an arbitrary identifier into a name that is safe as a
// single path component on every platform.
//
// Up to 64 characters of [A-Za-z0-9_-] are kept, everything else becomes
// '_', and the first 8 bytes of the SHA256 of the original name are
// appended in hex so that distinct inputs never collide.
func SanitizeName(s string) string {
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count == maxNameLen {
			break
		}
		count++
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteByte('-')
	b.WriteString(digest.SHA256.FromString(s).Encoded()[:16])
	return b.String()
}
