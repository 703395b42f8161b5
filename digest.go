package vouch

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"
)

// Entry kind tags folded into the digest stream.
const (
	tagDir     byte = 'd'
	tagFile    byte = 'f'
	tagSymlink byte = 'l'
)

type treeEntry struct {
	path string // slash-separated, relative to the tree root
	tag  byte
}

// DigestDir computes the content digest of the tree rooted at dir.
//
// Entries are visited in lexicographic order of their slash-separated
// relative paths, so the result does not depend on the filesystem or the
// order in which directories are read. Paths in ignore are excluded by
// exact match; an ignored directory excludes its whole subtree. For every
// included entry the digest folds in a kind tag, the length-prefixed
// relative path and, for regular files, the length-prefixed raw content.
// Symbolic links contribute their target text and are never followed.
// Timestamps, permissions, and ownership are not part of the digest.
//
// The context is checked between entries.
func DigestDir(ctx context.Context, dir string, ignore IgnoreList) (digest.Digest, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return "", ioErr("open tree", dir, err)
	}
	defer root.Close()

	entries, err := collectEntries(ctx, root, ignore)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", ioErr("walk tree", dir, err)
	}

	digester := digest.Canonical.Digester()
	h := digester.Hash()
	buf := make([]byte, 32*1024)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := foldEntry(root, h, buf, e); err != nil {
			return "", ioErr("digest", filepath.Join(dir, filepath.FromSlash(e.path)), err)
		}
	}
	return digester.Digest(), nil
}

// collectEntries walks the tree and returns the included entries sorted by path.
func collectEntries(ctx context.Context, root *os.Root, ignore IgnoreList) ([]treeEntry, error) {
	entries := make([]treeEntry, 0, 256)
	err := fs.WalkDir(root.FS(), ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if ignore.Contains(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		switch t := d.Type(); {
		case t&fs.ModeSymlink != 0:
			entries = append(entries, treeEntry{path: p, tag: tagSymlink})
		case t.IsDir():
			entries = append(entries, treeEntry{path: p, tag: tagDir})
		case t.IsRegular():
			entries = append(entries, treeEntry{path: p, tag: tagFile})
		default:
			// Sockets, devices and pipes carry no source content.
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b treeEntry) int {
		switch {
		case a.path < b.path:
			return -1
		case a.path > b.path:
			return 1
		default:
			return 0
		}
	})
	return entries, nil
}

func foldEntry(root *os.Root, h hash.Hash, buf []byte, e treeEntry) error {
	writeTagged(h, e.tag, e.path)

	fsPath := filepath.FromSlash(e.path)
	switch e.tag {
	case tagSymlink:
		target, err := root.Readlink(fsPath)
		if err != nil {
			return err
		}
		writeLenPrefixed(h, []byte(filepath.ToSlash(target)))
	case tagFile:
		return foldFile(root, h, buf, fsPath)
	}
	return nil
}

func foldFile(root *os.Root, h hash.Hash, buf []byte, fsPath string) error {
	f, err := root.Open(fsPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", fsPath)
	}
	size := info.Size()

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(size)) //nolint:gosec // size is non-negative for regular files
	_, _ = h.Write(lenBuf[:])                           //nolint:errcheck // hash writes never fail

	n, err := io.CopyBuffer(h, io.LimitReader(f, size), buf)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("file size changed while digesting: expected %d, got %d", size, n)
	}
	return nil
}

func writeTagged(h hash.Hash, tag byte, p string) {
	_, _ = h.Write([]byte{tag}) //nolint:errcheck // hash writes never fail
	writeLenPrefixed(h, []byte(p))
}

func writeLenPrefixed(h hash.Hash, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	_, _ = h.Write(lenBuf[:]) //nolint:errcheck // hash writes never fail
	_, _ = h.Write(b)         //nolint:errcheck // hash writes never fail
}
