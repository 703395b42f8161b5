// Package archive packs source trees into compressed tarballs and unpacks
// them into a directory without letting entries escape it.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the stream codec around the tarball.
type Compression uint8

const (
	CompressionZstd Compression = iota
	CompressionGzip
)

// Media types of source tree layers.
const (
	MediaTypeTarZstd = "application/vnd.vouch.source.tar+zstd"
	MediaTypeTarGzip = "application/vnd.vouch.source.tar+gzip"
)

// MediaType returns the layer media type for c.
func (c Compression) MediaType() string {
	if c == CompressionGzip {
		return MediaTypeTarGzip
	}
	return MediaTypeTarZstd
}

func (c Compression) String() string {
	if c == CompressionGzip {
		return "gzip"
	}
	return "zstd"
}

// CompressionFromMediaType maps a layer media type back to its codec.
func CompressionFromMediaType(mt string) (Compression, error) {
	switch mt {
	case MediaTypeTarZstd:
		return CompressionZstd, nil
	case MediaTypeTarGzip:
		return CompressionGzip, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mt)
	}
}

var (
	// ErrUnsupportedMediaType is returned for unknown layer media types.
	ErrUnsupportedMediaType = errors.New("archive: unsupported media type")

	// ErrUnsafePath is returned when an entry would land outside the destination.
	ErrUnsafePath = errors.New("archive: unsafe path")

	// ErrTooLarge is returned when an archive exceeds the unpack limits.
	ErrTooLarge = errors.New("archive: limits exceeded")
)

// Pack writes the tree at dir to w as a compressed tarball. Entries are
// written in lexical walk order with zeroed timestamps and ownership, so
// the same tree always packs to the same bytes. Paths for which skip
// returns true are left out, along with everything below them.
func Pack(ctx context.Context, w io.Writer, dir string, c Compression, skip func(rel string) bool) error {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	zw, err := newCompressor(w, c)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	walkErr := fs.WalkDir(root.FS(), ".", func(rel string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skip != nil && skip(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		return writeEntry(tw, root, rel, d)
	})
	if walkErr != nil {
		_ = zw.Close()
		return walkErr
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func writeEntry(tw *tar.Writer, root *os.Root, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    rel,
		ModTime: time.Unix(0, 0),
		Format:  tar.FormatPAX,
	}
	switch {
	case d.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name = rel + "/"
		hdr.Mode = 0o755
		return tw.WriteHeader(hdr)
	case d.Type()&fs.ModeSymlink != 0:
		target, err := root.Readlink(rel)
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		hdr.Mode = 0o777
		return tw.WriteHeader(hdr)
	case info.Mode().IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Mode = 0o644
		if info.Mode()&0o111 != 0 {
			hdr.Mode = 0o755
		}
		hdr.Size = info.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := root.Open(rel)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(tw, io.LimitReader(f, hdr.Size))
		if err != nil {
			return err
		}
		if n != hdr.Size {
			return fmt.Errorf("%s changed size while packing", rel)
		}
		return nil
	default:
		// Devices, sockets and pipes have no place in a source tree.
		return nil
	}
}

func newCompressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	default:
		return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	}
}

// Limits bound what Unpack accepts. Zero fields disable the limit.
type Limits struct {
	MaxFiles int
	MaxBytes int64
}

// DefaultLimits are generous for source packages.
var DefaultLimits = Limits{MaxFiles: 100_000, MaxBytes: 1 << 30}

// Unpack extracts a compressed tarball from r into dest, which must
// exist. Entries are resolved through an os.Root, so absolute names,
// ".." components and links pointing outside dest are rejected.
func Unpack(ctx context.Context, r io.Reader, dest string, c Compression, limits Limits) error {
	root, err := os.OpenRoot(dest)
	if err != nil {
		return err
	}
	defer root.Close()

	zr, closeReader, err := newDecompressor(r, c)
	if err != nil {
		return err
	}
	defer closeReader()

	tr := tar.NewReader(zr)
	var (
		files int
		total int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %q", ErrUnsafePath, hdr.Name)
		}
		if err != nil {
			return err
		}
		name, err := cleanName(hdr.Name)
		if err != nil {
			return err
		}
		if name == "." {
			continue
		}

		files++
		if limits.MaxFiles > 0 && files > limits.MaxFiles {
			return fmt.Errorf("%w: more than %d entries", ErrTooLarge, limits.MaxFiles)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := root.MkdirAll(name, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			total += hdr.Size
			if limits.MaxBytes > 0 && total > limits.MaxBytes {
				return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limits.MaxBytes)
			}
			if err := extractFile(root, name, hdr, tr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLinkTarget(name, hdr.Linkname); err != nil {
				return err
			}
			if err := ensureParent(root, name); err != nil {
				return err
			}
			if err := root.Symlink(hdr.Linkname, name); err != nil {
				return err
			}
		default:
			// Hard links and special files are not produced by Pack.
		}
	}
}

func extractFile(root *os.Root, name string, hdr *tar.Header, r io.Reader) error {
	if err := ensureParent(root, name); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if hdr.Mode&0o111 != 0 {
		mode = 0o755
	}
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.LimitReader(r, hdr.Size)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ensureParent(root *os.Root, name string) error {
	dir := path.Dir(name)
	if dir == "." {
		return nil
	}
	return root.MkdirAll(dir, 0o755)
}

func cleanName(name string) (string, error) {
	if strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	clean := path.Clean(strings.TrimSuffix(name, "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return clean, nil
}

func checkLinkTarget(name, target string) error {
	if path.IsAbs(target) {
		return fmt.Errorf("%w: link %s -> %s", ErrUnsafePath, name, target)
	}
	resolved := path.Clean(path.Join(path.Dir(name), target))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("%w: link %s -> %s", ErrUnsafePath, name, target)
	}
	return nil
}

func newDecompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, func() { _ = gr.Close() }, nil
	default:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}
}
