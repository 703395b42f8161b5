package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/vouch/internal/testutil"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []Compression{CompressionZstd, CompressionGzip} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{
				"Cargo.toml":     "[package]\nname = \"sample\"\n",
				"src/lib.rs":     "pub fn f() {}\n",
				"target/debug/x": "build output",
			})
			require.NoError(t, os.Symlink("lib.rs", filepath.Join(src, "src", "alias.rs")))

			var buf bytes.Buffer
			skip := func(rel string) bool { return rel == "target" }
			require.NoError(t, Pack(context.Background(), &buf, src, c, skip))

			dest := t.TempDir()
			require.NoError(t, Unpack(context.Background(), &buf, dest, c, DefaultLimits))

			got, err := os.ReadFile(filepath.Join(dest, "src", "lib.rs"))
			require.NoError(t, err)
			assert.Equal(t, "pub fn f() {}\n", string(got))

			target, err := os.Readlink(filepath.Join(dest, "src", "alias.rs"))
			require.NoError(t, err)
			assert.Equal(t, "lib.rs", target)

			_, err = os.Stat(filepath.Join(dest, "target"))
			assert.ErrorIs(t, err, os.ErrNotExist, "skipped dir must not be packed")
		})
	}
}

func TestPackDeterministic(t *testing.T) {
	t.Parallel()

	files := map[string]string{"a.rs": "a", "b/c.rs": "c"}
	pack := func() []byte {
		dir := t.TempDir()
		testutil.WriteTree(t, dir, files)
		var buf bytes.Buffer
		require.NoError(t, Pack(context.Background(), &buf, dir, CompressionZstd, nil))
		return buf.Bytes()
	}
	assert.Equal(t, pack(), pack())
}

func rawTar(t *testing.T, hdrs ...*tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(enc)
	for _, h := range hdrs {
		require.NoError(t, tw.WriteHeader(h))
		if h.Size > 0 {
			_, err := tw.Write(bytes.Repeat([]byte("x"), int(h.Size)))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestUnpackRejectsUnsafeEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hdr     *tar.Header
		wantErr error
	}{
		{
			name:    "parent traversal",
			hdr:     &tar.Header{Name: "../evil", Typeflag: tar.TypeReg, Size: 1, Mode: 0o644},
			wantErr: ErrUnsafePath,
		},
		{
			name:    "absolute path",
			hdr:     &tar.Header{Name: "/etc/evil", Typeflag: tar.TypeReg, Size: 1, Mode: 0o644},
			wantErr: ErrUnsafePath,
		},
		{
			name:    "escaping symlink",
			hdr:     &tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd"},
			wantErr: ErrUnsafePath,
		},
		{
			name:    "absolute symlink",
			hdr:     &tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"},
			wantErr: ErrUnsafePath,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := rawTar(t, tt.hdr)
			err := Unpack(context.Background(), bytes.NewReader(data), t.TempDir(), CompressionZstd, DefaultLimits)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUnpackLimits(t *testing.T) {
	t.Parallel()

	data := rawTar(t,
		&tar.Header{Name: "a", Typeflag: tar.TypeReg, Size: 8, Mode: 0o644},
		&tar.Header{Name: "b", Typeflag: tar.TypeReg, Size: 8, Mode: 0o644},
	)

	err := Unpack(context.Background(), bytes.NewReader(data), t.TempDir(), CompressionZstd, Limits{MaxFiles: 1})
	assert.ErrorIs(t, err, ErrTooLarge)

	err = Unpack(context.Background(), bytes.NewReader(data), t.TempDir(), CompressionZstd, Limits{MaxBytes: 10})
	assert.ErrorIs(t, err, ErrTooLarge)

	err = Unpack(context.Background(), bytes.NewReader(data), t.TempDir(), CompressionZstd, Limits{})
	assert.NoError(t, err)
}

func TestCompressionFromMediaType(t *testing.T) {
	t.Parallel()

	c, err := CompressionFromMediaType(MediaTypeTarGzip)
	require.NoError(t, err)
	assert.Equal(t, CompressionGzip, c)
	assert.Equal(t, MediaTypeTarGzip, c.MediaType())

	_, err = CompressionFromMediaType("application/octet-stream")
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)
}
