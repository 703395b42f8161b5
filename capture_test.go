package vouch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/internal/testutil"
)

var sampleRequest = vouch.FetchRequest{Name: "sample", Version: "1.0.0"}

// captureFixture prepares a package store outside a separate working
// directory and fetches the package once, as a reviewer would.
func captureFixture(t *testing.T) (*dirFetcher, string, string) {
	t.Helper()
	store := t.TempDir()
	work := t.TempDir()
	f := newDirFetcher(t, store, sampleTree)
	pkg, err := f.Fetch(context.Background(), sampleRequest)
	require.NoError(t, err)
	return f, pkg.Root, work
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestCaptureVerified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		local map[string]string
	}{
		{name: "untouched tree"},
		{name: "build leftovers are ignored", local: map[string]string{
			"target/debug/libsample.rlib": "binary",
			"Cargo.lock":                  "# generated\n",
			".cargo-ok":                   "",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, root, work := captureFixture(t)
			testutil.WriteTree(t, root, tt.local)

			c, err := vouch.NewCapturer(f, vouch.WithWorkDir(work))
			require.NoError(t, err)

			got, err := c.Capture(context.Background(), sampleRequest)
			require.NoError(t, err)
			assert.Equal(t, vouch.CaptureVerified, got.State)
			assert.Empty(t, got.QuarantinePath)
			assert.Equal(t, "sample", got.Package.ID.Name)

			want, err := vouch.DigestDir(context.Background(), root, vouch.DefaultIgnoreList())
			require.NoError(t, err)
			assert.Equal(t, want, got.Digest)

			assert.True(t, exists(root), "fresh tree stays in place")
			assert.False(t, exists(root+vouch.DefaultQuarantineSuffix), "quarantine removed")
			assert.Equal(t, 3, f.Count("Fetch"))
		})
	}
}

func TestCaptureMismatch(t *testing.T) {
	t.Parallel()

	f, root, work := captureFixture(t)
	testutil.WriteTree(t, root, map[string]string{"src/lib.rs": "pub fn add() { unreachable!() }\n"})

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(work))
	require.NoError(t, err)

	got, err := c.Capture(context.Background(), sampleRequest)
	require.Error(t, err)
	assert.ErrorIs(t, err, vouch.ErrDigest)
	assert.Equal(t, vouch.KindDigest, vouch.KindOf(err))

	var mismatch *vouch.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.NotEqual(t, mismatch.Fresh, mismatch.Quarantined)
	assert.Equal(t, mismatch.Path+vouch.DefaultQuarantineSuffix, mismatch.QuarantinePath)
	assert.Contains(t, err.Error(), mismatch.QuarantinePath)

	require.NotNil(t, got)
	assert.Equal(t, vouch.CaptureMismatch, got.State)
	assert.Empty(t, got.Digest)
	assert.True(t, exists(root), "fresh tree kept")
	assert.True(t, exists(got.QuarantinePath), "reviewed tree kept")

	reviewed := testutil.ReadTree(t, got.QuarantinePath)
	assert.Equal(t, "pub fn add() { unreachable!() }\n", reviewed["src/lib.rs"])
}

func TestCaptureRejectsTreeInsideWorkDir(t *testing.T) {
	t.Parallel()

	f, root, _ := captureFixture(t)
	testutil.WriteTree(t, root, map[string]string{"src/lib.rs": "edited"})
	before := testutil.ReadTree(t, root)

	for _, work := range []string{filepath.Dir(root), root} {
		c, err := vouch.NewCapturer(f, vouch.WithWorkDir(work))
		require.NoError(t, err)

		got, err := c.Capture(context.Background(), sampleRequest)
		assert.ErrorIs(t, err, vouch.ErrPolicy)
		assert.Nil(t, got)
	}

	assert.Equal(t, before, testutil.ReadTree(t, root), "tree untouched")
	assert.False(t, exists(root+vouch.DefaultQuarantineSuffix))
	assert.Equal(t, 2, f.Count("Locate"))
	assert.Equal(t, 1, f.Count("Fetch"), "refused before fetching")
}

func TestCaptureRefusesMissingTreeInsideWorkDir(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	store := filepath.Join(work, "packages")
	f := newDirFetcher(t, store, sampleTree)

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(work))
	require.NoError(t, err)

	got, err := c.Capture(context.Background(), sampleRequest)
	assert.ErrorIs(t, err, vouch.ErrPolicy)
	assert.Nil(t, got)
	assert.Equal(t, 1, f.Count("Locate"))
	assert.Zero(t, f.Count("Fetch"), "nothing is downloaded into the working directory")
	assert.False(t, exists(store))
}

func TestCapturePinsLocatedVersion(t *testing.T) {
	t.Parallel()

	store := t.TempDir()
	df := newDirFetcher(t, store, sampleTree)
	var (
		mu       sync.Mutex
		versions []string
	)
	f := &stubFetcher{
		LocateFunc: func(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error) {
			req.Version = "2.0.0"
			return df.Locate(ctx, req)
		},
		FetchFunc: func(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error) {
			mu.Lock()
			versions = append(versions, req.Version)
			mu.Unlock()
			return df.Fetch(ctx, req)
		},
	}

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(t.TempDir()))
	require.NoError(t, err)

	got, err := c.Capture(context.Background(), vouch.FetchRequest{Name: "sample", Independent: true})
	require.NoError(t, err)
	assert.Equal(t, vouch.CaptureVerified, got.State)
	assert.Equal(t, "2.0.0", got.Package.ID.Version)
	assert.Equal(t, []string{"2.0.0", "2.0.0"}, versions)
}

func TestCaptureRejectsSymlinkedWorkDir(t *testing.T) {
	t.Parallel()

	f, root, _ := captureFixture(t)
	link := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.Symlink(filepath.Dir(root), link))

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(link))
	require.NoError(t, err)
	_, err = c.Capture(context.Background(), sampleRequest)
	assert.ErrorIs(t, err, vouch.ErrPolicy)
	assert.True(t, exists(root))
}

func TestCaptureRemovesStaleQuarantine(t *testing.T) {
	t.Parallel()

	f, root, work := captureFixture(t)
	stale := root + ".reviewed"
	testutil.WriteTree(t, stale, map[string]string{"leftover.rs": "old"})

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(work), vouch.WithQuarantineSuffix(".reviewed"))
	require.NoError(t, err)

	got, err := c.Capture(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, vouch.CaptureVerified, got.State)
	assert.False(t, exists(stale))
}

func TestCaptureIdentityMismatch(t *testing.T) {
	t.Parallel()

	f, root, work := captureFixture(t)
	f.Identity = func(n int, req vouch.FetchRequest) vouch.PackageID {
		version := req.Version
		if n == 3 {
			version = "1.0.1"
		}
		return vouch.PackageID{Source: vouch.SourceCratesIO, Name: req.Name, Version: version}
	}

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(work))
	require.NoError(t, err)

	got, err := c.Capture(context.Background(), sampleRequest)
	assert.ErrorIs(t, err, vouch.ErrCollaborator)
	require.NotNil(t, got)
	assert.Equal(t, vouch.CaptureQuarantined, got.State)
	assert.True(t, exists(root+vouch.DefaultQuarantineSuffix), "quarantine kept for inspection")
}

func TestCaptureFetcherFailures(t *testing.T) {
	t.Parallel()

	errFetch := errors.New("registry unreachable")
	outsideRoot := filepath.Join(t.TempDir(), "sample-1.0.0")
	outside := func(_ context.Context, req vouch.FetchRequest) (vouch.Package, error) {
		return vouch.Package{ID: vouch.PackageID{Name: req.Name, Version: req.Version}, Root: outsideRoot}, nil
	}
	failing := func(context.Context, vouch.FetchRequest) (vouch.Package, error) {
		return vouch.Package{}, errFetch
	}

	tests := []struct {
		name        string
		fetcher     *stubFetcher
		wantFetches int
	}{
		{name: "locate fails", fetcher: &stubFetcher{LocateFunc: failing}},
		{name: "fetch fails", fetcher: &stubFetcher{LocateFunc: outside, FetchFunc: failing}, wantFetches: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := vouch.NewCapturer(tt.fetcher, vouch.WithWorkDir(t.TempDir()))
			require.NoError(t, err)

			_, err = c.Capture(context.Background(), sampleRequest)
			assert.ErrorIs(t, err, vouch.ErrCollaborator)
			assert.ErrorIs(t, err, errFetch)
			assert.Equal(t, tt.wantFetches, tt.fetcher.Count("Fetch"))
		})
	}
}

func TestCaptureRejectsConcurrentCapture(t *testing.T) {
	t.Parallel()

	f, _, work := captureFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.BeforeFetch = func(n int) {
		if n == 3 {
			once.Do(func() { close(entered) })
			<-release
		}
	}

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(work))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Capture(context.Background(), sampleRequest)
		done <- err
	}()
	<-entered

	_, err = c.Capture(context.Background(), sampleRequest)
	assert.ErrorIs(t, err, vouch.ErrPolicy)

	close(release)
	assert.NoError(t, <-done)
}

func TestNewCapturer(t *testing.T) {
	t.Parallel()

	_, err := vouch.NewCapturer(nil)
	assert.ErrorIs(t, err, vouch.ErrPolicy)

	f := newDirFetcher(t, t.TempDir(), nil)
	for _, suffix := range []string{"", "a/b", `a\b`} {
		_, err := vouch.NewCapturer(f, vouch.WithQuarantineSuffix(suffix))
		assert.ErrorIs(t, err, vouch.ErrPolicy, "suffix %q", suffix)
	}
}
