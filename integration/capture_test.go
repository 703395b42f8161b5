//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/internal/testutil"
	"github.com/meigma/vouch/proofdb"
)

// stubRegistry serves fixed registry metadata.
type stubRegistry struct {
	counts vouch.CrateCounts
	owners []string
}

func (s stubRegistry) DownloadCounts(context.Context, string, string) (vouch.CrateCounts, error) {
	return s.counts, nil
}

func (s stubRegistry) Owners(context.Context, string) ([]string, error) {
	return s.owners, nil
}

func TestCaptureThroughRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, _ := newTestFetcher(t)
	publish(t, f, "sample", "1.0.0", sampleCrate)

	req := vouch.FetchRequest{Name: "sample", Version: "1.0.0"}
	pkg, err := f.Fetch(ctx, req)
	require.NoError(t, err)

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(t.TempDir()))
	require.NoError(t, err)

	got, err := c.Capture(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, vouch.CaptureVerified, got.State)
	assert.Equal(t, sampleCrate, testutil.ReadTree(t, pkg.Root), "fresh tree replaces the reviewed one")
	assert.NoDirExists(t, pkg.Root+vouch.DefaultQuarantineSuffix)

	// A review of the captured digest verifies the fetched package.
	db := proofdb.New()
	db.Add(&proofdb.Proofs{Reviews: []*proofdb.Review{{
		Kind:    proofdb.KindPackageReview,
		Author:  "alice",
		Date:    time.Now().UTC(),
		Package: proofdb.PackageRef{Source: vouch.SourceCratesIO, Name: "sample", Version: "1.0.0", Digest: got.Digest},
		Review:  proofdb.Verdict{Thoroughness: vouch.LevelMedium, Understanding: vouch.LevelHigh, Rating: proofdb.RatingPositive},
	}}})

	v, err := vouch.NewVerifier(db, db, stubRegistry{counts: vouch.CrateCounts{Version: 1, Total: 1}, owners: []string{"alice"}},
		vouch.WithRootIdentity("alice"))
	require.NoError(t, err)

	dep := &vouch.Dependency{ID: pkg.ID, Root: pkg.Root}
	v.Verify(ctx, dep)
	require.Equal(t, vouch.StateOK, dep.Status.State, "status error: %v", dep.Status.Err)
	assert.Equal(t, vouch.VerificationVerified, dep.Status.Record.Verification)
	assert.Equal(t, got.Digest, dep.Status.Record.Digest)
	assert.False(t, dep.Status.Record.UncleanDigest)
}

func TestCaptureDetectsLocalEdits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, _ := newTestFetcher(t)
	publish(t, f, "sample", "1.0.0", sampleCrate)

	req := vouch.FetchRequest{Name: "sample", Version: "1.0.0"}
	pkg, err := f.Fetch(ctx, req)
	require.NoError(t, err)
	testutil.WriteTree(t, pkg.Root, map[string]string{"src/lib.rs": "// reviewed a different file\n"})

	c, err := vouch.NewCapturer(f, vouch.WithWorkDir(t.TempDir()))
	require.NoError(t, err)

	got, err := c.Capture(ctx, req)
	var mismatch *vouch.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, vouch.CaptureMismatch, got.State)
	assert.Equal(t, sampleCrate, testutil.ReadTree(t, mismatch.Path))
	assert.Equal(t, "// reviewed a different file\n", testutil.ReadTree(t, mismatch.QuarantinePath)["src/lib.rs"])
}
