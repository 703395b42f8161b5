package vouch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/internal/testutil"
)

// calls counts method invocations on a mock.
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *calls) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

// Count returns how often name was called.
func (c *calls) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

// mockProofDB is a function-field ProofDatabase. Unset functions return
// a "not implemented" error.
type mockProofDB struct {
	calls

	VerifyDigestFunc         func(d digest.Digest, ts *vouch.TrustSet, req vouch.VerificationRequirements) (vouch.Verification, error)
	CountReviewsFunc         func(q vouch.PackageQuery) (uint64, error)
	ReviewedDigestsFunc      func(source, name, version string) ([]digest.Digest, error)
	OpenIssuesFunc           func(source, name, version string, ts *vouch.TrustSet, minLevel vouch.TrustLevel) ([]vouch.Issue, error)
	LatestTrustedVersionFunc func(ts *vouch.TrustSet, source, name string, req vouch.VerificationRequirements) (string, bool, error)
}

func (m *mockProofDB) VerifyDigest(d digest.Digest, ts *vouch.TrustSet, req vouch.VerificationRequirements) (vouch.Verification, error) {
	m.hit("VerifyDigest")
	if m.VerifyDigestFunc != nil {
		return m.VerifyDigestFunc(d, ts, req)
	}
	return vouch.VerificationNone, errors.New("VerifyDigest not implemented")
}

func (m *mockProofDB) CountReviews(q vouch.PackageQuery) (uint64, error) {
	m.hit("CountReviews")
	if m.CountReviewsFunc != nil {
		return m.CountReviewsFunc(q)
	}
	return 0, errors.New("CountReviews not implemented")
}

func (m *mockProofDB) ReviewedDigests(source, name, version string) ([]digest.Digest, error) {
	m.hit("ReviewedDigests")
	if m.ReviewedDigestsFunc != nil {
		return m.ReviewedDigestsFunc(source, name, version)
	}
	return nil, errors.New("ReviewedDigests not implemented")
}

func (m *mockProofDB) OpenIssues(source, name, version string, ts *vouch.TrustSet, minLevel vouch.TrustLevel) ([]vouch.Issue, error) {
	m.hit("OpenIssues")
	if m.OpenIssuesFunc != nil {
		return m.OpenIssuesFunc(source, name, version, ts, minLevel)
	}
	return nil, errors.New("OpenIssues not implemented")
}

func (m *mockProofDB) LatestTrustedVersion(ts *vouch.TrustSet, source, name string, req vouch.VerificationRequirements) (string, bool, error) {
	m.hit("LatestTrustedVersion")
	if m.LatestTrustedVersionFunc != nil {
		return m.LatestTrustedVersionFunc(ts, source, name, req)
	}
	return "", false, errors.New("LatestTrustedVersion not implemented")
}

// emptyProofDB returns a mock with no reviews and no issues.
func emptyProofDB() *mockProofDB {
	return &mockProofDB{
		VerifyDigestFunc: func(digest.Digest, *vouch.TrustSet, vouch.VerificationRequirements) (vouch.Verification, error) {
			return vouch.VerificationNone, nil
		},
		CountReviewsFunc: func(vouch.PackageQuery) (uint64, error) { return 0, nil },
		ReviewedDigestsFunc: func(string, string, string) ([]digest.Digest, error) {
			return nil, nil
		},
		OpenIssuesFunc: func(string, string, string, *vouch.TrustSet, vouch.TrustLevel) ([]vouch.Issue, error) {
			return nil, nil
		},
		LatestTrustedVersionFunc: func(*vouch.TrustSet, string, string, vouch.VerificationRequirements) (string, bool, error) {
			return "", false, nil
		},
	}
}

// mockRegistry is a function-field RegistryClient.
type mockRegistry struct {
	calls

	DownloadCountsFunc func(ctx context.Context, name, version string) (vouch.CrateCounts, error)
	OwnersFunc         func(ctx context.Context, name string) ([]string, error)
}

func (m *mockRegistry) DownloadCounts(ctx context.Context, name, version string) (vouch.CrateCounts, error) {
	m.hit("DownloadCounts")
	if m.DownloadCountsFunc != nil {
		return m.DownloadCountsFunc(ctx, name, version)
	}
	return vouch.CrateCounts{}, errors.New("DownloadCounts not implemented")
}

func (m *mockRegistry) Owners(ctx context.Context, name string) ([]string, error) {
	m.hit("Owners")
	if m.OwnersFunc != nil {
		return m.OwnersFunc(ctx, name)
	}
	return nil, errors.New("Owners not implemented")
}

// mockTrustGraph is a function-field TrustGraph.
type mockTrustGraph struct {
	calls

	TrustSetFunc func(root vouch.Identity, params vouch.DistanceParams) (*vouch.TrustSet, error)
}

func (m *mockTrustGraph) TrustSet(root vouch.Identity, params vouch.DistanceParams) (*vouch.TrustSet, error) {
	m.hit("TrustSet")
	if m.TrustSetFunc != nil {
		return m.TrustSetFunc(root, params)
	}
	return nil, errors.New("TrustSet not implemented")
}

// countingMeter is a SizeMeter that records its calls.
type countingMeter struct {
	calls
	n   uint64
	err error
}

func (m *countingMeter) Measure(context.Context, string) (uint64, error) {
	m.hit("Measure")
	return m.n, m.err
}

// dirFetcher is a PackageFetcher that materializes a fixed file tree at
// <root>/<name>-<version> whenever that directory is missing.
type dirFetcher struct {
	calls

	root  string
	files map[string]string

	// BeforeFetch runs at the start of the nth call (1-based).
	BeforeFetch func(n int)
	// AfterCreate runs after a tree was materialized by the nth call.
	AfterCreate func(n int, dir string)
	// Identity overrides the returned package identity on the nth call.
	Identity func(n int, req vouch.FetchRequest) vouch.PackageID

	mu sync.Mutex
	t  testing.TB
	nc int
}

func newDirFetcher(t testing.TB, root string, files map[string]string) *dirFetcher {
	return &dirFetcher{t: t, root: root, files: files}
}

func (f *dirFetcher) locate(n int, req vouch.FetchRequest) vouch.Package {
	id := vouch.PackageID{Source: vouch.SourceCratesIO, Name: req.Name, Version: req.Version}
	if f.Identity != nil {
		id = f.Identity(n, req)
	}
	return vouch.Package{ID: id, Root: filepath.Join(f.root, req.Name+"-"+req.Version)}
}

// Locate reports the package location without creating it. Identity is
// called with n = 0.
func (f *dirFetcher) Locate(_ context.Context, req vouch.FetchRequest) (vouch.Package, error) {
	f.hit("Locate")
	return f.locate(0, req), nil
}

func (f *dirFetcher) Fetch(_ context.Context, req vouch.FetchRequest) (vouch.Package, error) {
	f.hit("Fetch")
	f.mu.Lock()
	f.nc++
	n := f.nc
	f.mu.Unlock()

	if f.BeforeFetch != nil {
		f.BeforeFetch(n)
	}

	pkg := f.locate(n, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(pkg.Root); os.IsNotExist(err) {
		testutil.WriteTree(f.t, pkg.Root, f.files)
		if f.AfterCreate != nil {
			f.AfterCreate(n, pkg.Root)
		}
	}
	return pkg, nil
}

// stubFetcher is a function-field PackageFetcher.
type stubFetcher struct {
	calls

	LocateFunc func(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error)
	FetchFunc  func(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error)
}

func (s *stubFetcher) Locate(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error) {
	s.hit("Locate")
	if s.LocateFunc != nil {
		return s.LocateFunc(ctx, req)
	}
	return vouch.Package{}, errors.New("Locate not implemented")
}

func (s *stubFetcher) Fetch(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error) {
	s.hit("Fetch")
	if s.FetchFunc != nil {
		return s.FetchFunc(ctx, req)
	}
	return vouch.Package{}, errors.New("Fetch not implemented")
}
