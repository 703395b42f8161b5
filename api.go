package vouch

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// TrustGraph computes the set of identities trusted from a root identity.
type TrustGraph interface {
	TrustSet(root Identity, params DistanceParams) (*TrustSet, error)
}

// ProofDatabase answers questions about the reviews and issues known to
// the local proof store. Implementations must be safe for concurrent
// reads once loaded.
type ProofDatabase interface {
	// VerifyDigest checks a tree digest against the reviews from ts.
	VerifyDigest(d digest.Digest, ts *TrustSet, req VerificationRequirements) (Verification, error)

	// CountReviews counts reviews matching q.
	CountReviews(q PackageQuery) (uint64, error)

	// ReviewedDigests returns the distinct digests recorded by reviews
	// of one package version.
	ReviewedDigests(source, name, version string) ([]digest.Digest, error)

	// OpenIssues returns the issues open for one package version that
	// were reported by identities meeting minLevel in ts.
	OpenIssues(source, name, version string, ts *TrustSet, minLevel TrustLevel) ([]Issue, error)

	// LatestTrustedVersion returns the newest version of a package that
	// itself satisfies req under ts.
	LatestTrustedVersion(ts *TrustSet, source, name string, req VerificationRequirements) (string, bool, error)
}

// RegistryClient queries package registry metadata. Each call may fail
// independently; callers treat failures as missing data.
type RegistryClient interface {
	DownloadCounts(ctx context.Context, name, version string) (CrateCounts, error)
	Owners(ctx context.Context, name string) ([]string, error)
}

// PackageFetcher places a package's source tree on local disk and reports
// its location and identity. Fetching the same name and version twice
// must yield the same location.
type PackageFetcher interface {
	// Locate reports where Fetch places the package and which version it
	// selects, without writing to the filesystem.
	Locate(ctx context.Context, req FetchRequest) (Package, error)

	Fetch(ctx context.Context, req FetchRequest) (Package, error)
}

// SizeMeter computes a size metric for a source tree.
type SizeMeter interface {
	Measure(ctx context.Context, root string) (uint64, error)
}

// SizeMeterFunc adapts a function to SizeMeter.
type SizeMeterFunc func(ctx context.Context, root string) (uint64, error)

// Measure calls f(ctx, root).
func (f SizeMeterFunc) Measure(ctx context.Context, root string) (uint64, error) {
	return f(ctx, root)
}
