package vouch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencontainers/go-digest"
)

// Verifier runs the per-dependency verification pipeline.
//
// A Verifier is built once per run. The trust set is computed at
// construction and, like the proof database and registry client, is only
// read afterwards, so Verify may be called from several goroutines as long
// as each call gets its own Dependency.
type Verifier struct {
	db       ProofDatabase
	graph    TrustGraph
	registry RegistryClient

	root            Identity
	distance        DistanceParams
	requirements    VerificationRequirements
	ignore          IgnoreList
	skipVerified    bool
	skipKnownOwners bool
	knownOwners     map[string]struct{}
	sizeMeter       SizeMeter
	durations       *Durations
	source          string
	logger          *slog.Logger

	trustSet *TrustSet
}

// NewVerifier creates a Verifier over the given collaborators.
//
// graph is only consulted when a root identity is configured; it may be
// nil otherwise.
func NewVerifier(db ProofDatabase, graph TrustGraph, registry RegistryClient, opts ...Option) (*Verifier, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: proof database is nil", ErrPolicy)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry client is nil", ErrPolicy)
	}

	v := &Verifier{
		db:           db,
		graph:        graph,
		registry:     registry,
		distance:     DefaultDistanceParams(),
		requirements: DefaultRequirements(),
		ignore:       DefaultIgnoreList(),
		knownOwners:  make(map[string]struct{}),
		sizeMeter:    NewLineCounter(),
		durations:    &Durations{},
		source:       SourceCratesIO,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if v.root == "" {
		v.trustSet = NewTrustSet()
		v.log().Debug("no root identity, using empty trust set")
		return v, nil
	}
	if v.graph == nil {
		return nil, fmt.Errorf("%w: trust graph is nil", ErrPolicy)
	}
	ts, err := v.graph.TrustSet(v.root, v.distance)
	if err != nil {
		return nil, collabErr("compute trust set", err)
	}
	if ts == nil {
		ts = NewTrustSet()
	}
	v.trustSet = ts
	v.log().Info("computed trust set", "root", v.root, "trusted_ids", ts.Len())
	return v, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (v *Verifier) log() *slog.Logger {
	if v.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return v.logger
}

// TrustSet returns the trust set computed at construction.
func (v *Verifier) TrustSet() *TrustSet {
	return v.trustSet
}

// Durations returns the stage timing accumulator.
func (v *Verifier) Durations() *Durations {
	return v.durations
}

// Requirements returns the verification thresholds in use.
func (v *Verifier) Requirements() VerificationRequirements {
	return v.requirements
}

// Verify runs the pipeline for dep and stores the outcome in dep.Status,
// which it also returns.
//
// The pipeline runs cheap local stages (digest, proof lookups) before
// registry calls and before the expensive issue and size stages, so that
// the skip policies cut a run short as early as possible. Registry and
// size failures leave the matching record fields absent; every other
// failure marks the dependency Failed without affecting others.
//
// ctx is passed to registry calls. Verify itself does not stop between
// stages when ctx is canceled.
func (v *Verifier) Verify(ctx context.Context, dep *Dependency) Status {
	dep.Status = inProgress()

	rec, reason, err := v.compute(ctx, dep)
	switch {
	case err != nil:
		v.log().Warn("verification failed", "package", dep.ID.String(), "root", dep.Root, "error", err)
		dep.Status = failed(err)
	case reason != SkipNone:
		v.log().Debug("verification skipped", "package", dep.ID.String(), "reason", reason.String())
		dep.Status = skipped(reason)
	default:
		dep.Status = okStatus(rec)
	}
	return dep.Status
}

func (v *Verifier) compute(ctx context.Context, dep *Dependency) (*VerificationRecord, SkipReason, error) {
	defer v.durations.start(StageTotal).stop()

	id := dep.ID
	if id.Source == "" {
		id.Source = v.source
	}

	dgst, verification, unclean, err := v.digestStage(ctx, id, dep.Root)
	if err != nil {
		return nil, SkipNone, err
	}
	verified := verification.IsVerified()
	if verified && v.skipVerified {
		return nil, SkipVerified, nil
	}

	reviews, err := v.reviewCounts(id)
	if err != nil {
		return nil, SkipNone, err
	}

	downloads := v.downloads(ctx, id)

	owners, ownerNames, knownCount := v.owners(ctx, id)
	if knownCount > 0 && v.skipKnownOwners {
		return nil, SkipKnownOwner, nil
	}

	issues, err := v.issueCounts(id)
	if err != nil {
		return nil, SkipNone, err
	}

	lines := v.sizeMetric(ctx, dep.Root)

	latest, err := v.latestTrusted(id)
	if err != nil {
		return nil, SkipNone, err
	}

	return &VerificationRecord{
		Digest:               dgst,
		Name:                 id.Name,
		Version:              id.Version,
		PURL:                 id.PURL(),
		Root:                 dep.Root,
		LatestTrustedVersion: latest,
		Verification:         verification,
		Reviews:              reviews,
		Downloads:            downloads,
		Owners:               owners,
		OwnerNames:           ownerNames,
		Issues:               issues,
		SourceLines:          lines,
		HasCustomBuild:       dep.HasCustomBuild,
		UncleanDigest:        unclean,
		Verified:             verified,
	}, SkipNone, nil
}

// digestStage digests the tree and checks it against the proof database.
func (v *Verifier) digestStage(ctx context.Context, id PackageID, root string) (digest.Digest, Verification, bool, error) {
	defer v.durations.start(StageDigest).stop()

	dgst, err := DigestDir(context.WithoutCancel(ctx), root, v.ignore)
	if err != nil {
		return "", VerificationNone, false, err
	}

	unclean, err := v.isUnclean(id, dgst)
	if err != nil {
		return "", VerificationNone, false, err
	}

	verification, err := v.db.VerifyDigest(dgst, v.trustSet, v.requirements)
	if err != nil {
		return "", VerificationNone, false, collabErr("verify digest", err)
	}
	v.log().Debug("digest checked", "package", id.String(), "digest", dgst.String(), "result", verification.String())
	return dgst, verification, unclean, nil
}

// isUnclean reports whether any review of this exact version recorded a
// digest other than d.
func (v *Verifier) isUnclean(id PackageID, d digest.Digest) (bool, error) {
	reviewed, err := v.db.ReviewedDigests(id.Source, id.Name, id.Version)
	if err != nil {
		return false, collabErr("reviewed digests", err)
	}
	for _, r := range reviewed {
		if r != d {
			return true, nil
		}
	}
	return false, nil
}

func (v *Verifier) reviewCounts(id PackageID) (CrateCounts, error) {
	versionCount, err := v.db.CountReviews(PackageQuery{Source: id.Source, Name: id.Name, Version: id.Version})
	if err != nil {
		return CrateCounts{}, collabErr("count version reviews", err)
	}
	totalCount, err := v.db.CountReviews(PackageQuery{Source: id.Source, Name: id.Name})
	if err != nil {
		return CrateCounts{}, collabErr("count reviews", err)
	}
	counts := CrateCounts{Version: versionCount, Total: totalCount}
	if err := counts.Validate(); err != nil {
		return CrateCounts{}, err
	}
	return counts, nil
}

func (v *Verifier) downloads(ctx context.Context, id PackageID) Optional[CrateCounts] {
	counts, err := v.registry.DownloadCounts(ctx, id.Name, id.Version)
	if err == nil {
		err = counts.Validate()
	}
	if err != nil {
		v.log().Warn("download counts unavailable", "package", id.String(), "error", err)
		return None[CrateCounts](err)
	}
	return Some(counts)
}

// owners returns the owner counts, the owner names, and how many owners
// are known.
func (v *Verifier) owners(ctx context.Context, id PackageID) (Optional[TrustCount], []string, uint64) {
	names, err := v.registry.Owners(ctx, id.Name)
	if err != nil {
		v.log().Warn("owners unavailable", "package", id.String(), "error", err)
		return None[TrustCount](err), nil, 0
	}
	var known uint64
	for _, n := range names {
		if _, ok := v.knownOwners[n]; ok {
			known++
		}
	}
	return Some(TrustCount{Trusted: known, Total: uint64(len(names))}), names, known
}

func (v *Verifier) issueCounts(id PackageID) (TrustCount, error) {
	defer v.durations.start(StageIssues).stop()

	trusted, err := v.db.OpenIssues(id.Source, id.Name, id.Version, v.trustSet, v.requirements.TrustLevel)
	if err != nil {
		return TrustCount{}, collabErr("open issues", err)
	}
	all, err := v.db.OpenIssues(id.Source, id.Name, id.Version, v.trustSet, TrustNone)
	if err != nil {
		return TrustCount{}, collabErr("open issues", err)
	}
	counts := TrustCount{Trusted: uint64(len(trusted)), Total: uint64(len(all))}
	if err := counts.Validate(); err != nil {
		return TrustCount{}, err
	}
	return counts, nil
}

func (v *Verifier) sizeMetric(ctx context.Context, root string) Optional[uint64] {
	defer v.durations.start(StageSizeMetric).stop()

	n, err := v.sizeMeter.Measure(ctx, root)
	if err != nil {
		v.log().Debug("size metric unavailable", "root", root, "error", err)
		return None[uint64](err)
	}
	return Some(n)
}

func (v *Verifier) latestTrusted(id PackageID) (Optional[string], error) {
	defer v.durations.start(StageLatestTrusted).stop()

	version, ok, err := v.db.LatestTrustedVersion(v.trustSet, id.Source, id.Name, v.requirements)
	if err != nil {
		return None[string](nil), collabErr("latest trusted version", err)
	}
	if !ok {
		return None[string](nil), nil
	}
	return Some(version), nil
}
