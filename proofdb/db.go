// Package proofdb is a local proof store: it loads review and trust proofs
// from YAML files and answers the verifier's questions about them.
//
// A DB implements both vouch.ProofDatabase and vouch.TrustGraph. Only the
// newest proof per (author, package version) and per (author, trusted
// identity) is kept, so re-reviewing a package replaces the earlier
// verdict.
package proofdb

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/vouch"
)

type reviewKey struct {
	author  vouch.Identity
	source  string
	name    string
	version string
}

type pkgKey struct {
	source string
	name   string
}

type trustEdge struct {
	level vouch.TrustLevel
	date  time.Time
}

// DB holds loaded proofs. It is safe for concurrent use.
type DB struct {
	mu       sync.RWMutex
	reviews  map[reviewKey]*Review
	byDigest map[digest.Digest]map[reviewKey]struct{}
	byPkg    map[pkgKey]map[reviewKey]struct{}
	trust    map[vouch.Identity]map[vouch.Identity]trustEdge

	now    func() time.Time
	logger *slog.Logger
}

var (
	_ vouch.ProofDatabase = (*DB)(nil)
	_ vouch.TrustGraph    = (*DB)(nil)
)

// New returns an empty DB.
func New(opts ...Option) *DB {
	db := &DB{
		reviews:  make(map[reviewKey]*Review),
		byDigest: make(map[digest.Digest]map[reviewKey]struct{}),
		byPkg:    make(map[pkgKey]map[reviewKey]struct{}),
		trust:    make(map[vouch.Identity]map[vouch.Identity]trustEdge),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// log returns the logger, falling back to a discard logger if nil.
func (db *DB) log() *slog.Logger {
	if db.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return db.logger
}

// Load returns a DB holding every proof in the .yaml and .yml files below
// dirs. Missing directories are skipped.
func Load(dirs []string, opts ...Option) (*DB, error) {
	db := New(opts...)
	for _, dir := range dirs {
		if err := db.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// LoadDir adds the proofs in the .yaml and .yml files below dir.
func (db *DB) LoadDir(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
		default:
			return nil
		}
		return db.LoadFile(path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		db.log().Debug("proof directory missing", "dir", dir)
		return nil
	}
	return err
}

// LoadFile adds the proofs in one YAML file.
func (db *DB) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	proofs, err := Parse(f, path)
	if err != nil {
		return err
	}
	db.Add(proofs)
	db.log().Debug("loaded proofs", "file", path, "reviews", len(proofs.Reviews), "trust", len(proofs.Trust))
	return nil
}

// Add merges proofs into the DB, keeping the newest proof per author and
// subject.
func (db *DB) Add(p *Proofs) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, r := range p.Reviews {
		db.addReview(r)
	}
	for _, t := range p.Trust {
		db.addTrust(t)
	}
}

func (db *DB) addReview(r *Review) {
	key := reviewKey{author: r.Author, source: r.Package.Source, name: r.Package.Name, version: r.Package.Version}
	if prev, ok := db.reviews[key]; ok {
		if !r.Date.After(prev.Date) {
			return
		}
		delete(db.byDigest[prev.Package.Digest], key)
	}
	db.reviews[key] = r
	addToSet(db.byDigest, r.Package.Digest, key)
	addToSet(db.byPkg, pkgKey{source: key.source, name: key.name}, key)
}

func (db *DB) addTrust(t *Trust) {
	edges := db.trust[t.Author]
	if edges == nil {
		edges = make(map[vouch.Identity]trustEdge)
		db.trust[t.Author] = edges
	}
	for _, id := range t.IDs {
		if id == t.Author {
			continue
		}
		if prev, ok := edges[id]; ok && !t.Date.After(prev.date) {
			continue
		}
		edges[id] = trustEdge{level: t.Level, date: t.Date}
	}
}

func addToSet[K comparable](m map[K]map[reviewKey]struct{}, k K, v reviewKey) {
	s := m[k]
	if s == nil {
		s = make(map[reviewKey]struct{})
		m[k] = s
	}
	s[v] = struct{}{}
}

// reviewsIn returns the reviews for keys sorted by author.
func (db *DB) reviewsIn(keys map[reviewKey]struct{}) []*Review {
	out := make([]*Review, 0, len(keys))
	for k := range keys {
		out = append(out, db.reviews[k])
	}
	slices.SortFunc(out, func(a, b *Review) int {
		return cmp.Or(
			cmp.Compare(a.Author, b.Author),
			cmp.Compare(a.Package.Version, b.Package.Version),
		)
	})
	return out
}

// VerifyDigest checks the reviews of d.
//
// A review counts when its author meets req.TrustLevel in ts, it is not
// older than req.MaxAge, and it meets the understanding and thoroughness
// minimums. A negative rating from any author meeting the trust level
// flags the digest. Otherwise the digest is verified when at least
// req.Redundancy distinct authors left counted positive or strong
// reviews.
func (db *DB) VerifyDigest(d digest.Digest, ts *vouch.TrustSet, req vouch.VerificationRequirements) (vouch.Verification, error) {
	if err := req.Validate(); err != nil {
		return vouch.VerificationNone, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.verifyDigestLocked(d, ts, req), nil
}

func (db *DB) verifyDigestLocked(d digest.Digest, ts *vouch.TrustSet, req vouch.VerificationRequirements) vouch.Verification {
	keys := db.byDigest[d]
	if len(keys) == 0 {
		return vouch.VerificationNone
	}

	approvers := make(map[vouch.Identity]struct{})
	for _, r := range db.reviewsIn(keys) {
		if !ts.Satisfies(r.Author, req.TrustLevel) || db.tooOld(r, req.MaxAge) {
			continue
		}
		if r.Review.Rating == RatingNegative {
			return vouch.VerificationFlagged
		}
		if r.Review.Rating < RatingPositive ||
			r.Review.Understanding < req.Understanding ||
			r.Review.Thoroughness < req.Thoroughness {
			continue
		}
		approvers[r.Author] = struct{}{}
	}
	if uint64(len(approvers)) >= req.Redundancy {
		return vouch.VerificationVerified
	}
	return vouch.VerificationInsufficient
}

func (db *DB) tooOld(r *Review, maxAge time.Duration) bool {
	return maxAge > 0 && db.now().Sub(r.Date) > maxAge
}

// CountReviews counts the reviews matching q. Empty fields of q match any
// value.
func (db *DB) CountReviews(q vouch.PackageQuery) (uint64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n uint64
	match := func(k reviewKey) bool {
		return (q.Source == "" || k.source == q.Source) &&
			(q.Name == "" || k.name == q.Name) &&
			(q.Version == "" || k.version == q.Version)
	}
	if q.Name != "" && q.Source != "" {
		for k := range db.byPkg[pkgKey{source: q.Source, name: q.Name}] {
			if match(k) {
				n++
			}
		}
		return n, nil
	}
	for k := range db.reviews {
		if match(k) {
			n++
		}
	}
	return n, nil
}

// ReviewedDigests returns the distinct digests reviewed for one package
// version, sorted.
func (db *DB) ReviewedDigests(source, name, version string) ([]digest.Digest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	seen := make(map[digest.Digest]struct{})
	for k := range db.byPkg[pkgKey{source: source, name: name}] {
		if k.version == version {
			seen[db.reviews[k].Package.Digest] = struct{}{}
		}
	}
	out := make([]digest.Digest, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.Sort(out)
	return out, nil
}

// OpenIssues returns the issues open for one package version, reported by
// authors meeting minLevel in ts.
//
// An issue is open when a review of exactly that version reports it, or
// when an advisory in any review of the package covers the version. Each
// issue ID appears once, with the highest severity reported; results are
// sorted by ID.
func (db *DB) OpenIssues(source, name, version string, ts *vouch.TrustSet, minLevel vouch.TrustLevel) ([]vouch.Issue, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	found := make(map[string]vouch.Issue)
	report := func(is vouch.Issue) {
		if prev, ok := found[is.ID]; ok && prev.Severity >= is.Severity {
			return
		}
		found[is.ID] = is
	}

	for _, r := range db.reviewsIn(db.byPkg[pkgKey{source: source, name: name}]) {
		if !ts.Satisfies(r.Author, minLevel) {
			continue
		}
		if r.Package.Version == version {
			for _, is := range r.Issues {
				report(vouch.Issue{ID: is.ID, Severity: is.Severity, Reporter: r.Author, Comment: is.Comment})
			}
		}
		for i := range r.Advisories {
			a := &r.Advisories[i]
			if !a.Affects(version) {
				continue
			}
			for _, id := range a.IDs {
				report(vouch.Issue{ID: id, Severity: a.Severity, Reporter: r.Author, Comment: a.Comment})
			}
		}
	}

	out := make([]vouch.Issue, 0, len(found))
	for _, is := range found {
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b vouch.Issue) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// LatestTrustedVersion returns the highest semver version of a package
// with at least one reviewed digest that verifies under ts and req.
// Versions that are not valid semver are ignored.
func (db *DB) LatestTrustedVersion(ts *vouch.TrustSet, source, name string, req vouch.VerificationRequirements) (string, bool, error) {
	if err := req.Validate(); err != nil {
		return "", false, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	digests := make(map[string]map[digest.Digest]struct{})
	for k := range db.byPkg[pkgKey{source: source, name: name}] {
		ds := digests[k.version]
		if ds == nil {
			ds = make(map[digest.Digest]struct{})
			digests[k.version] = ds
		}
		ds[db.reviews[k].Package.Digest] = struct{}{}
	}

	versions := make([]*semver.Version, 0, len(digests))
	for raw := range digests {
		v, err := semver.NewVersion(raw)
		if err != nil {
			db.log().Debug("skipping non-semver version", "package", name, "version", raw)
			continue
		}
		versions = append(versions, v)
	}
	slices.SortFunc(versions, func(a, b *semver.Version) int { return b.Compare(a) })

	for _, v := range versions {
		for d := range digests[v.Original()] {
			if db.verifyDigestLocked(d, ts, req) == vouch.VerificationVerified {
				return v.Original(), true, nil
			}
		}
	}
	return "", false, nil
}

// Stats summarizes the DB content.
type Stats struct {
	Reviews    int
	Authors    int
	TrustEdges int
}

// Stats returns counts of the loaded proofs.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	authors := make(map[vouch.Identity]struct{})
	for k := range db.reviews {
		authors[k.author] = struct{}{}
	}
	s := Stats{Reviews: len(db.reviews)}
	for author, edges := range db.trust {
		authors[author] = struct{}{}
		s.TrustEdges += len(edges)
	}
	s.Authors = len(authors)
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("%d reviews, %d authors, %d trust edges", s.Reviews, s.Authors, s.TrustEdges)
}
