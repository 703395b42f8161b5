package vouch

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/package-url/packageurl-go"
)

// SourceCratesIO is the default package source.
const SourceCratesIO = "https://crates.io"

// Identity is the public identifier of a reviewer or trust declarer.
type Identity string

// PackageID names one version of a package from one source.
type PackageID struct {
	Source  string `json:"source" yaml:"source"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// String returns "name@version".
func (id PackageID) String() string {
	return id.Name + "@" + id.Version
}

// PURL returns the package URL for id. crates.io packages map to the
// cargo type; any other source is a generic package carrying the source
// as its repository_url qualifier.
func (id PackageID) PURL() string {
	if id.Source == "" || id.Source == SourceCratesIO {
		return packageurl.NewPackageURL(packageurl.TypeCargo, "", id.Name, id.Version, nil, "").ToString()
	}
	q := packageurl.QualifiersFromMap(map[string]string{"repository_url": id.Source})
	return packageurl.NewPackageURL(packageurl.TypeGeneric, "", id.Name, id.Version, q, "").ToString()
}

// TrustLevel is the trust one identity places in another.
type TrustLevel int8

const (
	TrustDistrust TrustLevel = iota - 1
	TrustNone
	TrustLow
	TrustMedium
	TrustHigh
)

var trustLevelNames = map[TrustLevel]string{
	TrustDistrust: "distrust",
	TrustNone:     "none",
	TrustLow:      "low",
	TrustMedium:   "medium",
	TrustHigh:     "high",
}

func (l TrustLevel) String() string {
	if s, ok := trustLevelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("TrustLevel(%d)", int8(l))
}

// ParseTrustLevel parses a lowercase trust level name.
func ParseTrustLevel(s string) (TrustLevel, error) {
	for l, name := range trustLevelNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return TrustNone, fmt.Errorf("%w: unknown trust level %q", ErrPolicy, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l TrustLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *TrustLevel) UnmarshalText(b []byte) error {
	v, err := ParseTrustLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Level grades a review's thoroughness or understanding.
type Level int8

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

var levelNames = [...]string{"none", "low", "medium", "high"}

func (l Level) String() string {
	if l >= LevelNone && l <= LevelHigh {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", int8(l))
}

// ParseLevel parses a lowercase review level name.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelNone, fmt.Errorf("%w: unknown level %q", ErrPolicy, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// DistanceParams bound how far trust propagates from the root identity.
// Each trust edge costs the distance configured for its level; identities
// farther than MaxDistance are not trusted.
type DistanceParams struct {
	MaxDistance         uint64 `yaml:"max_distance"`
	HighTrustDistance   uint64 `yaml:"high"`
	MediumTrustDistance uint64 `yaml:"medium"`
	LowTrustDistance    uint64 `yaml:"low"`
}

// DefaultDistanceParams returns the distances used when none are configured.
func DefaultDistanceParams() DistanceParams {
	return DistanceParams{
		MaxDistance:         10,
		HighTrustDistance:   0,
		MediumTrustDistance: 1,
		LowTrustDistance:    5,
	}
}

// EdgeCost returns the distance a trust edge of the given level adds.
// ok is false for levels that do not propagate trust.
func (p DistanceParams) EdgeCost(l TrustLevel) (cost uint64, ok bool) {
	switch l {
	case TrustHigh:
		return p.HighTrustDistance, true
	case TrustMedium:
		return p.MediumTrustDistance, true
	case TrustLow:
		return p.LowTrustDistance, true
	default:
		return 0, false
	}
}

// TrustedID is a member of a TrustSet.
type TrustedID struct {
	Level    TrustLevel
	Distance uint64
}

// TrustSet is the set of identities trusted from a root identity. A nil
// *TrustSet is a valid empty set. A TrustSet must not be modified once it
// is shared with a Verifier.
type TrustSet struct {
	ids map[Identity]TrustedID
}

// NewTrustSet returns an empty trust set.
func NewTrustSet() *TrustSet {
	return &TrustSet{ids: make(map[Identity]TrustedID)}
}

// Set records id with the given effective level and distance.
func (s *TrustSet) Set(id Identity, level TrustLevel, distance uint64) {
	if s.ids == nil {
		s.ids = make(map[Identity]TrustedID)
	}
	s.ids[id] = TrustedID{Level: level, Distance: distance}
}

// Remove drops id from the set.
func (s *TrustSet) Remove(id Identity) {
	delete(s.ids, id)
}

// Lookup returns the entry for id.
func (s *TrustSet) Lookup(id Identity) (TrustedID, bool) {
	if s == nil {
		return TrustedID{}, false
	}
	t, ok := s.ids[id]
	return t, ok
}

// Level returns the effective trust level of id, TrustNone if absent.
func (s *TrustSet) Level(id Identity) TrustLevel {
	t, ok := s.Lookup(id)
	if !ok {
		return TrustNone
	}
	return t.Level
}

// Satisfies reports whether id meets minLevel. A minLevel of TrustNone or
// below places no restriction.
func (s *TrustSet) Satisfies(id Identity, minLevel TrustLevel) bool {
	if minLevel <= TrustNone {
		return true
	}
	return s.Level(id) >= minLevel
}

// Len returns the number of trusted identities.
func (s *TrustSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the trusted identities in sorted order.
func (s *TrustSet) IDs() []Identity {
	if s == nil {
		return nil
	}
	out := make([]Identity, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// VerificationRequirements define what counts as verified.
type VerificationRequirements struct {
	// TrustLevel is the minimum effective trust of a counted reviewer.
	TrustLevel TrustLevel `yaml:"trust_level"`
	// Redundancy is the minimum number of distinct counted reviewers.
	Redundancy uint64 `yaml:"redundancy"`
	// Understanding and Thoroughness are the minimum review grades.
	Understanding Level `yaml:"understanding"`
	Thoroughness  Level `yaml:"thoroughness"`
	// MaxAge ignores reviews older than this. Zero disables the limit.
	MaxAge time.Duration `yaml:"max_age"`
}

// DefaultRequirements returns the requirements used when none are given.
func DefaultRequirements() VerificationRequirements {
	return VerificationRequirements{
		TrustLevel: TrustLow,
		Redundancy: 1,
	}
}

// Validate rejects requirements that any trust set, including the empty
// one, would trivially satisfy.
func (r VerificationRequirements) Validate() error {
	if r.Redundancy == 0 {
		return fmt.Errorf("%w: redundancy must be at least 1", ErrPolicy)
	}
	if r.TrustLevel <= TrustNone {
		return fmt.Errorf("%w: trust level must be above none", ErrPolicy)
	}
	if r.MaxAge < 0 {
		return fmt.Errorf("%w: max age must be non-negative", ErrPolicy)
	}
	return nil
}

// Verification is the outcome of checking a digest against the proofs.
type Verification uint8

const (
	// VerificationNone means no review covers the digest.
	VerificationNone Verification = iota
	// VerificationInsufficient means reviews exist but do not meet the requirements.
	VerificationInsufficient
	// VerificationVerified means the requirements are met.
	VerificationVerified
	// VerificationFlagged means a counted reviewer rated the package negatively.
	VerificationFlagged
)

func (v Verification) String() string {
	switch v {
	case VerificationInsufficient:
		return "insufficient"
	case VerificationVerified:
		return "verified"
	case VerificationFlagged:
		return "flagged"
	default:
		return "none"
	}
}

// Glyph returns the short marker printed at the start of a report line.
func (v Verification) Glyph() string {
	switch v {
	case VerificationInsufficient:
		return "low "
	case VerificationVerified:
		return "pass"
	case VerificationFlagged:
		return "flag"
	default:
		return "none"
	}
}

// IsVerified reports whether v is VerificationVerified.
func (v Verification) IsVerified() bool {
	return v == VerificationVerified
}

// CrateCounts counts items for one version and for all versions of a package.
type CrateCounts struct {
	Version uint64 `json:"version"`
	Total   uint64 `json:"total"`
}

// Validate checks Version <= Total.
func (c CrateCounts) Validate() error {
	if c.Version > c.Total {
		return fmt.Errorf("%w: version count %d exceeds total %d", ErrCollaborator, c.Version, c.Total)
	}
	return nil
}

// TrustCount counts items from trusted identities and from everyone.
type TrustCount struct {
	Trusted uint64 `json:"trusted"`
	Total   uint64 `json:"total"`
}

// Validate checks Trusted <= Total.
func (c TrustCount) Validate() error {
	if c.Trusted > c.Total {
		return fmt.Errorf("%w: trusted count %d exceeds total %d", ErrCollaborator, c.Trusted, c.Total)
	}
	return nil
}

// Issue is an open problem reported against a package version.
type Issue struct {
	ID       string   `json:"id"`
	Severity Level    `json:"severity"`
	Reporter Identity `json:"reporter"`
	Comment  string   `json:"comment,omitempty"`
}

// PackageQuery selects reviews. Empty Name or Version match any value.
type PackageQuery struct {
	Source  string
	Name    string
	Version string
}

// FetchRequest asks a PackageFetcher for a package. Independent requests
// may name packages outside the current dependency graph; an empty
// Version then selects the newest available version.
type FetchRequest struct {
	Name        string
	Version     string
	Independent bool
}

// Package is a fetched package tree on local disk.
type Package struct {
	ID   PackageID
	Root string
}

// VerificationRecord is the outcome of verifying one dependency.
type VerificationRecord struct {
	Digest               digest.Digest         `json:"digest"`
	Name                 string                `json:"name"`
	Version              string                `json:"version"`
	PURL                 string                `json:"purl"`
	Root                 string                `json:"root"`
	LatestTrustedVersion Optional[string]      `json:"latest_trusted_version"`
	Verification         Verification          `json:"-"`
	Reviews              CrateCounts           `json:"reviews"`
	Downloads            Optional[CrateCounts] `json:"downloads"`
	Owners               Optional[TrustCount]  `json:"owners"`
	OwnerNames           []string              `json:"owner_names,omitempty"`
	Issues               TrustCount            `json:"issues"`
	SourceLines          Optional[uint64]      `json:"source_lines"`
	HasCustomBuild       bool                  `json:"has_custom_build"`
	UncleanDigest        bool                  `json:"unclean_digest"`
	Verified             bool                  `json:"verified"`
}

// Dependency is one resolved dependency handed to the verifier. The batch
// driver owns it; the verifier updates Status in place.
type Dependency struct {
	ID             PackageID
	Root           string
	HasCustomBuild bool
	Status         Status
}
