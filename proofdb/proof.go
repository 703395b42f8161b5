package proofdb

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/meigma/vouch"
)

// Proof kinds.
const (
	KindPackageReview = "package-review"
	KindTrust         = "trust"
)

// ErrInvalidProof is returned for proofs that cannot be parsed or are
// missing required fields.
var ErrInvalidProof = errors.New("proofdb: invalid proof")

// Rating is a reviewer's overall verdict on a package version.
type Rating int8

const (
	RatingNegative Rating = iota - 1
	RatingNeutral
	RatingPositive
	RatingStrong
)

var ratingNames = map[Rating]string{
	RatingNegative: "negative",
	RatingNeutral:  "neutral",
	RatingPositive: "positive",
	RatingStrong:   "strong",
}

func (r Rating) String() string {
	if s, ok := ratingNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Rating(%d)", int8(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Rating) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rating) UnmarshalText(b []byte) error {
	for v, name := range ratingNames {
		if strings.EqualFold(string(b), name) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown rating %q", b)
}

// PackageRef identifies the reviewed tree.
type PackageRef struct {
	Source  string        `yaml:"source"`
	Name    string        `yaml:"name"`
	Version string        `yaml:"version"`
	Digest  digest.Digest `yaml:"digest"`
}

// Verdict grades a review.
type Verdict struct {
	Thoroughness  vouch.Level `yaml:"thoroughness"`
	Understanding vouch.Level `yaml:"understanding"`
	Rating        Rating      `yaml:"rating"`
}

// ReportedIssue is a problem found in the reviewed version.
type ReportedIssue struct {
	ID       string      `yaml:"id"`
	Severity vouch.Level `yaml:"severity"`
	Comment  string      `yaml:"comment,omitempty"`
}

// Advisory reports a problem affecting a range of versions, for example
// every version before a fix.
type Advisory struct {
	IDs      []string    `yaml:"ids"`
	Severity vouch.Level `yaml:"severity"`
	// Affected is a semver constraint such as "< 1.2.3".
	Affected string `yaml:"affected"`
	Comment  string `yaml:"comment,omitempty"`

	constraint *semver.Constraints
}

// Affects reports whether version falls in the advisory's range. Versions
// that are not valid semver are never affected.
func (a *Advisory) Affects(version string) bool {
	if a.constraint == nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return a.constraint.Check(v)
}

// Review is a package review proof.
type Review struct {
	Kind       string          `yaml:"kind"`
	Author     vouch.Identity  `yaml:"author"`
	Date       time.Time       `yaml:"date"`
	Package    PackageRef      `yaml:"package"`
	Review     Verdict         `yaml:"review"`
	Issues     []ReportedIssue `yaml:"issues,omitempty"`
	Advisories []Advisory      `yaml:"advisories,omitempty"`
	Comment    string          `yaml:"comment,omitempty"`
}

// ID returns the package the review covers.
func (r *Review) ID() vouch.PackageID {
	return vouch.PackageID{Source: r.Package.Source, Name: r.Package.Name, Version: r.Package.Version}
}

func (r *Review) validate() error {
	switch {
	case r.Author == "":
		return fmt.Errorf("%w: review has no author", ErrInvalidProof)
	case r.Date.IsZero():
		return fmt.Errorf("%w: review by %s has no date", ErrInvalidProof, r.Author)
	case r.Package.Name == "" || r.Package.Version == "":
		return fmt.Errorf("%w: review by %s names no package version", ErrInvalidProof, r.Author)
	}
	if err := r.Package.Digest.Validate(); err != nil {
		return fmt.Errorf("%w: review of %s: digest: %v", ErrInvalidProof, r.ID(), err)
	}
	if r.Package.Source == "" {
		r.Package.Source = vouch.SourceCratesIO
	}
	for i := range r.Issues {
		if r.Issues[i].ID == "" {
			return fmt.Errorf("%w: review of %s has an issue without id", ErrInvalidProof, r.ID())
		}
	}
	for i := range r.Advisories {
		a := &r.Advisories[i]
		if len(a.IDs) == 0 {
			return fmt.Errorf("%w: review of %s has an advisory without ids", ErrInvalidProof, r.ID())
		}
		c, err := semver.NewConstraint(a.Affected)
		if err != nil {
			return fmt.Errorf("%w: review of %s: advisory range %q: %v", ErrInvalidProof, r.ID(), a.Affected, err)
		}
		a.constraint = c
	}
	return nil
}

// Trust is a trust proof: Author trusts each of IDs at Level. A later
// proof by the same author about the same identity replaces an earlier
// one; level "none" revokes trust and "distrust" marks an identity as
// untrustworthy.
type Trust struct {
	Kind    string           `yaml:"kind"`
	Author  vouch.Identity   `yaml:"author"`
	Date    time.Time        `yaml:"date"`
	Level   vouch.TrustLevel `yaml:"trust"`
	IDs     []vouch.Identity `yaml:"ids"`
	Comment string           `yaml:"comment,omitempty"`
}

func (t *Trust) validate() error {
	switch {
	case t.Author == "":
		return fmt.Errorf("%w: trust proof has no author", ErrInvalidProof)
	case t.Date.IsZero():
		return fmt.Errorf("%w: trust proof by %s has no date", ErrInvalidProof, t.Author)
	case len(t.IDs) == 0:
		return fmt.Errorf("%w: trust proof by %s names no ids", ErrInvalidProof, t.Author)
	}
	return nil
}

// Proofs is the parsed content of one or more proof streams.
type Proofs struct {
	Reviews []*Review
	Trust   []*Trust
}

// Parse reads a YAML stream of proof documents separated by "---". name is
// used in error messages.
func Parse(r io.Reader, name string) (*Proofs, error) {
	dec := yaml.NewDecoder(r)
	out := &Proofs{}
	for i := 0; ; i++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProof, name, err)
		}
		if err := out.add(&node); err != nil {
			return nil, fmt.Errorf("%s document %d: %w", name, i+1, err)
		}
	}
}

func (p *Proofs) add(node *yaml.Node) error {
	var head struct {
		Kind string `yaml:"kind"`
	}
	if err := node.Decode(&head); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	switch head.Kind {
	case KindPackageReview:
		var r Review
		if err := node.Decode(&r); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		if err := r.validate(); err != nil {
			return err
		}
		p.Reviews = append(p.Reviews, &r)
	case KindTrust:
		var t Trust
		if err := node.Decode(&t); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		if err := t.validate(); err != nil {
			return err
		}
		p.Trust = append(p.Trust, &t)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProof, head.Kind)
	}
	return nil
}

// EncodeReview writes r as a single YAML proof document.
func EncodeReview(w io.Writer, r *Review) error {
	if r.Kind == "" {
		r.Kind = KindPackageReview
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
