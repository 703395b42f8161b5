package vouch

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors. Errors returned by this package wrap one of them, so
// callers can classify failures with errors.Is or KindOf. Context
// cancellation is the exception: it is returned as ctx.Err().
var (
	// ErrIO is returned when a source tree or quarantine cannot be read,
	// moved, or removed.
	ErrIO = errors.New("vouch: i/o failure")

	// ErrDigest is returned when two digests that must agree do not.
	ErrDigest = errors.New("vouch: digest mismatch")

	// ErrPolicy is returned when an operation is refused before it starts,
	// e.g. capturing a tree inside the working directory or invalid
	// verification requirements.
	ErrPolicy = errors.New("vouch: policy violation")

	// ErrCollaborator is returned when a proof database, trust graph,
	// registry, or fetcher fails or returns inconsistent data.
	ErrCollaborator = errors.New("vouch: collaborator failure")
)

// Kind classifies an error into the fixed taxonomy above.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindIO
	KindDigest
	KindPolicy
	KindCollaborator
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindDigest:
		return "digest"
	case KindPolicy:
		return "policy"
	case KindCollaborator:
		return "collaborator"
	default:
		return "unknown"
	}
}

// KindOf reports the taxonomy kind of err, or KindUnknown if err does not
// wrap one of the package sentinels.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrDigest):
		return KindDigest
	case errors.Is(err, ErrPolicy):
		return KindPolicy
	case errors.Is(err, ErrCollaborator):
		return KindCollaborator
	default:
		return KindUnknown
	}
}

// MismatchError is returned by Capturer.Capture when the quarantined tree
// and the freshly fetched tree digest differently. Both trees are left on
// disk for inspection.
type MismatchError struct {
	Path           string
	QuarantinePath string
	Fresh          digest.Digest
	Quarantined    digest.Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: fresh %s (%s) != reviewed %s (%s)",
		ErrDigest, e.Fresh, e.Path, e.Quarantined, e.QuarantinePath)
}

// Is makes MismatchError match ErrDigest.
func (e *MismatchError) Is(target error) bool {
	return target == ErrDigest
}

func ioErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}

func collabErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, op, err)
}
