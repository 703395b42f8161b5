package vouch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/vouch/internal/pathutil"
)

// DefaultQuarantineSuffix is appended to a package root to form its
// quarantine path.
const DefaultQuarantineSuffix = ".vouch-reviewed"

// CaptureState is the position of a capture in its protocol:
// Pristine -> Quarantined -> {Verified | Mismatch}.
type CaptureState uint8

const (
	CapturePristine CaptureState = iota
	CaptureQuarantined
	CaptureVerified
	CaptureMismatch
)

func (s CaptureState) String() string {
	switch s {
	case CaptureQuarantined:
		return "quarantined"
	case CaptureVerified:
		return "verified"
	case CaptureMismatch:
		return "mismatch"
	default:
		return "pristine"
	}
}

// Capture is the outcome of a digest capture.
type Capture struct {
	State CaptureState
	// Package is the freshly fetched package once the protocol got that far.
	Package Package
	// Digest is set when State is CaptureVerified.
	Digest digest.Digest
	// QuarantinePath holds the reviewed copy while it is kept on disk.
	QuarantinePath string
}

// Capturer produces digests that are safe to sign into a review.
//
// The tree a reviewer has been reading may have been modified locally,
// partially built, or generated non-deterministically. Before its digest
// is signed, the tree is moved aside, fetched again from the distribution
// channel, and both copies are digested; only matching digests are
// returned.
type Capturer struct {
	fetcher PackageFetcher
	ignore  IgnoreList
	workDir string
	suffix  string
	logger  *slog.Logger

	guard pathGuard
}

// NewCapturer creates a Capturer that locates and re-fetches packages
// through fetcher.
func NewCapturer(fetcher PackageFetcher, opts ...CaptureOption) (*Capturer, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: package fetcher is nil", ErrPolicy)
	}
	c := &Capturer{
		fetcher: fetcher,
		ignore:  DefaultIgnoreList(),
		suffix:  DefaultQuarantineSuffix,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Capturer) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Capture runs the quarantine, re-fetch, and compare protocol for the
// package selected by req and returns the verified digest.
//
// The package is first located without side effects. Its root must lie
// outside the working directory; otherwise Capture fails with ErrPolicy
// before the package is fetched or the filesystem is touched. A stale
// quarantine from an aborted run is removed first. If the re-fetched
// package has a different location or identity, Capture fails with
// ErrCollaborator and the quarantine is kept. If the digests differ,
// Capture returns a *MismatchError (matching ErrDigest) together with a
// Capture in state CaptureMismatch; both trees are kept for inspection.
//
// Capture must not run concurrently with another process working on the
// same package root. Concurrent calls within one Capturer for the same
// root are rejected with ErrPolicy.
func (c *Capturer) Capture(ctx context.Context, req FetchRequest) (*Capture, error) {
	located, err := c.fetcher.Locate(ctx, req)
	if err != nil {
		return nil, collabErr("locate package", err)
	}
	root, err := c.checkLocation(located.Root)
	if err != nil {
		return nil, err
	}

	release, err := c.guard.acquire(root)
	if err != nil {
		return nil, err
	}
	defer release()

	// Both fetches use the located version so an independent request
	// cannot move to a newer release mid-capture.
	req.Version = located.ID.Version
	pkg, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, collabErr("fetch package", err)
	}
	if err := checkSamePackage(located, root, pkg); err != nil {
		return nil, err
	}

	capture := &Capture{State: CapturePristine, Package: pkg}
	quarantine := root + c.suffix
	if err := c.quarantine(root, quarantine); err != nil {
		return capture, err
	}
	capture.State = CaptureQuarantined
	capture.QuarantinePath = quarantine
	c.log().Info("package quarantined", "package", pkg.ID.String(), "quarantine", quarantine)

	fresh, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return capture, collabErr("re-fetch package", err)
	}
	capture.Package = fresh
	if err := checkSamePackage(pkg, root, fresh); err != nil {
		return capture, err
	}

	freshDigest, err := DigestDir(ctx, root, c.ignore)
	if err != nil {
		return capture, err
	}
	reviewedDigest, err := DigestDir(ctx, quarantine, c.ignore)
	if err != nil {
		return capture, err
	}

	if freshDigest != reviewedDigest {
		capture.State = CaptureMismatch
		c.log().Warn("digest mismatch", "package", pkg.ID.String(), "fresh", freshDigest.String(), "reviewed", reviewedDigest.String())
		return capture, &MismatchError{
			Path:           root,
			QuarantinePath: quarantine,
			Fresh:          freshDigest,
			Quarantined:    reviewedDigest,
		}
	}

	if err := os.RemoveAll(quarantine); err != nil {
		return capture, ioErr("remove quarantine", quarantine, err)
	}
	capture.State = CaptureVerified
	capture.Digest = freshDigest
	capture.QuarantinePath = ""
	c.log().Info("digest captured", "package", pkg.ID.String(), "digest", freshDigest.String())
	return capture, nil
}

// checkLocation resolves root and rejects roots inside the working directory.
func (c *Capturer) checkLocation(root string) (string, error) {
	resolved, err := pathutil.Resolve(root)
	if err != nil {
		return "", ioErr("resolve package root", root, err)
	}
	wd := c.workDir
	if wd == "" {
		if wd, err = os.Getwd(); err != nil {
			return "", ioErr("get working directory", "", err)
		}
	}
	wd, err = pathutil.Resolve(wd)
	if err != nil {
		return "", ioErr("resolve working directory", wd, err)
	}
	if pathutil.Within(resolved, wd) {
		return "", fmt.Errorf("%w: package root %s is inside working directory %s", ErrPolicy, resolved, wd)
	}
	return resolved, nil
}

func (c *Capturer) quarantine(root, quarantine string) error {
	if _, err := os.Lstat(quarantine); err == nil {
		c.log().Debug("removing stale quarantine", "path", quarantine)
		if err := os.RemoveAll(quarantine); err != nil {
			return ioErr("remove stale quarantine", quarantine, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ioErr("stat quarantine", quarantine, err)
	}
	if err := os.Rename(root, quarantine); err != nil {
		return ioErr("quarantine", root, err)
	}
	return nil
}

func checkSamePackage(orig Package, root string, fresh Package) error {
	freshRoot, err := pathutil.Resolve(fresh.Root)
	if err != nil {
		return ioErr("resolve package root", fresh.Root, err)
	}
	if freshRoot != root {
		return fmt.Errorf("%w: fetched %s at %s, expected %s", ErrCollaborator, fresh.ID, freshRoot, root)
	}
	if fresh.ID.Name != orig.ID.Name || fresh.ID.Version != orig.ID.Version {
		return fmt.Errorf("%w: fetched %s, expected %s", ErrCollaborator, fresh.ID, orig.ID)
	}
	return nil
}
