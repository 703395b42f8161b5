// Package oci publishes package source trees to OCI registries and fetches
// them back onto local disk.
//
// Each package lives in its own repository below a configured prefix,
// "<prefix>/<name>", with one tag per version. A source tree is a single
// tar+zstd (or tar+gzip) layer; the manifest carries the package name and
// version as annotations so a fetch can confirm it received what it asked
// for.
package oci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/internal/archive"
	"github.com/meigma/vouch/internal/pathutil"
)

const (
	// ArtifactType identifies source package manifests.
	ArtifactType = "application/vnd.vouch.source.v1"

	// AnnotationName and AnnotationVersion record the package identity.
	AnnotationName    = "dev.vouch.package.name"
	AnnotationVersion = "dev.vouch.package.version"
)

// Fetcher implements vouch.PackageFetcher over an OCI registry.
//
// Fetched trees are extracted to "<root>/<sanitized name>-<version>". A
// tree that is already present is returned without contacting the
// registry, so fetching the same package twice yields the same location.
type Fetcher struct {
	client      *Client
	prefix      string
	root        string
	source      string
	compression archive.Compression
	limits      archive.Limits
	logger      *slog.Logger
}

var _ vouch.PackageFetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher for packages stored below the repository
// prefix (e.g. "ghcr.io/acme/crates"), extracting them under root.
func NewFetcher(client *Client, prefix, root string, opts ...FetcherOption) (*Fetcher, error) {
	if client == nil {
		return nil, errors.New("registry client is nil")
	}
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return nil, fmt.Errorf("%w: repository prefix is empty", ErrInvalidReference)
	}
	if root == "" {
		return nil, errors.New("package root is empty")
	}
	f := &Fetcher{
		client:      client,
		prefix:      prefix,
		root:        root,
		source:      vouch.SourceCratesIO,
		compression: archive.CompressionZstd,
		limits:      archive.DefaultLimits,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (f *Fetcher) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// Locate resolves req to a package identity and the directory Fetch
// extracts it to, without writing to disk. An empty version is only
// accepted for independent requests and selects the highest version
// published, preferring releases over pre-releases; resolving it lists the
// repository's tags.
func (f *Fetcher) Locate(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error) {
	if req.Name == "" {
		return vouch.Package{}, fmt.Errorf("%w: package name is empty", ErrInvalidReference)
	}

	version := req.Version
	if version == "" {
		if !req.Independent {
			return vouch.Package{}, fmt.Errorf("%w: %s", ErrVersionRequired, req.Name)
		}
		latest, err := f.latestVersion(ctx, f.Repository(req.Name))
		if err != nil {
			return vouch.Package{}, err
		}
		version = latest
	}
	if _, err := semver.NewVersion(version); err != nil {
		return vouch.Package{}, fmt.Errorf("%w: version %q: %v", ErrInvalidReference, version, err)
	}

	return vouch.Package{
		ID:   vouch.PackageID{Source: f.source, Name: req.Name, Version: version},
		Root: f.PackageDir(req.Name, version),
	}, nil
}

// Fetch places the requested package on disk at the location Locate
// reports, downloading it only when that directory does not exist.
func (f *Fetcher) Fetch(ctx context.Context, req vouch.FetchRequest) (vouch.Package, error) {
	pkg, err := f.Locate(ctx, req)
	if err != nil {
		return vouch.Package{}, err
	}
	if info, err := os.Stat(pkg.Root); err == nil && info.IsDir() {
		f.log().Debug("package already present", "package", pkg.ID.String(), "root", pkg.Root)
		return pkg, nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return vouch.Package{}, err
	}

	if err := f.download(ctx, f.Repository(req.Name), req.Name, pkg.ID.Version, pkg.Root); err != nil {
		return vouch.Package{}, err
	}
	f.log().Info("package fetched", "package", pkg.ID.String(), "root", pkg.Root)
	return pkg, nil
}

// Repository returns the repository reference holding name.
func (f *Fetcher) Repository(name string) string {
	return f.prefix + "/" + strings.ToLower(name)
}

// PackageDir returns where Fetch places name at version.
func (f *Fetcher) PackageDir(name, version string) string {
	return filepath.Join(f.root, pathutil.SanitizeName(name)+"-"+version)
}

func (f *Fetcher) download(ctx context.Context, repoRef, name, version, dest string) error {
	_, manifest, err := f.client.FetchManifest(ctx, repoRef, versionTag(version))
	if err != nil {
		return fmt.Errorf("fetch manifest for %s@%s: %w", name, version, err)
	}
	layer, compression, err := sourceLayer(&manifest, name, version)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return err
	}
	tmpBlob, err := os.CreateTemp(f.root, ".blob-*")
	if err != nil {
		return err
	}
	defer func() {
		tmpBlob.Close()
		_ = os.Remove(tmpBlob.Name())
	}()
	if err := f.client.FetchBlob(ctx, repoRef, &layer, tmpBlob); err != nil {
		return fmt.Errorf("fetch layer for %s@%s: %w", name, version, err)
	}
	if _, err := tmpBlob.Seek(0, io.SeekStart); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(f.root, ".extract-*")
	if err != nil {
		return err
	}
	if err := archive.Unpack(ctx, tmpBlob, tmpDir, compression, f.limits); err != nil {
		_ = os.RemoveAll(tmpDir)
		return fmt.Errorf("unpack %s@%s: %w", name, version, err)
	}
	if err := os.Rename(tmpDir, dest); err != nil {
		_ = os.RemoveAll(tmpDir)
		// Another fetch of the same package won the race.
		if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
			return nil
		}
		return err
	}
	return nil
}

// sourceLayer checks the manifest describes name@version and returns its
// source layer.
func sourceLayer(m *ocispec.Manifest, name, version string) (ocispec.Descriptor, archive.Compression, error) {
	if m.ArtifactType != "" && m.ArtifactType != ArtifactType {
		return ocispec.Descriptor{}, 0, fmt.Errorf("%w: artifact type %s", ErrManifestInvalid, m.ArtifactType)
	}
	gotName, gotVersion := m.Annotations[AnnotationName], m.Annotations[AnnotationVersion]
	if gotName != name || gotVersion != version {
		return ocispec.Descriptor{}, 0, fmt.Errorf("%w: manifest is %s@%s, requested %s@%s",
			ErrPackageMismatch, gotName, gotVersion, name, version)
	}
	if len(m.Layers) != 1 {
		return ocispec.Descriptor{}, 0, fmt.Errorf("%w: expected one layer, got %d", ErrManifestInvalid, len(m.Layers))
	}
	layer := m.Layers[0]
	c, err := archive.CompressionFromMediaType(layer.MediaType)
	if err != nil {
		return ocispec.Descriptor{}, 0, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return layer, c, nil
}

// latestVersion returns the highest semver tag, ignoring pre-releases
// unless nothing else is published.
func (f *Fetcher) latestVersion(ctx context.Context, repoRef string) (string, error) {
	tags, err := f.client.Tags(ctx, repoRef)
	if err != nil {
		return "", fmt.Errorf("list versions of %s: %w", repoRef, err)
	}
	var best, bestPre *semver.Version
	for _, tag := range tags {
		v, err := semver.NewVersion(tagVersion(tag))
		if err != nil {
			continue
		}
		if v.Prerelease() != "" {
			if bestPre == nil || v.GreaterThan(bestPre) {
				bestPre = v
			}
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		best = bestPre
	}
	if best == nil {
		return "", fmt.Errorf("%w: no versions published in %s", ErrNotFound, repoRef)
	}
	return best.Original(), nil
}

// Push publishes the tree at dir as id, skipping the paths in ignore.
// It returns the manifest descriptor.
func (f *Fetcher) Push(ctx context.Context, id vouch.PackageID, dir string, ignore vouch.IgnoreList) (ocispec.Descriptor, error) {
	if _, err := semver.NewVersion(id.Version); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: version %q: %v", ErrInvalidReference, id.Version, err)
	}
	repoRef := f.Repository(id.Name)

	tmp, err := os.CreateTemp("", "vouch-push-*")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer func() {
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	digester := digest.Canonical.Digester()
	counter := &countingWriter{}
	w := io.MultiWriter(tmp, digester.Hash(), counter)
	if err := archive.Pack(ctx, w, dir, f.compression, ignore.Contains); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("pack %s: %w", dir, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return ocispec.Descriptor{}, err
	}

	layer := ocispec.Descriptor{
		MediaType: f.compression.MediaType(),
		Digest:    digester.Digest(),
		Size:      counter.n,
		Annotations: map[string]string{
			ocispec.AnnotationTitle: pathutil.SanitizeName(id.Name) + "-" + id.Version + ".tar",
		},
	}
	if err := f.client.PushBlob(ctx, repoRef, &layer, tmp); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push layer: %w", err)
	}

	config := ocispec.DescriptorEmptyJSON
	if err := f.client.PushBlob(ctx, repoRef, &config, bytes.NewReader(config.Data)); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push config: %w", err)
	}

	manifest := ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       config,
		Layers:       []ocispec.Descriptor{layer},
		Annotations: map[string]string{
			AnnotationName:    id.Name,
			AnnotationVersion: id.Version,
		},
	}
	desc, err := f.client.PushManifest(ctx, repoRef, versionTag(id.Version), &manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push manifest: %w", err)
	}
	f.log().Info("package pushed", "package", id.String(), "repository", repoRef, "digest", desc.Digest.String())
	return desc, nil
}

// versionTag maps a semver version to an OCI tag; build metadata's '+'
// is not allowed in tags.
func versionTag(version string) string {
	return strings.ReplaceAll(version, "+", "_")
}

func tagVersion(tag string) string {
	return strings.ReplaceAll(tag, "_", "+")
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
