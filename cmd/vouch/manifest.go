package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/meigma/vouch"
)

// manifest lists the resolved dependencies to verify.
type manifest struct {
	Dependencies []manifestEntry `yaml:"dependencies"`
}

type manifestEntry struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Source      string `yaml:"source"`
	Root        string `yaml:"root"`
	CustomBuild bool   `yaml:"custom_build"`
}

// readManifest parses the dependency manifest at path. Relative roots are
// resolved against the manifest's directory.
func readManifest(path string) ([]manifestEntry, error) {
	f, err := os.Open(path) //nolint:gosec // path is a command argument
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m manifest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range m.Dependencies {
		e := &m.Dependencies[i]
		if e.Name == "" || e.Version == "" {
			return nil, fmt.Errorf("manifest %s: dependency %d: name and version are required", path, i)
		}
		if e.Root != "" && !filepath.IsAbs(e.Root) {
			e.Root = filepath.Join(base, e.Root)
		}
	}
	return m.Dependencies, nil
}

// resolveDependencies turns manifest entries into dependencies, fetching
// the trees of entries without a root through fetcher.
func (a *app) resolveDependencies(ctx context.Context, entries []manifestEntry) ([]*vouch.Dependency, error) {
	var fetcher vouch.PackageFetcher
	deps := make([]*vouch.Dependency, 0, len(entries))
	for _, e := range entries {
		dep := &vouch.Dependency{
			ID:             vouch.PackageID{Source: e.Source, Name: e.Name, Version: e.Version},
			Root:           e.Root,
			HasCustomBuild: e.CustomBuild,
		}
		if dep.Root == "" {
			if fetcher == nil {
				f, err := a.fetcher()
				if errors.Is(err, errNoFetcher) {
					return nil, fmt.Errorf("%s has no root and %w", dep.ID, err)
				}
				if err != nil {
					return nil, err
				}
				fetcher = f
			}
			pkg, err := fetcher.Fetch(ctx, vouch.FetchRequest{Name: e.Name, Version: e.Version})
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", dep.ID, err)
			}
			dep.Root = pkg.Root
			if dep.ID.Source == "" {
				dep.ID.Source = pkg.ID.Source
			}
		}
		deps = append(deps, dep)
	}
	return deps, nil
}
