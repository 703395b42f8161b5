package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/cratesio"
)

// defaultConfigFile is read from the working directory when --config is
// not given and the file exists.
const defaultConfigFile = "vouch.yaml"

// Config is the vouch configuration file.
type Config struct {
	RootIdentity    vouch.Identity                 `yaml:"root_identity"`
	ProofDirs       []string                       `yaml:"proof_dirs"`
	Requirements    vouch.VerificationRequirements `yaml:"requirements"`
	Distance        vouch.DistanceParams           `yaml:"distance"`
	Ignore          []string                       `yaml:"ignore"`
	KnownOwnersFile string                         `yaml:"known_owners_file"`
	SkipVerified    bool                           `yaml:"skip_verified"`
	SkipKnownOwners bool                           `yaml:"skip_known_owners"`
	Workers         int                            `yaml:"workers"`
	Registry        RegistryConfig                 `yaml:"registry"`
	Fetch           FetchConfig                    `yaml:"fetch"`
	MetricsFile     string                         `yaml:"metrics_file"`
}

// RegistryConfig configures the package metadata API.
type RegistryConfig struct {
	APIURL    string        `yaml:"api_url"`
	CacheDir  string        `yaml:"cache_dir"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	UserAgent string        `yaml:"user_agent"`
}

// FetchConfig configures the OCI source package store.
type FetchConfig struct {
	// Repository is the repository prefix packages are stored under.
	// Fetching is disabled when empty.
	Repository   string `yaml:"repository"`
	Root         string `yaml:"root"`
	PlainHTTP    bool   `yaml:"plain_http"`
	DockerConfig bool   `yaml:"docker_config"`
	Gzip         bool   `yaml:"gzip"`
}

func defaultConfig() Config {
	return Config{
		ProofDirs:       []string{"proofs"},
		Requirements:    vouch.DefaultRequirements(),
		Distance:        vouch.DefaultDistanceParams(),
		KnownOwnersFile: "known_owners.txt",
		Workers:         4,
		Registry: RegistryConfig{
			APIURL:    cratesio.DefaultAPIURL,
			CacheDir:  filepath.Join("cache", "registry"),
			CacheTTL:  24 * time.Hour,
			UserAgent: "vouch",
		},
		Fetch: FetchConfig{
			Root:         defaultFetchRoot(),
			DockerConfig: true,
		},
	}
}

// defaultFetchRoot places fetched trees in the user cache so that they
// never land inside a project the capture command would refuse.
func defaultFetchRoot() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "vouch", "packages")
}

// loadConfig reads the configuration at path. An empty path reads
// defaultConfigFile from the working directory if present and otherwise
// returns the defaults. Relative paths in the file are resolved against
// the file's directory.
func loadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	cfg := defaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path is operator configuration
	switch {
	case err == nil:
		if err := decodeConfig(bytes.NewReader(data), &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(base)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func decodeConfig(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i, d := range c.ProofDirs {
		c.ProofDirs[i] = abs(d)
	}
	c.KnownOwnersFile = abs(c.KnownOwnersFile)
	c.Registry.CacheDir = abs(c.Registry.CacheDir)
	c.Fetch.Root = abs(c.Fetch.Root)
	c.MetricsFile = abs(c.MetricsFile)
}

func (c *Config) validate() error {
	if err := c.Requirements.Validate(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.Registry.CacheTTL < 0 {
		return errors.New("registry cache_ttl must not be negative")
	}
	return nil
}

// ignoreList returns the default ignore list plus the configured paths.
func (c *Config) ignoreList() vouch.IgnoreList {
	return vouch.DefaultIgnoreList(c.Ignore...)
}
