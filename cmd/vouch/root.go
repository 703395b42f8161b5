package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/cache/disk"
	"github.com/meigma/vouch/cratesio"
	"github.com/meigma/vouch/fetch/oci"
	"github.com/meigma/vouch/proofdb"
)

// errNoFetcher is returned by commands that need a package store when
// none is configured.
var errNoFetcher = errors.New("no package repository configured (fetch.repository)")

// app carries state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "vouch",
		Short:         "Verify dependencies against a web of trust",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ./"+defaultConfigFile+" if present)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newVerifyCmd(a),
		newReviewCmd(a),
		newDigestCmd(a),
		newTrustSetCmd(a),
		newPushCmd(a),
		newCacheCmd(a),
	)
	return root
}

func (a *app) init() error {
	logger, err := newLogger(a.stderr, a.logLevel, a.logFormat)
	if err != nil {
		return err
	}
	a.logger = logger

	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) proofDB() (*proofdb.DB, error) {
	db, err := proofdb.Load(a.cfg.ProofDirs, proofdb.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.logger.Info("proofs loaded", "dirs", a.cfg.ProofDirs, "stats", db.Stats().String())
	return db, nil
}

func (a *app) responseCache() (*disk.Cache, error) {
	if a.cfg.Registry.CacheDir == "" {
		return nil, nil
	}
	return disk.New(a.cfg.Registry.CacheDir, disk.WithTTL(a.cfg.Registry.CacheTTL))
}

func (a *app) registry() (*cratesio.Client, error) {
	opts := []cratesio.Option{
		cratesio.WithAPIURL(a.cfg.Registry.APIURL),
		cratesio.WithUserAgent(a.cfg.Registry.UserAgent),
		cratesio.WithLogger(a.logger),
	}
	cache, err := a.responseCache()
	if err != nil {
		return nil, err
	}
	if cache != nil {
		opts = append(opts, cratesio.WithCache(cache))
	}
	return cratesio.New(opts...)
}

func (a *app) fetcher() (*oci.Fetcher, error) {
	fc := a.cfg.Fetch
	if fc.Repository == "" {
		return nil, errNoFetcher
	}
	clientOpts := []oci.Option{oci.WithPlainHTTP(fc.PlainHTTP)}
	if fc.DockerConfig {
		clientOpts = append(clientOpts, oci.WithDockerConfig())
	}
	fetcherOpts := []oci.FetcherOption{oci.WithLogger(a.logger)}
	if fc.Gzip {
		fetcherOpts = append(fetcherOpts, oci.WithGzip())
	}
	return oci.NewFetcher(oci.New(clientOpts...), fc.Repository, fc.Root, fetcherOpts...)
}

func (a *app) verifier(db *proofdb.DB, reg vouch.RegistryClient, ds *vouch.Durations) (*vouch.Verifier, error) {
	owners, err := vouch.LoadKnownOwners(a.cfg.KnownOwnersFile)
	if err != nil {
		return nil, err
	}
	return vouch.NewVerifier(db, db, reg,
		vouch.WithRootIdentity(a.cfg.RootIdentity),
		vouch.WithDistanceParams(a.cfg.Distance),
		vouch.WithRequirements(a.cfg.Requirements),
		vouch.WithIgnoreList(a.cfg.ignoreList()),
		vouch.WithSkipVerified(a.cfg.SkipVerified),
		vouch.WithSkipKnownOwners(a.cfg.SkipKnownOwners),
		vouch.WithKnownOwners(owners...),
		vouch.WithDurations(ds),
		vouch.WithLogger(a.logger),
	)
}
