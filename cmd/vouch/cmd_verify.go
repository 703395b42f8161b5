package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/internal/metrics"
)

type verifyOptions struct {
	verbose         bool
	jsonOut         bool
	workers         int
	skipVerified    bool
	skipKnownOwners bool
	metricsFile     string
}

func newVerifyCmd(a *app) *cobra.Command {
	var opts verifyOptions
	cmd := &cobra.Command{
		Use:   "verify MANIFEST",
		Short: "Verify the dependencies listed in a manifest",
		Long: `Verify reads a YAML manifest of resolved dependencies, digests each
dependency's source tree, and reports its verification status, review and
download counts, owners, open issues, and size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("skip-verified") {
				a.cfg.SkipVerified = opts.skipVerified
			}
			if cmd.Flags().Changed("skip-known-owners") {
				a.cfg.SkipKnownOwners = opts.skipKnownOwners
			}
			if cmd.Flags().Changed("workers") {
				a.cfg.Workers = opts.workers
			}
			if cmd.Flags().Changed("metrics-file") {
				a.cfg.MetricsFile = opts.metricsFile
			}
			return a.runVerify(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "include digests in the output")
	f.BoolVar(&opts.jsonOut, "json", false, "write records as JSON lines")
	f.IntVarP(&opts.workers, "workers", "j", 0, "concurrent verifications (0 uses all CPUs)")
	f.BoolVar(&opts.skipVerified, "skip-verified", false, "skip dependencies that are already verified")
	f.BoolVar(&opts.skipKnownOwners, "skip-known-owners", false, "skip dependencies with a known owner")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	return cmd
}

func (a *app) runVerify(cmd *cobra.Command, manifestPath string, opts verifyOptions) error {
	ctx := cmd.Context()

	entries, err := readManifest(manifestPath)
	if err != nil {
		return err
	}
	deps, err := a.resolveDependencies(ctx, entries)
	if err != nil {
		return err
	}

	db, err := a.proofDB()
	if err != nil {
		return err
	}
	reg, err := a.registry()
	if err != nil {
		return err
	}
	ds := &vouch.Durations{}
	v, err := a.verifier(db, reg, ds)
	if err != nil {
		return err
	}

	sum, err := vouch.VerifyAll(ctx, v, deps, a.cfg.Workers)
	if err != nil {
		return err
	}

	if err := a.writeResults(deps, opts); err != nil {
		return err
	}

	if a.cfg.MetricsFile != "" {
		run, err := metrics.NewRun(ds)
		if err != nil {
			return err
		}
		run.Observe(deps)
		if err := run.WriteFile(a.cfg.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	a.logger.Info("verification finished", "ok", sum.OK, "skipped", sum.Skipped, "failed", sum.Failed)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d dependencies failed", sum.Failed, len(deps))
	}
	return nil
}

func (a *app) writeResults(deps []*vouch.Dependency, opts verifyOptions) error {
	if opts.jsonOut {
		enc := json.NewEncoder(a.stdout)
		for _, dep := range deps {
			if err := enc.Encode(jsonResult(dep)); err != nil {
				return err
			}
		}
		return nil
	}

	lf := newLineFormatter(opts.verbose)
	fmt.Fprintln(a.stdout, header)
	for _, dep := range deps {
		lf.write(a.stdout, dep)
	}
	return nil
}

// jsonResult is the JSON form of one dependency's outcome.
func jsonResult(dep *vouch.Dependency) any {
	st := dep.Status
	if st.State == vouch.StateOK && st.Record != nil {
		return struct {
			*vouch.VerificationRecord
			Result string `json:"result"`
		}{st.Record, st.Record.Verification.String()}
	}
	out := struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		PURL    string `json:"purl"`
		Root    string `json:"root"`
		Result  string `json:"result"`
		Reason  string `json:"reason,omitempty"`
		Error   string `json:"error,omitempty"`
	}{
		Name:    dep.ID.Name,
		Version: dep.ID.Version,
		PURL:    dep.ID.PURL(),
		Root:    dep.Root,
		Result:  st.State.String(),
	}
	if st.State == vouch.StateSkipped {
		out.Reason = st.Skip.String()
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}
