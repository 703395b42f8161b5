package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/proofdb"
)

type reviewOptions struct {
	independent   bool
	rating        string
	thoroughness  string
	understanding string
	comment       string
}

func newReviewCmd(a *app) *cobra.Command {
	var opts reviewOptions
	cmd := &cobra.Command{
		Use:   "review NAME [VERSION]",
		Short: "Capture a package digest and print an unsigned review draft",
		Long: `Review moves the package tree you inspected aside, fetches the package
again, and compares both digests. When they match, an unsigned review proof
for that digest is written to stdout. When they differ, both trees are kept
and the command fails.

Without VERSION the newest published version is reviewed, which requires
--independent.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := vouch.FetchRequest{Name: args[0], Independent: opts.independent}
			if len(args) == 2 {
				req.Version = args[1]
			}
			return a.runReview(cmd, req, opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.independent, "independent", false, "the package is not part of the current dependency graph")
	f.StringVar(&opts.rating, "rating", "neutral", "review rating: negative, neutral, positive, strong")
	f.StringVar(&opts.thoroughness, "thoroughness", "low", "review thoroughness: none, low, medium, high")
	f.StringVar(&opts.understanding, "understanding", "medium", "review understanding: none, low, medium, high")
	f.StringVar(&opts.comment, "comment", "", "review comment")
	return cmd
}

func (a *app) runReview(cmd *cobra.Command, req vouch.FetchRequest, opts reviewOptions) error {
	if a.cfg.RootIdentity == "" {
		return errors.New("root_identity must be configured to author a review")
	}
	draft := &proofdb.Review{
		Kind:    proofdb.KindPackageReview,
		Author:  a.cfg.RootIdentity,
		Comment: opts.comment,
	}
	if err := draft.Review.Rating.UnmarshalText([]byte(opts.rating)); err != nil {
		return err
	}
	if err := draft.Review.Thoroughness.UnmarshalText([]byte(opts.thoroughness)); err != nil {
		return err
	}
	if err := draft.Review.Understanding.UnmarshalText([]byte(opts.understanding)); err != nil {
		return err
	}

	fetcher, err := a.fetcher()
	if err != nil {
		return err
	}
	capturer, err := vouch.NewCapturer(fetcher,
		vouch.WithCaptureIgnoreList(a.cfg.ignoreList()),
		vouch.WithCaptureLogger(a.logger),
	)
	if err != nil {
		return err
	}

	capture, err := capturer.Capture(cmd.Context(), req)
	if err != nil {
		var mismatch *vouch.MismatchError
		if errors.As(err, &mismatch) {
			fmt.Fprintf(a.stderr, "The reviewed tree differs from the published package.\n  reviewed: %s\n  fresh:    %s\n",
				mismatch.QuarantinePath, mismatch.Path)
		}
		return err
	}

	draft.Date = time.Now().UTC().Truncate(time.Second)
	draft.Package = proofdb.PackageRef{
		Source:  capture.Package.ID.Source,
		Name:    capture.Package.ID.Name,
		Version: capture.Package.ID.Version,
		Digest:  capture.Digest,
	}
	return proofdb.EncodeReview(a.stdout, draft)
}
