package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/vouch"
)

func newDigestCmd(a *app) *cobra.Command {
	var extra []string
	cmd := &cobra.Command{
		Use:   "digest DIR...",
		Short: "Print the content digest of source trees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ignore := a.cfg.ignoreList().With(extra...)
			for _, dir := range args {
				d, err := vouch.DigestDir(cmd.Context(), dir, ignore)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s  %s\n", d, dir)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&extra, "ignore", nil, "additional relative paths to exclude")
	return cmd
}
