package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/vouch"
)

func newPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push NAME VERSION DIR",
		Short: "Publish a source tree to the package repository",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher, err := a.fetcher()
			if err != nil {
				return err
			}
			id := vouch.PackageID{Name: args[0], Version: args[1]}
			desc, err := fetcher.Push(cmd.Context(), id, args[2], a.cfg.ignoreList())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s@%s\n", fetcher.Repository(id.Name), desc.Digest)
			return nil
		},
	}
}
