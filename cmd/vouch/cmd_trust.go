package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meigma/vouch"
)

func newTrustSetCmd(a *app) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "trust-set",
		Short: "List the identities trusted from the root identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := vouch.Identity(root)
			if id == "" {
				id = a.cfg.RootIdentity
			}
			if id == "" {
				return errors.New("no root identity: set root_identity or pass --root")
			}
			db, err := a.proofDB()
			if err != nil {
				return err
			}
			ts, err := db.TrustSet(id, a.cfg.Distance)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tLEVEL\tDISTANCE")
			for _, member := range ts.IDs() {
				t, _ := ts.Lookup(member)
				fmt.Fprintf(tw, "%s\t%s\t%d\n", member, t.Level, t.Distance)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "compute from this identity instead of root_identity")
	return cmd
}
