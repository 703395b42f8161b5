package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the registry response cache",
	}

	var maxBytes int64
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired entries and shrink the cache to --max-bytes",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c, err := a.responseCache()
			if err != nil {
				return err
			}
			if c == nil {
				return errors.New("no registry cache configured")
			}
			removed, err := c.Prune(maxBytes)
			if err != nil {
				return err
			}
			size, err := c.Size()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "removed %d bytes, %d bytes remain in %s\n", removed, size, c.Dir())
			return nil
		},
	}
	prune.Flags().Int64Var(&maxBytes, "max-bytes", -1, "size budget in bytes (negative removes only expired entries)")

	cmd.AddCommand(prune)
	return cmd
}
