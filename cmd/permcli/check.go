package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <value>...",
	Short: "evaluate one request, like: check alice /data/1 read",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		ok, err := eng.Enforce(args...)
		if err != nil {
			return err
		}

		if ok {
			fmt.Fprintln(cmd.OutOrStdout(), "ALLOW")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "DENY")
		cmd.SilenceErrors = true
		return fmt.Errorf("denied")
	},
}
