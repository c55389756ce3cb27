package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var rolesPType string

func init() {
	rolesCmd.Flags().StringVar(&rolesPType, "ptype", "g", "role_definition key to query")
}

var rolesCmd = &cobra.Command{
	Use:   "roles <subject> [domain]",
	Short: "list the roles a subject inherits directly",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		rm, ok := eng.RoleManager(rolesPType)
		if !ok {
			return fmt.Errorf("model declares no %q role_definition", rolesPType)
		}

		domain := ""
		if len(args) == 2 {
			domain = args[1]
		}

		roles := rm.GetRoles(args[0], domain)
		sort.Strings(roles)
		for _, r := range roles {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return nil
	},
}
