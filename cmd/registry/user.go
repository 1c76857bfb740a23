package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/auth"
	"github.com/lecsachurch/registry/pkg/authz"
	"github.com/lecsachurch/registry/pkg/config"
)

func userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(setRoleCommand())
	return cmd
}

// setRoleCommand bootstraps the first administrator, who cannot be promoted
// over the API before an admin exists.
func setRoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <username> <role>",
		Short: "Change an account's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := commonRun()
			if err != nil {
				return err
			}
			roles, err := config.LoadRoles(cfg.RolesFile)
			if err != nil {
				return err
			}
			known := authz.NewEvaluator(roles).Roles()
			if !slices.Contains(known, args[1]) {
				return fmt.Errorf("unknown role %q (known: %s)", args[1], strings.Join(known, ", "))
			}

			ctx := cmd.Context()
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			users := auth.NewUsers(db, audit.NewSQLLogger(db, nil))
			u, err := users.SetRole(ctx, "cli", args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Username, u.Role)
			return nil
		},
	}
}
