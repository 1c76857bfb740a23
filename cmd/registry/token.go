package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lecsachurch/registry/pkg/identity"
)

func tokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue an access token for an existing account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := commonRun()
			if err != nil {
				return err
			}
			keys, err := identity.NewSecretKeySet(cfg.JWTSecret)
			if err != nil {
				return fmt.Errorf("REGISTRY_JWT_SECRET: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}

			ctx := cmd.Context()
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			var s identity.Subject
			err = db.QueryRowContext(ctx, `SELECT id, username, role FROM users WHERE username = $1`, args[0]).
				Scan(&s.ID, &s.Username, &s.Role)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("user %q not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("read user: %w", err)
			}

			tok, exp, err := identity.NewTokenManager(keys).Issue(ctx, s, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "role %s, expires %s\n", s.Role, exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default REGISTRY_TOKEN_TTL)")
	return cmd
}
