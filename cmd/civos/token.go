package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qontrek/civos/pkg/api"
)

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		tenant  string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := api.NewAuthenticator(c.cfg.Auth.JWTSecret, c.cfg.Auth.Issuer)
			if a == nil {
				return errors.New("auth.jwt_secret is not set")
			}
			tok, err := a.Issue(subject, tenant, roles, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, recorded as the confirming human (required)")
	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	cmd.Flags().StringSliceVar(&roles, "role", []string{api.RoleOperator}, "roles (agent, operator, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
