package main

import (
	"fmt"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/api/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		operator string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if operator == "" {
				return fmt.Errorf("--operator is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			now := time.Now()
			token, err := middleware.IssueOperatorToken(
				middleware.NewJWTConfig(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
				operator, role,
				jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(now),
					NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator id placed in the token")
	cmd.Flags().StringVar(&role, "role", middleware.RoleAdmin, "operator role")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
