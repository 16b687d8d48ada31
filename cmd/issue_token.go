package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-admission/internal/auth"
)

func newIssueTokenCmd(path func() string, load configLoader) *cobra.Command {
	var (
		tenant string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a bearer token for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenant == "" {
				return errors.New("--tenant is required")
			}
			cfg, err := load(path())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			verifier, err := auth.NewJWTVerifier(auth.JWTConfig{
				Secret:   cfg.Auth.JWT.Secret,
				Issuer:   cfg.Auth.JWT.Issuer,
				Audience: cfg.Auth.JWT.Audience,
			})
			if err != nil {
				return fmt.Errorf("auth.jwt.secret: %w", err)
			}
			now := time.Now().UTC()
			claims := auth.Claims{
				TeamID: tenant,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   tenant,
					Issuer:    cfg.Auth.JWT.Issuer,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			}
			if cfg.Auth.JWT.Audience != "" {
				claims.Audience = jwt.ClaimStrings{cfg.Auth.JWT.Audience}
			}
			token, err := verifier.Sign(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id carried in the team_id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
