package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cafecursor/cafecursor/internal/auth"
	"github.com/cafecursor/cafecursor/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newTokenCommand mints a session token signed with the configured secret, for local clients.
func newTokenCommand() *cobra.Command {
	var (
		displayName string
		email       string
		roles       []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a session token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SessionSigningSecret),
				Issuer:        appConfig.SessionIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(auth.SessionClaims{
				UserID:          strings.TrimSpace(args[0]),
				UserEmail:       email,
				UserDisplayName: displayName,
				UserRoles:       roles,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "Display name carried in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email carried in the token")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant (repeatable), e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", sessionTTL, "Token lifetime")
	return cmd
}
