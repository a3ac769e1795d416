package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var (
	importAccessToken  string
	importRefreshToken string
	importExpiresIn    time.Duration
)

var importTokenCmd = &cobra.Command{
	Use:   "import-token <provider> <account>",
	Short: "Store an OAuth token obtained elsewhere",
	Long: `Store an OAuth token issued outside this tool, for example by the CRM's
own consent flow. The refresh token lets the service renew access.

Examples:
  panda-availability auth import-token google crew17@example.com --access-token ya29... --refresh-token 1//0g... --expires-in 1h`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, err := domain.ParseExternalIdentity(args[0] + ":" + args[1])
		if err != nil {
			return err
		}
		if !identity.Provider.RequiresOAuth() {
			return fmt.Errorf("%s does not use OAuth tokens", identity.Provider.DisplayName())
		}
		if importAccessToken == "" {
			return errors.New("--access-token is required")
		}
		svc, err := credentialService()
		if err != nil {
			return err
		}

		token := &oauth2.Token{
			AccessToken:  importAccessToken,
			RefreshToken: importRefreshToken,
			TokenType:    "Bearer",
		}
		if importExpiresIn > 0 {
			token.Expiry = time.Now().Add(importExpiresIn)
		}
		if err := svc.StoreToken(cmd.Context(), identity, token); err != nil {
			return fmt.Errorf("failed to store token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored token for %s\n", identity)
		return nil
	},
}

func init() {
	importTokenCmd.Flags().StringVar(&importAccessToken, "access-token", "", "OAuth access token")
	importTokenCmd.Flags().StringVar(&importRefreshToken, "refresh-token", "", "OAuth refresh token")
	importTokenCmd.Flags().DurationVar(&importExpiresIn, "expires-in", 0, "remaining access token lifetime")
}
