package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/makeasinger/deckflow/internal/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token for the development server",
	Long:  `Sign a token with the configured JWT secret. The development server accepts it in the Authorization header or, for stream handshakes, the token query parameter.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWT.Secret == "" {
			return errors.New("JWT secret is empty; set JWT_SECRET or --secret")
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		if !cmd.Flags().Changed("ttl") {
			ttl = time.Duration(cfg.JWT.Expiration) * time.Hour
		}
		clientID, _ := cmd.Flags().GetString("client")

		token, err := middleware.NewAuthMiddleware(cfg.JWT.Secret).GenerateToken(clientID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("client", "cli", "client id embedded in the token")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (defaults to JWT_EXPIRATION hours; an explicit 0 never expires)")
	tokenCmd.Flags().String("secret", "", "JWT signing secret")

	rootCmd.AddCommand(tokenCmd)
}
