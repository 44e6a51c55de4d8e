package main

import (
	"fmt"
	"strings"

	jwtkit "github.com/PaulFidika/authstudio/jwt"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a studio access token",
	Long: `Issue a token signed with the studio secret. The secret is read from
AUTHSTUDIO_SECRET or the vault path, the same way serve reads it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		email, _ := cmd.Flags().GetString("email")
		roles, _ := cmd.Flags().GetStringSlice("roles")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		signer, err := jwtkit.NewAutoSigner(appConfig.Access.Issuer)
		if err != nil {
			return err
		}
		tok, err := signer.Issue(cmd.Context(), subject, email, roles, ttl)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		logger.WithFields(map[string]any{
			"subject": subject,
			"roles":   strings.Join(roles, ","),
			"ttl":     ttl.String(),
		}).Info("issued studio token")
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringP("subject", "u", "", "Subject (user id) for the token")
	tokenCmd.Flags().StringP("email", "e", "", "Email claim")
	tokenCmd.Flags().StringSliceP("roles", "r", []string{"admin"}, "Roles claim")
	tokenCmd.Flags().Duration("ttl", jwtkit.DefaultTTL, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}
