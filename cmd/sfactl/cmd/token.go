package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"solarforecast.org/internal/auth"
)

var tokenTTL time.Duration

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSignCmd)
	tokenSignCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer token helpers for testing deployments",
}

var tokenSignCmd = &cobra.Command{
	Use:   "sign SUBJECT",
	Short: "Sign a bearer token for an identity provider subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := auth.NewTokenVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		token, err := v.Sign(args[0], ttl)
		if err != nil {
			return err
		}
		payload := map[string]any{"token": token, "expires_in": int(ttl.Seconds())}
		return printResult(cmd.OutOrStdout(), payload, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, token)
			return err
		})
	},
}
