package main

import (
	"fmt"
	"time"

	"github.com/goodtune/studytrack/internal/api"
	"github.com/goodtune/studytrack/internal/config"
	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenTZ   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	Long: `Mint an HS256 bearer token signed with auth.jwt_secret, as the identity
provider would issue it. Intended for local development and testing.`,
	Example: `  studytrack token --user alice --tz Europe/London`,
	RunE:    runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID to embed (required)")
	tokenCmd.Flags().StringVar(&tokenTZ, "tz", "UTC", "IANA time zone preference")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, err := time.LoadLocation(tokenTZ); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", tokenTZ, err)
	}

	auth, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, parseDuration(cfg.Auth.TokenTTL, api.DefaultTokenTTL))
	if err != nil {
		return err
	}

	token, err := auth.GenerateToken(tokenUser, tokenTZ, time.Now())
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
