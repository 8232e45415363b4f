package main

import (
	"errors"
	"fmt"
	"time"

	"callsignal/internal/auth"
	"callsignal/internal/config"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access/refresh token pair for a user id (local tooling)",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String("user", "", "user id to issue the tokens for")
}

func runToken(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		return errors.New("--user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.IsProduction() {
		return errors.New("token issuance is disabled in production")
	}

	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(time.Now(), userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "access:  %s\nrefresh: %s\n", pair.AccessToken, pair.RefreshToken)
	return nil
}
