package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "callsignal",
	Short:        "Call signaling and presence service",
	Long:         `HTTP + WebSocket API for one-to-one calls. Commands: serve, migrate, token.`,
	SilenceUsage: true,
	RunE:         runServe, // default: same as "callsignal serve"
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}
