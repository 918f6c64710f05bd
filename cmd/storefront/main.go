// Package main provides the storefront CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront - e-commerce admin backend",
		Long: `Storefront serves the catalog and admin API of an online shop.

Features:
  • JWT access and refresh tokens for admin accounts
  • Progressive lockout and per-address login rate limiting
  • Audit log of every authentication event, kept for 90 days
  • Google sign-in for allow-listed staff
  • Role-based access (admin, editor, viewer)`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "storefront.yaml", "Config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "storefront v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newAccountCmd())
	rootCmd.AddCommand(newAuditCmd())
	return rootCmd
}
