package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/storefront/pkg/config"
	"github.com/orneryd/storefront/pkg/pgstore"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with freshly generated signing secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			var err error
			if cfg.Auth.AccessSecret, err = config.GenerateSecret(); err != nil {
				return err
			}
			if cfg.Auth.RefreshSecret, err = config.GenerateSecret(); err != nil {
				return err
			}
			if emails, _ := cmd.Flags().GetStringSlice("allow"); len(emails) > 0 {
				cfg.Auth.AllowedEmails = emails
			}
			if dsn, _ := cmd.Flags().GetString("postgres-dsn"); dsn != "" {
				cfg.Storage.Backend = config.BackendPostgres
				cfg.Storage.PostgresDSN = dsn
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "   Next: storefront account create --email you@example.com --password ...")
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing config file")
	cmd.Flags().StringSlice("allow", nil, "Emails or @domains allowed to sign in with Google")
	cmd.Flags().String("postgres-dsn", "", "Store accounts and audit records in Postgres")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.PostgresDSN == "" {
				return errors.New("storage.postgres_dsn is not set")
			}
			logger, closeLog, err := config.SetupLogger(config.LoggingConfig{
				Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr",
			})
			if err != nil {
				return err
			}
			defer closeLog()
			if err := pgstore.Migrate(cfg.Storage.PostgresDSN, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Schema is up to date")
			return nil
		},
	}
}
