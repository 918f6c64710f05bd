package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
	"github.com/orneryd/storefront/pkg/config"
	"github.com/orneryd/storefront/pkg/pgstore"
	"github.com/orneryd/storefront/pkg/storage"
)

// app holds the stores and logger shared by every command that touches
// data.
type app struct {
	cfg *config.Config
	log *slog.Logger

	engine     *storage.BadgerEngine
	pg         *pgstore.Store
	accounts   auth.AccountStore
	auditStore audit.Store

	closers []func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// openApp validates cfg, sets up logging and opens the configured stores.
// Commands other than serve keep stdout for their own output.
func openApp(ctx context.Context, cfg *config.Config, serving bool) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !serving && (cfg.Logging.Output == "" || cfg.Logging.Output == "stdout") {
		cfg.Logging.Output = "stderr"
	}
	logger, closeLog, err := config.SetupLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger, closers: []func() error{closeLog}}

	if !cfg.Storage.InMemory {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0750); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
		DataDir:    cfg.Storage.DataDir,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.engine = engine
	a.closers = append(a.closers, engine.Close)
	a.accounts, a.auditStore = engine, engine

	if cfg.Storage.Backend == config.BackendPostgres {
		if cfg.Storage.AutoMigrate {
			if err := pgstore.Migrate(cfg.Storage.PostgresDSN, logger); err != nil {
				_ = a.Close()
				return nil, err
			}
		}
		pg, err := pgstore.Open(ctx, cfg.Storage.PostgresDSN, pgstore.DefaultOptions(), logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.pg = pg
		a.closers = append(a.closers, pg.Close)
		a.accounts, a.auditStore = pg, pg
	}

	logger.Debug("stores opened",
		slog.String("backend", cfg.Storage.Backend),
		slog.String("data_dir", cfg.Storage.DataDir))
	return a, nil
}

// authenticator builds the audit logger and the authenticator over the
// account store.
func (a *app) authenticator() (*auth.Authenticator, *audit.Logger, error) {
	tokens, err := auth.NewTokenIssuer(a.cfg.TokenConfig(), a.log)
	if err != nil {
		return nil, nil, err
	}
	auditLog, err := audit.NewLogger(a.auditStore, a.cfg.AuditLoggerConfig(), a.log)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, auditLog.Close)

	authn, err := auth.NewAuthenticator(a.accounts, tokens, a.cfg.AuthPolicy(), a.log)
	if err != nil {
		return nil, nil, err
	}
	authn.SetAuditRecorder(auditLog)
	return authn, auditLog, nil
}

// ping checks the account backend.
func (a *app) ping(ctx context.Context) error {
	if a.pg != nil {
		return a.pg.Ping(ctx)
	}
	return a.engine.Ping(ctx)
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// cliMeta identifies operations run from the command line in the audit log.
func cliMeta() auth.RequestMeta {
	host, _ := os.Hostname()
	return auth.RequestMeta{IPAddress: "local", UserAgent: "storefront-cli/" + version, Actor: "cli@" + host}
}
