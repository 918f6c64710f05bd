package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/catalog"
	"github.com/orneryd/storefront/pkg/config"
	"github.com/orneryd/storefront/pkg/metrics"
	"github.com/orneryd/storefront/pkg/oauth"
	"github.com/orneryd/storefront/pkg/ratelimit"
	"github.com/orneryd/storefront/pkg/retention"
	"github.com/orneryd/storefront/pkg/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the storefront API server",
		Long: `Start the HTTP API. Secrets come from the config file or from
STOREFRONT_JWT_SECRET and STOREFRONT_JWT_REFRESH_SECRET.`,
		RunE: runServe,
	}
	cmd.Flags().Int("port", 0, "Override server.port")
	cmd.Flags().String("address", "", "Override server.address")
	cmd.Flags().String("data-dir", "", "Override storage.data_dir")
	cmd.Flags().Bool("in-memory", false, "Keep all data in memory (nothing survives a restart)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		cfg.Server.Address = addr
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if mem, _ := cmd.Flags().GetBool("in-memory"); mem {
		cfg.Storage.InMemory = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Error("shutdown", slog.String("error", err.Error()))
		}
	}()
	log := a.log
	log.Info("starting storefront",
		slog.String("version", version),
		slog.String("config", cfg.String()))

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	authn, auditLog, err := a.authenticator()
	if err != nil {
		return err
	}
	auditLog.SetAlertCallback(func(rec audit.Record) {
		log.Warn("security event",
			slog.String("action", string(rec.Action)),
			slog.String("email", rec.Email),
			slog.String("ip", rec.IPAddress),
			slog.String("reason", rec.Reason))
	})

	var counters ratelimit.Store = a.engine.Counters()
	if cfg.RateLimit.Store == config.CounterStoreMemory {
		counters = ratelimit.NewMemoryStore(cfg.RateLimit.MemorySize, cfg.RateLimit.Window)
	}
	limiter, err := ratelimit.New(counters, cfg.LimiterConfig())
	if err != nil {
		return err
	}
	authn.SetRateLimitResetter(limiter)

	products := catalog.NewService(a.engine, log)
	products.SetCache(cfg.ReadCache())

	deps := server.Deps{
		Auth:     authn,
		Audit:    auditLog,
		Limiter:  limiter,
		Throttle: ratelimit.NewThrottle(cfg.ThrottleConfig()),
		Catalog:  products,
		Gatherer: prometheus.DefaultGatherer,
		Health:   a.ping,
		Storage:  a.engine,
	}
	if cfg.OAuth.GoogleEnabled {
		google, err := oauth.NewGoogle(ctx, cfg.GoogleConfig(), log)
		if err != nil {
			return fmt.Errorf("google sign-in: %w", err)
		}
		deps.Identity = google
	}

	sweeper, err := a.retention()
	if err != nil {
		return err
	}
	go sweeper.Run(ctx, cfg.Audit.SweepInterval)

	srv, err := server.New(deps, cfg.HTTPConfig(), log)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "storefront listening on %s\n", srv.Addr())

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	if err := a.engine.Sync(); err != nil {
		log.Warn("final sync", slog.String("error", err.Error()))
	}
	return nil
}

// retention builds the sweeper for expired audit records and Badger value
// log compaction. Badger drops audit entries by TTL itself, so the audit
// purger is only registered for Postgres.
func (a *app) retention() (*retention.Manager, error) {
	m := retention.NewManager(a.log)
	for _, p := range retention.DefaultPolicies() {
		switch p.Category {
		case retention.CategoryAudit:
			if a.cfg.Audit.Retention > 0 {
				p.Period = a.cfg.Audit.Retention
			}
		case retention.CategoryStorage:
			if a.cfg.Storage.GCInterval > 0 {
				p.Period = a.cfg.Storage.GCInterval
			}
		}
		if err := m.AddPolicy(p); err != nil {
			return nil, err
		}
	}

	if a.pg != nil {
		m.Register(retention.CategoryAudit, retention.PurgerFunc(a.pg.PurgeExpiredAudit))
	}
	if !a.cfg.Storage.InMemory {
		m.Register(retention.CategoryStorage, retention.PurgerFunc(func(context.Context, time.Time) (int64, error) {
			return 0, a.engine.RunGC()
		}))
	}
	return m, nil
}
