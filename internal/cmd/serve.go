package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/steward/internal/server"
	"github.com/dativo-io/steward/internal/tenant"
	"github.com/dativo-io/steward/internal/trigger"
)

var (
	serveAddr    string
	serveTenants []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway with maintenance jobs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().StringSliceVar(&serveTenants, "tenant", nil, "restrict access to these tenants (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.WarnIfDefaultKeys()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := openComponents(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer c.Close()

	scheduler := trigger.NewScheduler()
	if err := trigger.RegisterMaintenance(scheduler, c.reviews, cfg.ReviewTTL, c.ledger); err != nil {
		return fmt.Errorf("registering maintenance jobs: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if len(cfg.APIKeys) == 0 && cfg.JWTSecret == "" {
		log.Warn().Msg("no_credentials_configured: all /v1 endpoints will return 401")
	}

	srv := server.NewServer(c.orch,
		server.NewAuthenticator(cfg.APIKeys, cfg.JWTSecret),
		server.WithTelemetryStore(c.store),
		server.WithReviewQueue(c.reviews),
		server.WithLedger(c.ledger),
		server.WithCircuitBreaker(c.breaker),
		server.WithMetrics(c.metrics),
		server.WithTenantManager(tenant.NewManager(cfg.RateLimit, serveTenants...)),
		server.WithCORSOrigins(cfg.CORSOrigins),
		server.WithVersion(resolvedVersion()),
	)

	addr := serveAddr
	if addr == "" {
		addr = cfg.ServerAddr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.ExecuteTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("cron_entries", scheduler.Entries()).
		Int("recipes", len(c.catalog.List())).
		Str("budget_ledger", cfg.BudgetLedger).
		Bool("budget_enforce", cfg.BudgetEnforce).
		Bool("eval", cfg.EvalEnabled).
		Msg("steward_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
