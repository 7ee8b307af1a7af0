package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/mcp"
	"github.com/ekaya-inc/ekaya-query/pkg/services"
)

func newServeCmd() *cobra.Command {
	var warm bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP endpoint, health checks and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, warm)
		},
	}
	cmd.Flags().BoolVar(&warm, "warm", true, "discover every connection's schema at startup")
	return cmd
}

func (a *app) serve(ctx context.Context, warm bool) error {
	if warm {
		go a.warm(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", healthHandler(a.resolver))
	mux.Handle("GET /metrics", promhttp.Handler())
	mcpServer := mcp.NewResolverServer("ekaya-query", a.cfg.Version, a.resolver, a.logger)
	mux.Handle("/mcp", mcpServer.NewStreamableHTTPServer())

	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.BindAddr, a.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting ekaya-query",
			zap.String("addr", srv.Addr),
			zap.String("version", a.cfg.Version),
			zap.String("env", a.cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// warm discovers each connection so the first question does not pay for it.
// Failures are logged; the next question retries discovery.
func (a *app) warm(ctx context.Context) {
	for _, conn := range a.cfg.AllConnections() {
		start := time.Now()
		summary, err := a.resolver.RefreshSchema(ctx, conn.ID)
		if err != nil {
			a.logger.Warn("Schema warm-up failed", zap.String("connection_id", conn.ID), zap.Error(err))
			continue
		}
		a.logger.Info("Schema ready",
			zap.String("connection_id", conn.ID),
			zap.Int("tables", summary.TableCount),
			zap.Int("relationships", summary.RelationshipCount),
			zap.Duration("elapsed", time.Since(start)))
	}
}

type healthChecker interface {
	Health(ctx context.Context) services.HealthReport
}

func healthHandler(checker healthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := checker.Health(r.Context())
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}
