package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/aretw0/calltrace/pkg/adapters/http"
	"github.com/aretw0/calltrace/pkg/observability"
	"github.com/aretw0/calltrace/pkg/threads"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts an HTTP server exposing run state queries and SSE update streams
for every thread. With --program, the program is executed into a thread named
after the file so viewers can watch it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if cmd.Flags().Changed("listen") {
			a.cfg.Listen, _ = cmd.Flags().GetString("listen")
		}
		metricsOn, _ := cmd.Flags().GetBool("metrics")
		path, _ := cmd.Flags().GetString("program")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var reg *prometheus.Registry
		var extra []threads.Option
		if metricsOn || a.cfg.Metrics {
			reg = prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			extra = append(extra, threads.WithHooks(observability.NewMetrics(reg).Hooks()))
		}
		m := a.newManager(extra...)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return serveHTTP(gctx, a.logger, a.cfg.Listen, newHandler(a.logger, m, reg), m.Close)
		})
		if path != "" {
			g.Go(func() error {
				_, err := execute(gctx, m, path, a.logger)
				return err
			})
		}
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", ":8080", "Address to listen on (overrides config)")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
	serveCmd.Flags().StringP("program", "p", "", "Program file to execute into a thread")
}

// newHandler mounts the API and, when reg is set, the metrics endpoint.
func newHandler(logger *slog.Logger, m *threads.Manager, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", httpAdapter.NewHandler(m, httpAdapter.WithLogger(logger)))
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

// serveHTTP serves handler on addr until ctx is done, then shuts down
// gracefully. onShutdown runs first so that open update streams end.
func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler, onShutdown func()) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	if onShutdown != nil {
		srv.RegisterOnShutdown(onShutdown)
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting calltrace server", "addr", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping server")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Graceful shutdown did not complete", "timeout", 5*time.Second, "err", err)
			return srv.Close()
		}
		logger.Info("calltrace server stopped gracefully")
		return nil
	}
}
