package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/api"
	"github.com/sells-group/kpi-atlas/internal/atlas"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analytics HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Engine timings reach metrics once it is built below.
		var metrics *api.Metrics
		env, err := initAtlas(ctx, cfg.Cache.FromYear, cfg.Cache.ToYear,
			atlas.WithObserver(func(engine string, d time.Duration) {
				if metrics != nil {
					metrics.ObserveEngine(engine, d)
				}
			}))
		if err != nil {
			return err
		}
		defer env.Close()
		metrics = api.NewMetrics(env.Cache.Len, env.Memo.Len)

		// Preload in the background; /ready flips once it finishes.
		go func() {
			if err := env.Cache.Preload(ctx); err != nil {
				zap.L().Error("snapshot preload aborted", zap.Error(err))
			}
		}()

		srv := api.New(env.Svc, env.Cache,
			api.WithMetrics(metrics),
			api.WithCORSOrigins(cfg.Server.CORSOrigins),
		)
		return startServer(ctx, srv.Handler(), resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler on port until ctx is cancelled.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}

	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
