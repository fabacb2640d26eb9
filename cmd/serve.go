package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpSrv "github.com/jmehdipour/mvola-gateway/internal/http"
	"github.com/jmehdipour/mvola-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer rt.close()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		server := httpSrv.NewServer(rt.cfg, rt.client, rt.redis, rt.log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(rt.cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			rt.log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.log.Error("http server exited", zap.Error(err))
				return err
			}
		}

		timeout := rt.cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(ctx)
	},
}
