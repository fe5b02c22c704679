package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane: apply, restart worker, traffic polling, metrics",
	Long: `Run the long-lived control plane.

On startup the config is regenerated and xray restarted. Traffic counters are
then polled on a fixed interval; inbounds reaching their quota are disabled
and the config is re-applied. xray keeps running after serve exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := appInstance.Logger
		mgr := appInstance.Manager

		noApply, _ := cmd.Flags().GetBool("no-apply")
		if !noApply {
			if err := mgr.ApplyNow(ctx); err != nil {
				// Keep serving: accounting and later applies may still succeed.
				log.WithError(err).Error("startup apply failed")
			}
		}

		scheduler, err := appInstance.NewScheduler()
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer scheduler.Stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return mgr.Run(gctx)
		})

		if addr := appInstance.Config.Metrics.Addr; addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(appInstance.Registry, promhttp.HandlerOpts{}))
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g.Go(func() error {
				log.WithField("addr", addr).Info("metrics endpoint listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		log.WithFields(logrus.Fields{
			"stats_interval": appInstance.Config.Polling.StatsInterval,
			"host_interval":  appInstance.Config.Polling.HostInterval,
		}).Info("raydock serving")

		err = g.Wait()
		log.Info("raydock shutting down")
		return err
	},
}

func init() {
	serveCmd.Flags().Bool("no-apply", false, "do not regenerate the config and restart xray on startup")
}
