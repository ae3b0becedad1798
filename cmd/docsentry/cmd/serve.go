package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docsentry/internal/api"
	"docsentry/internal/api/handlers"
	"docsentry/internal/metrics"
	"docsentry/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion daemon and dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := metrics.New(prometheus.DefaultRegisterer)

		a, err := bootstrap(ctx, m)
		if err != nil {
			return err
		}
		defer a.close()

		a.logger.Info("Starting docsentry",
			zap.String("paperless_url", a.cfg.Paperless.BaseURL),
			zap.Duration("scan_interval", a.cfg.Scheduler.ScanInterval))

		sched := scheduler.New(a.reconciler, a.cfg.Scheduler, a.logger)
		if a.cfg.Scheduler.Enabled {
			sched.Start(ctx)
		} else {
			a.logger.Info("scheduler disabled, passes run on manual triggers only")
		}

		docHandler := handlers.NewDocumentHandler(a.docRepo, a.anomalyRepo, a.client, a.logger)
		anomalyHandler := handlers.NewAnomalyHandler(a.anomalyRepo, a.logger)
		passHandler := handlers.NewPassHandler(ctx, a.reconciler, a.logger)

		srv := api.SetupRouter(docHandler, anomalyHandler, passHandler)

		go func() {
			addr := ":" + a.cfg.Server.Port
			a.logger.Info("Server starting", zap.String("address", addr))
			if err := srv.Listen(addr); err != nil {
				a.logger.Fatal("Server failed", zap.Error(err))
			}
		}()

		<-ctx.Done()

		a.logger.Info("Shutting down")
		if a.cfg.Scheduler.Enabled {
			sched.Stop()
		}
		if err := srv.Shutdown(); err != nil {
			a.logger.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
