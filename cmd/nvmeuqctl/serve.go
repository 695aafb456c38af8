package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nvme-uq/nvmeuq"
	"github.com/nvme-uq/nvmeuq/internal/promexport"
)

func newServeCmd() *cobra.Command {
	var (
		count     int
		sizeStr   string
		blockSize uint32
		depth     int
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach simulated controllers and serve their metrics over HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			nsBytes, err := parseSize(sizeStr)
			if err != nil {
				return err
			}

			deviceIDs, err := spinUpSimControllers(count, nsBytes, blockSize)
			if err != nil {
				return err
			}

			metricsByLabel := make(map[string]*nvmeuq.Metrics, count)
			prevByLabel := make(map[string]nvmeuq.MetricsSnapshot, count)
			for _, deviceID := range deviceIDs {
				handle, err := nvmeuq.CreateIOUserQueue(deviceID, depth)
				if err != nil {
					return fmt.Errorf("create queue on controller %d: %w", deviceID, err)
				}
				m, err := nvmeuq.QueueMetrics(handle)
				if err != nil {
					return fmt.Errorf("queue metrics for controller %d: %w", deviceID, err)
				}
				metricsByLabel[fmt.Sprintf("ctrl%d", deviceID)] = m
			}

			reg := prometheus.NewRegistry()
			exporter := promexport.NewExporter()
			exporter.MustRegister(reg)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			server := &http.Server{Addr: addr, Handler: mux}

			serverErrCh := make(chan error, 1)
			go func() { serverErrCh <- server.ListenAndServe() }()
			log.Info("serving metrics", "addr", addr, "controllers", len(deviceIDs))

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-ticker.C:
					for label, m := range metricsByLabel {
						prevByLabel[label] = exporter.Update(label, m, prevByLabel[label])
					}
				case err := <-serverErrCh:
					if err != nil && err != http.ErrServerClosed {
						return err
					}
					return nil
				case <-sigCh:
					log.Info("shutting down")
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(ctx)
					for _, deviceID := range deviceIDs {
						_ = nvmeuq.Detach(deviceID)
					}
					return nil
				}
			}
		},
	}

	cmd.Flags().IntVar(&count, "controllers", 1, "number of simulated controllers to attach")
	cmd.Flags().StringVar(&sizeStr, "size", "64M", "namespace size per controller")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "logical block size in bytes")
	cmd.Flags().IntVar(&depth, "depth", nvmeuq.DefaultIOQueueSize, "queue depth per controller")
	cmd.Flags().StringVar(&addr, "addr", ":9201", "HTTP listen address for /metrics")
	return cmd
}
