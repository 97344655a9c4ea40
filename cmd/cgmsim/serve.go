package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/gattserver"
	"github.com/srg/cgmsim/internal/groutine"
	"github.com/srg/cgmsim/internal/metrics"
	"github.com/srg/cgmsim/internal/simclock"
	"github.com/srg/cgmsim/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulated CGM as a BLE peripheral",
	Long: `Publishes the CGM, Device Information and Battery services on the local
Bluetooth adapter and advertises until interrupted.

Examples:
  # Advertise with the default configuration
  cgmsim serve

  # Use a configuration file and expose Prometheus metrics
  cgmsim serve --config cgmsim.yaml --metrics-addr :9100

  # Override the advertised name
  cgmsim serve --name "Bench CGM" --verbose`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveName        string
	serveMetricsAddr string
	serveShutdown    time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&serveName, "name", "", "Advertised device name (overrides device_name)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics_addr)")
	serveCmd.Flags().DurationVar(&serveShutdown, "shutdown-timeout", 5*time.Second, "Grace period for the metrics endpoint on exit")
	serveCmd.Flags().BoolP("verbose", "V", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg.Level())
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if serveName != "" {
		cfg.DeviceName = serveName
	}
	if serveMetricsAddr != "" {
		cfg.MetricsAddr = serveMetricsAddr
	}

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	err = serve(ctx, cfg, logger)
	if errors.Is(err, context.Canceled) {
		logger.Info("Peripheral stopped")
		return nil
	}
	return err
}

// peripheral is the assembled runtime of the serve command.
type peripheral struct {
	service   *cgm.Service
	server    *gattserver.Server
	collector *metrics.Collector
}

func newPeripheral(cfg *config.Config, logger *logrus.Logger) (*peripheral, error) {
	opts, err := cfg.ServiceOptions()
	if err != nil {
		return nil, err
	}

	srv := gattserver.NewServer(cfg.DeviceInfo(), logger)
	svc, err := cgm.NewService(opts, srv, simclock.New(), logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	collector.WatchQueue(svc.QueueLen, svc.QueueCap())
	svc.SetMetrics(collector)
	srv.SetMetrics(collector)

	return &peripheral{service: svc, server: srv, collector: collector}, nil
}

// serve runs the peripheral until ctx is done or a component fails.
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	p, err := newPeripheral(cfg, logger)
	if err != nil {
		return err
	}

	dev, err := deviceFactory()
	if err != nil {
		return fmt.Errorf("failed to open BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	defer func() {
		if err := dev.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop BLE device")
		}
	}()

	group := groutine.NewGroup(ctx)
	defer group.Cancel()
	p.server.Bind(group.Context(), p.service)

	for _, svc := range p.server.Services() {
		if err := dev.AddService(svc); err != nil {
			return fmt.Errorf("failed to add service %s: %w", svc.UUID, err)
		}
	}

	group.Go("cgm-event-loop", p.service.Run)

	if cfg.MetricsAddr != "" {
		listener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			group.Cancel()
			_ = group.Wait()
			return fmt.Errorf("failed to listen on %s: %w", cfg.MetricsAddr, err)
		}
		group.Go("metrics-http", func(ctx context.Context) error {
			return serveMetrics(ctx, listener, p.collector.Handler(), serveShutdown, logger)
		})
	}

	group.Go("advertise", func(ctx context.Context) error {
		logger.WithFields(logrus.Fields{
			"name":     cfg.DeviceName,
			"services": gattserver.AdvertisedServices(),
		}).Info("Advertising CGM peripheral")
		return dev.AdvertiseNameAndServices(ctx, cfg.DeviceName, gattserver.AdvertisedServices()...)
	})

	return group.Wait()
}

// serveMetrics serves handler on listener until ctx is done.
func serveMetrics(ctx context.Context, listener net.Listener, handler http.Handler, grace time.Duration, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", listener.Addr().String()).Info("Serving metrics")
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics endpoint: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics endpoint: %w", err)
	}
	return ctx.Err()
}
