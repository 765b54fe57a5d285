package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dmpimu/internal/ahrs"
	"dmpimu/internal/udp"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "bring up the IMU and serve attitude until interrupted",
		Example: `  dmpimu run --config /etc/dmpimu/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.run(ctx)
		},
	}
	cmd.Flags().String("metrics-listen", "", "address for the /metrics endpoint (overrides metrics.listen)")
	_ = a.v.BindPFlag("metrics.listen", cmd.Flags().Lookup("metrics-listen"))
	return cmd
}

func (a *app) run(ctx context.Context) error {
	cfg := a.cfg
	dc, err := cfg.IMU.DeviceConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("metrics listening addr=%s", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	svc := ahrs.New(ahrs.Config{
		Enable:     true,
		I2CBus:     cfg.IMU.I2CBus,
		IMUAddr:    cfg.IMU.Address,
		MagAddr:    cfg.IMU.MagAddress,
		IRQChip:    cfg.IMU.Interrupt.Chip,
		IRQLine:    cfg.IMU.Interrupt.Line,
		Firmware:   cfg.IMU.FirmwarePath,
		CalibDir:   cfg.Calibration.Dir,
		Device:     dc,
		Registerer: reg,
	})
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Stream.Enable {
		interval := udp.Interval(cfg.Stream.Interval, dc.SampleRateHz)
		b, err := udp.NewBroadcaster(cfg.Stream.Dest, interval)
		if err != nil {
			return err
		}
		defer b.Close()
		snaps, unsubscribe := svc.Subscribe(8)
		defer unsubscribe()
		log.Infof("udp dest=%s interval=%s", cfg.Stream.Dest, interval)
		go b.Stream(ctx, snaps)
	}

	log.Infof("dmpimu running")
	<-ctx.Done()
	log.Infof("dmpimu stopping")
	return nil
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
