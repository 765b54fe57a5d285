package mpu9250

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type metrics struct {
	interrupts    prometheus.Counter
	reads         *prometheus.CounterVec
	fifoResets    prometheus.Counter
	busContention prometheus.Counter
	magSaturated  prometheus.Counter
	lastRead      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpu9250_interrupts_total",
			Help: "IMU interrupts received.",
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mpu9250_fifo_reads_total",
			Help: "FIFO decode attempts by result.",
		}, []string{"result"}),
		fifoResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpu9250_fifo_resets_total",
			Help: "Forced FIFO and DMP resets.",
		}),
		busContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpu9250_bus_contention_total",
			Help: "Interrupts serviced while another user held the I2C bus.",
		}),
		magSaturated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpu9250_mag_saturated_total",
			Help: "Magnetometer readings discarded for overflow.",
		}),
		lastRead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mpu9250_last_read_success",
			Help: "1 if the most recent FIFO read succeeded.",
		}),
	}
	m.interrupts = register(reg, m.interrupts)
	m.reads = register(reg, m.reads)
	m.fifoResets = register(reg, m.fifoResets)
	m.busContention = register(reg, m.busContention)
	m.magSaturated = register(reg, m.magSaturated)
	m.lastRead = register(reg, m.lastRead)
	return m
}

// register adds c to reg, reusing an identical collector registered by an
// earlier device session.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		log.Warnf("mpu9250 metrics register failed: %v", err)
	}
	return c
}

// readResult labels a FIFO read outcome.
func readResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFIFOOverflow):
		return "overflow"
	case errors.Is(err, ErrFIFOMisaligned):
		return "misaligned"
	case errors.Is(err, ErrQuaternion):
		return "quaternion"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
