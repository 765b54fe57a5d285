package mpu9250

import (
	"context"
	"errors"
	"runtime"

	log "github.com/sirupsen/logrus"

	"dmpimu/internal/gpio"
)

// run is the sampler goroutine. Shutdown is checked once per wait cycle,
// so it is seen within one poll timeout.
func (d *Device) run(ctx context.Context) {
	defer close(d.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if p := d.cfg.InterruptPriority; p > 0 {
		if err := setRealtimePriority(p); err != nil {
			log.Warnf("mpu9250 sampler priority=%d not applied: %v", p, err)
		}
	}

	d.lock.Claim()
	if err := d.c.resetFIFO(); err != nil {
		d.warnf("mpu9250 initial fifo reset failed: %v", err)
	}
	d.lock.Release()

	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		edge, err := d.irq.Wait(d.pollTimeout)
		if err != nil {
			if errors.Is(err, gpio.ErrClosed) {
				log.Debugf("mpu9250 interrupt line closed, sampler exiting")
				return
			}
			log.Warnf("mpu9250 interrupt wait failed: %v", err)
			sleep(d.pollTimeout)
			continue
		}
		if !edge {
			continue
		}

		d.service()

		// The first edge may be left over from before bring-up.
		if first {
			first = false
			continue
		}
		if h := d.currentHandler(); h != nil {
			h(d.Sample())
		}
	}
}

// service handles one interrupt: timestamp, read the FIFO, record the result.
func (d *Device) service() {
	d.metrics.interrupts.Inc()
	d.mu.Lock()
	d.lastIRQ = now()
	d.mu.Unlock()

	if d.lock.Claim() {
		d.metrics.busContention.Inc()
		d.warnf("mpu9250 i2c bus in use at interrupt, reading anyway")
	}
	err := d.readFIFO()
	d.lock.Release()

	d.lastOK.Store(err == nil)
	d.metrics.reads.WithLabelValues(readResult(err)).Inc()
	if err == nil {
		d.metrics.lastRead.Set(1)
	} else {
		d.metrics.lastRead.Set(0)
	}
}
