package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"dmpimu/internal/ahrs"
)

// dialUDP connects a datagram socket to dest. Tests swap it for an in-memory conn.
var dialUDP = func(dest string) (io.WriteCloser, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	// DialUDP selects a suitable local address automatically.
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return conn, nil
}

// Broadcaster sends attitude frames to one UDP destination. Offered
// snapshots are spaced at least minInterval apart by their UpdatedAt time;
// the ones in between are dropped.
type Broadcaster struct {
	dest        string
	conn        io.WriteCloser
	minInterval time.Duration

	mu       sync.Mutex
	seq      uint64
	lastSent time.Time
}

func NewBroadcaster(dest string, minInterval time.Duration) (*Broadcaster, error) {
	conn, err := dialUDP(dest)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{dest: dest, conn: conn, minInterval: minInterval}, nil
}

// Interval is the spacing between frames for a stream configured at want
// on a device sampling at rateHz. Frames are never closer than one sample.
func Interval(want time.Duration, rateHz int) time.Duration {
	if rateHz <= 0 {
		return want
	}
	if period := time.Second / time.Duration(rateHz); want < period {
		return period
	}
	return want
}

// SendFrame stamps f with the next sequence number and writes it as one
// datagram. The sequence advances even when the write fails so receivers
// can count losses.
func (b *Broadcaster) SendFrame(f Frame) error {
	b.mu.Lock()
	f.Seq = b.seq
	b.seq++
	b.mu.Unlock()

	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	_, err = b.conn.Write(payload)
	return err
}

// Offer sends s unless the last offered frame is less than minInterval older.
func (b *Broadcaster) Offer(s ahrs.Snapshot) (bool, error) {
	at := s.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	b.mu.Lock()
	if !b.lastSent.IsZero() && at.Sub(b.lastSent) < b.minInterval {
		b.mu.Unlock()
		return false, nil
	}
	b.lastSent = at
	b.mu.Unlock()
	return true, b.SendFrame(NewFrame(s))
}

// Stream offers every snapshot from snaps until ctx is done or snaps is closed.
// Repeated identical send errors are logged once.
func (b *Broadcaster) Stream(ctx context.Context, snaps <-chan ahrs.Snapshot) {
	var lastErr string
	for {
		var s ahrs.Snapshot
		var ok bool
		select {
		case <-ctx.Done():
			return
		case s, ok = <-snaps:
			if !ok {
				return
			}
		}
		if _, err := b.Offer(s); err != nil {
			if err.Error() != lastErr {
				log.Warnf("udp send dest=%s: %v", b.dest, err)
			}
			lastErr = err.Error()
			continue
		}
		lastErr = ""
	}
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
