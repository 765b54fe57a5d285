//go:build linux

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "dmpimu-int"

// Interrupt is a GPIO input line armed for falling-edge events.
//
// The MPU-9250 INT pin is configured active-low and latched, so the edge we
// care about is the falling one.
type Interrupt struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	q    *edgeQueue
}

// OpenInterrupt requests pin as a falling-edge input.
//
// With chip empty, the line is looked up by its BCM name ("GPIO17") across the
// available gpiochips, as on a Raspberry Pi. Otherwise pin is a line offset on
// the named chip.
func OpenInterrupt(chip string, pin int) (*Interrupt, error) {
	if pin < 0 {
		return nil, fmt.Errorf("gpio: invalid interrupt pin %d", pin)
	}

	q := newEdgeQueue()
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { q.post() }),
	}

	if chip != "" {
		c, err := gpiocdev.NewChip(chip)
		if err != nil {
			return nil, fmt.Errorf("gpio: open chip %s: %w", chip, err)
		}
		l, err := c.RequestLine(pin, opts...)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("gpio: request %s line %d: %w", chip, pin, err)
		}
		return &Interrupt{chip: c, line: l, q: q}, nil
	}

	lineName := fmt.Sprintf("GPIO%d", pin)
	for _, chipPath := range chipCandidates() {
		c, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := c.FindLine(lineName)
		if err != nil {
			_ = c.Close()
			continue
		}
		l, err := c.RequestLine(offset, opts...)
		if err != nil {
			_ = c.Close()
			continue
		}
		return &Interrupt{chip: c, line: l, q: q}, nil
	}
	return nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

func chipCandidates() []string {
	out := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			out = append(out, filepath.Join("/dev", name))
		}
	}
	return out
}

// Wait blocks until a falling edge or timeout. It reports whether an edge was seen.
func (i *Interrupt) Wait(timeout time.Duration) (bool, error) {
	if i == nil || i.q == nil {
		return false, ErrClosed
	}
	return i.q.wait(timeout)
}

// Dropped reports edges that arrived while a previous edge was still pending.
func (i *Interrupt) Dropped() uint64 {
	if i == nil || i.q == nil {
		return 0
	}
	return i.q.droppedEdges()
}

func (i *Interrupt) Close() error {
	if i == nil {
		return nil
	}
	if i.q != nil {
		i.q.close()
	}
	var err error
	if i.line != nil {
		err = i.line.Close()
		i.line = nil
	}
	if i.chip != nil {
		if cerr := i.chip.Close(); err == nil {
			err = cerr
		}
		i.chip = nil
	}
	return err
}
