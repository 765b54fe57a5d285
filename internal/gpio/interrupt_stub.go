//go:build !linux

package gpio

import (
	"fmt"
	"time"
)

type Interrupt struct{}

func OpenInterrupt(chip string, pin int) (*Interrupt, error) {
	return nil, fmt.Errorf("gpio: unsupported OS (need linux)")
}

func (i *Interrupt) Wait(timeout time.Duration) (bool, error) { return false, ErrClosed }
func (i *Interrupt) Dropped() uint64                          { return 0 }
func (i *Interrupt) Close() error                             { return nil }
