package i2c

import "sync/atomic"

// claim is the advisory "in use" flag shared by everything that talks to a bus.
//
// It does not block. Callers check InUse, warn if someone else holds the bus,
// and then Claim anyway: the kernel driver does not give us real exclusion
// across processes, so the flag only makes contention visible.
type claim struct {
	inUse atomic.Bool
}

// Claim marks the bus in use. It reports whether the bus was already claimed.
func (c *claim) Claim() (wasInUse bool) {
	return c.inUse.Swap(true)
}

// Release clears the in-use flag.
func (c *claim) Release() {
	c.inUse.Store(false)
}

// InUse reports whether the bus is currently claimed.
func (c *claim) InUse() bool {
	return c.inUse.Load()
}
