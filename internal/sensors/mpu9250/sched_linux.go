//go:build linux

package mpu9250

import "golang.org/x/sys/unix"

// setRealtimePriority moves the calling thread to SCHED_FIFO.
func setRealtimePriority(prio int) error {
	return unix.SchedSetAttr(0, &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}, 0)
}
