//go:build !linux

package mpu9250

import "fmt"

func setRealtimePriority(prio int) error {
	return fmt.Errorf("realtime scheduling unsupported on this OS")
}
