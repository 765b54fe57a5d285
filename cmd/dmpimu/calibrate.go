package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dmpimu/internal/calib"
	"dmpimu/internal/i2c"
	"dmpimu/internal/sensors/mpu9250"
)

func newCalibrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "measure and persist sensor calibration",
		Long: `calibrate runs a calibration routine directly on the IMU.
Stop any running 'dmpimu run' first; the routines need the bus to themselves.`,
	}

	gyro := &cobra.Command{
		Use:     "gyro",
		Short:   "measure the at-rest gyro offset; keep the device still",
		Example: `  dmpimu calibrate gyro`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBus(cmd.Context(), func(ctx context.Context, bus *i2c.Bus, store *calib.Store, opts mpu9250.CalibrationOptions) error {
				b, err := mpu9250.CalibrateGyro(ctx, bus, store, opts)
				if err != nil {
					return err
				}
				cmd.Printf("gyro offsets x=%d y=%d z=%d saved to %s\n", b[0], b[1], b[2], store.GyroPath())
				return nil
			})
		},
	}

	mag := &cobra.Command{
		Use:     "mag",
		Short:   "fit hard and soft iron correction; rotate the device through every orientation",
		Example: `  dmpimu calibrate mag`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBus(cmd.Context(), func(ctx context.Context, bus *i2c.Bus, store *calib.Store, opts mpu9250.CalibrationOptions) error {
				opts.Progress = func(n, total int) {
					cmd.Printf("keep spinning %d/%d\n", n, total)
				}
				cmd.Println("rotate the device slowly through all orientations")
				m, err := mpu9250.CalibrateMagnetometer(ctx, bus, store, opts)
				if err != nil {
					return err
				}
				cmd.Printf("mag offsets %.3f %.3f %.3f scales %.3f %.3f %.3f saved to %s\n",
					m.Offsets[0], m.Offsets[1], m.Offsets[2], m.Scales[0], m.Scales[1], m.Scales[2], store.MagPath())
				return nil
			})
		},
	}

	cmd.AddCommand(gyro, mag)
	return cmd
}

func (a *app) withBus(parent context.Context, fn func(context.Context, *i2c.Bus, *calib.Store, mpu9250.CalibrationOptions) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus, err := i2c.OpenNumber(a.cfg.IMU.I2CBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	return fn(ctx, bus, calib.NewStore(a.cfg.Calibration.Dir), mpu9250.CalibrationOptions{
		Address:    a.cfg.IMU.Address,
		MagAddress: a.cfg.IMU.MagAddress,
	})
}
