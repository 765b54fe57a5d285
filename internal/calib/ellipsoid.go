package calib

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Plausibility bounds for the Earth's field as seen by an AK8963, in uT.
const (
	MaxCenter       = 70.0
	MinRadius       = 5.0
	MaxRadius       = 140.0
	ReferenceRadius = 70.0

	minFitPoints = 10
)

var (
	ErrFit               = errors.New("calib: ellipsoid fit failed")
	ErrCenterOutOfBounds = errors.New("calib: ellipsoid center out of bounds")
	ErrRadiusOutOfBounds = errors.New("calib: ellipsoid radius out of bounds")
)

// Ellipsoid is an axis-aligned ellipsoid: Center is the hard-iron offset and
// Radii the semi-axis lengths along x, y and z.
type Ellipsoid struct {
	Center [3]float64
	Radii  [3]float64
}

// FitEllipsoid fits a x^2 + b y^2 + c z^2 + d x + e y + f z = 1 to points by
// linear least squares and returns the implied center and radii.
func FitEllipsoid(points [][3]float64) (Ellipsoid, error) {
	if len(points) < minFitPoints {
		return Ellipsoid{}, fmt.Errorf("%w: need at least %d points, got %d", ErrFit, minFitPoints, len(points))
	}

	a := mat.NewDense(len(points), 6, nil)
	ones := mat.NewVecDense(len(points), nil)
	for i, p := range points {
		x, y, z := p[0], p[1], p[2]
		a.SetRow(i, []float64{x * x, y * y, z * z, x, y, z})
		ones.SetVec(i, 1)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, ones); err != nil {
		return Ellipsoid{}, fmt.Errorf("%w: %v", ErrFit, err)
	}

	var quad, lin [3]float64
	for i := 0; i < 3; i++ {
		quad[i] = sol.AtVec(i)
		lin[i] = sol.AtVec(i + 3)
		if !(quad[i] > 0) {
			return Ellipsoid{}, fmt.Errorf("%w: points do not describe an ellipsoid", ErrFit)
		}
	}

	var e Ellipsoid
	g := 1.0
	for i := 0; i < 3; i++ {
		e.Center[i] = -lin[i] / (2 * quad[i])
		g += quad[i] * e.Center[i] * e.Center[i]
	}
	if !(g > 0) {
		return Ellipsoid{}, fmt.Errorf("%w: degenerate ellipsoid", ErrFit)
	}
	for i := 0; i < 3; i++ {
		e.Radii[i] = math.Sqrt(g / quad[i])
	}
	return e, nil
}

// ValidateFit rejects fits that cannot come from a magnetometer in the
// Earth's field.
func ValidateFit(e Ellipsoid) error {
	for i, c := range e.Center {
		if math.IsNaN(c) || math.Abs(c) > MaxCenter {
			return fmt.Errorf("%w: axis %d center %.2f", ErrCenterOutOfBounds, i, c)
		}
	}
	for i, r := range e.Radii {
		if math.IsNaN(r) || r < MinRadius || r > MaxRadius {
			return fmt.Errorf("%w: axis %d length %.2f", ErrRadiusOutOfBounds, i, r)
		}
	}
	return nil
}

// MagScales maps each radius onto ReferenceRadius.
func MagScales(e Ellipsoid) [3]float64 {
	var s [3]float64
	for i, r := range e.Radii {
		s[i] = ReferenceRadius / r
	}
	return s
}

// Calibration validates a fit and converts it into a MagCalibration.
func Calibration(e Ellipsoid) (MagCalibration, error) {
	if err := ValidateFit(e); err != nil {
		return MagCalibration{}, err
	}
	return MagCalibration{Offsets: e.Center, Scales: MagScales(e)}, nil
}
