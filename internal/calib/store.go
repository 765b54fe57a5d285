// Package calib persists gyro and magnetometer calibration and fits the
// magnetometer ellipsoid.
//
// Files are plain text with one value per line: gyro.cal holds three signed
// integers (x, y, z raw bias), mag.cal holds offset x/y/z then scale x/y/z.
package calib

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultDir   = "/etc/dmpimu"
	GyroFileName = "gyro.cal"
	MagFileName  = "mag.cal"
)

// GyroBias is the averaged raw gyro reading at rest, in sensor LSB.
type GyroBias [3]int16

// MagCalibration corrects hard iron (Offsets, uT) and soft iron (Scales).
type MagCalibration struct {
	Offsets [3]float64
	Scales  [3]float64
}

// IdentityMag is the calibration used when none has been stored.
func IdentityMag() MagCalibration {
	return MagCalibration{Scales: [3]float64{1, 1, 1}}
}

// Apply corrects a field vector: (v - offset) * scale. A zero scale is treated as 1.
func (m MagCalibration) Apply(v [3]float64) [3]float64 {
	var out [3]float64
	for i := range v {
		s := m.Scales[i]
		if s == 0 {
			s = 1
		}
		out[i] = (v[i] - m.Offsets[i]) * s
	}
	return out
}

// Store reads and writes calibration files under Dir.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	return &Store{Dir: dir}
}

func (s *Store) GyroPath() string { return filepath.Join(s.Dir, GyroFileName) }
func (s *Store) MagPath() string  { return filepath.Join(s.Dir, MagFileName) }

// LoadGyro reads the gyro bias. A missing file returns an error matching fs.ErrNotExist.
func (s *Store) LoadGyro() (GyroBias, error) {
	vals, err := readLines(s.GyroPath(), 3)
	if err != nil {
		return GyroBias{}, err
	}
	var b GyroBias
	for i, v := range vals {
		n, err := strconv.ParseInt(v, 10, 16)
		if err != nil {
			return GyroBias{}, fmt.Errorf("calib: %s line %d: %w", s.GyroPath(), i+1, err)
		}
		b[i] = int16(n)
	}
	return b, nil
}

func (s *Store) SaveGyro(b GyroBias) error {
	var buf bytes.Buffer
	for _, v := range b {
		fmt.Fprintf(&buf, "%d\n", v)
	}
	return s.write(s.GyroPath(), buf.Bytes())
}

// LoadMag reads the magnetometer calibration. A missing file returns an error
// matching fs.ErrNotExist.
func (s *Store) LoadMag() (MagCalibration, error) {
	vals, err := readLines(s.MagPath(), 6)
	if err != nil {
		return MagCalibration{}, err
	}
	var f [6]float64
	for i, v := range vals {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return MagCalibration{}, fmt.Errorf("calib: %s line %d: %w", s.MagPath(), i+1, err)
		}
		f[i] = x
	}
	return MagCalibration{
		Offsets: [3]float64{f[0], f[1], f[2]},
		Scales:  [3]float64{f[3], f[4], f[5]},
	}, nil
}

func (s *Store) SaveMag(m MagCalibration) error {
	var buf bytes.Buffer
	for _, v := range append(m.Offsets[:], m.Scales[:]...) {
		buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		buf.WriteByte('\n')
	}
	return s.write(s.MagPath(), buf.Bytes())
}

func readLines(path string, want int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make([]string, 0, want)
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(out) < want {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) < want {
		return nil, fmt.Errorf("calib: %s: got %d values want %d", path, len(out), want)
	}
	return out, nil
}

// write replaces path atomically, creating the directory on first use.
func (s *Store) write(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("calib: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
