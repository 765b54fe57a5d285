package mpu9250

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"dmpimu/internal/gpio"
)

type writeOp struct {
	reg  byte
	data []byte
}

// fakeMPU models the registers the driver touches: DMP memory behind
// BANK_SEL/MEM_R_W, a byte FIFO and a write log.
type fakeMPU struct {
	mu sync.Mutex

	regs   map[byte]byte
	mem    [0x10000]byte
	memPtr uint16
	fifo   []byte
	writes []writeOp

	// counts, when set, is returned by successive FIFO_COUNT reads instead
	// of len(fifo).
	counts []int
	// refill is appended to an empty FIFO on a count read.
	refill []byte

	corruptAt  int // DMP address returned with a flipped bit, -1 for none
	readErrFor map[byte]error
	writeErr   error
	resets     int
}

func newFakeMPU() *fakeMPU {
	return &fakeMPU{
		regs:      map[byte]byte{regWhoAmI: whoAmIVal},
		corruptAt: -1,
	}
}

func (f *fakeMPU) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := f.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *fakeMPU) ReadRegU16(reg byte) (uint16, error) {
	var b [2]byte
	if err := f.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (f *fakeMPU) ReadReg(reg byte, dst []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	switch reg {
	case regFIFOCountH:
		n := len(f.fifo)
		if len(f.counts) > 0 {
			n = f.counts[0]
			f.counts = f.counts[1:]
		} else if n == 0 && len(f.refill) > 0 {
			f.fifo = append(f.fifo, f.refill...)
			n = len(f.fifo)
		}
		binary.BigEndian.PutUint16(dst, uint16(n))
	case regFIFORW:
		if len(f.fifo) < len(dst) {
			return errors.New("fifo underrun")
		}
		copy(dst, f.fifo)
		f.fifo = f.fifo[len(dst):]
	case regMemRW:
		copy(dst, f.mem[f.memPtr:])
		if f.corruptAt >= int(f.memPtr) && f.corruptAt < int(f.memPtr)+len(dst) {
			dst[f.corruptAt-int(f.memPtr)] ^= 0x01
		}
	default:
		for i := range dst {
			dst[i] = f.regs[reg+byte(i)]
		}
	}
	return nil
}

func (f *fakeMPU) WriteReg(reg, value byte) error {
	return f.WriteRegs(reg, []byte{value})
}

func (f *fakeMPU) WriteRegs(reg byte, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, writeOp{reg: reg, data: append([]byte(nil), data...)})
	switch reg {
	case regBankSel:
		f.memPtr = uint16(data[0])<<8 | uint16(data[1])
	case regMemRW:
		copy(f.mem[f.memPtr:], data)
	case regUserCtrl:
		if data[0]&(bitFIFORst|bitDMPRst) == bitFIFORst|bitDMPRst {
			f.resets++
			f.fifo = nil
		}
		f.regs[reg] = data[0]
	default:
		for i, v := range data {
			f.regs[reg+byte(i)] = v
		}
	}
	return nil
}

func (f *fakeMPU) pushFIFO(b []byte) {
	f.mu.Lock()
	f.fifo = append(f.fifo, b...)
	f.mu.Unlock()
}

func (f *fakeMPU) reg(r byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[r]
}

func (f *fakeMPU) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakeMPU) writeLog() []writeOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeOp(nil), f.writes...)
}

// wrote reports whether reg was ever written with exactly data.
func (f *fakeMPU) wrote(reg byte, data ...byte) bool {
	for _, w := range f.writeLog() {
		if w.reg == reg && string(w.data) == string(data) {
			return true
		}
	}
	return false
}

// fakeAK8963 serves the fuse ROM and a queue of data blocks.
type fakeAK8963 struct {
	mu     sync.Mutex
	asa    [3]byte
	blocks [][]byte
	writes []writeOp
	err    error
}

func (f *fakeAK8963) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	err := f.ReadReg(reg, b[:])
	return b[0], err
}

func (f *fakeAK8963) ReadRegU16(reg byte) (uint16, error) {
	var b [2]byte
	err := f.ReadReg(reg, b[:])
	return binary.LittleEndian.Uint16(b[:]), err
}

func (f *fakeAK8963) ReadReg(reg byte, dst []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	switch reg {
	case akASAX:
		copy(dst, f.asa[:])
	case akXOutL:
		if len(f.blocks) == 0 {
			return errors.New("no mag data")
		}
		copy(dst, f.blocks[0])
		f.blocks = f.blocks[1:]
	}
	return nil
}

func (f *fakeAK8963) WriteReg(reg, value byte) error {
	return f.WriteRegs(reg, []byte{value})
}

func (f *fakeAK8963) WriteRegs(reg byte, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeOp{reg: reg, data: append([]byte(nil), data...)})
	return nil
}

// fakeIRQ delivers edges sent on its channel.
type fakeIRQ struct {
	edges  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newFakeIRQ() *fakeIRQ {
	return &fakeIRQ{edges: make(chan struct{}, 16), closed: make(chan struct{})}
}

func (f *fakeIRQ) Wait(timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.edges:
		return true, nil
	case <-t.C:
		return false, nil
	case <-f.closed:
		return false, gpio.ErrClosed
	}
}

func (f *fakeIRQ) fire() { f.edges <- struct{}{} }

func (f *fakeIRQ) close() { f.once.Do(func() { close(f.closed) }) }

// fakeLock records claims like the i2c bus flag.
type fakeLock struct {
	mu     sync.Mutex
	inUse  bool
	claims int
}

func (l *fakeLock) Claim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.inUse
	l.inUse = true
	l.claims++
	return was
}

func (l *fakeLock) Release() {
	l.mu.Lock()
	l.inUse = false
	l.mu.Unlock()
}

func (l *fakeLock) InUse() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	var mu sync.Mutex
	old := sleep
	sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	t.Cleanup(func() { sleep = old })
	return &slept
}

const q30 = 1 << 30

// buildPacket encodes one DMP FIFO packet. mag is nil for the 28-byte layout.
func buildPacket(mag []byte, q [4]int32, accel, gyro [3]int16) []byte {
	b := append([]byte(nil), mag...)
	for _, v := range q {
		b = binary.BigEndian.AppendUint32(b, uint32(v))
	}
	for _, v := range accel {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	for _, v := range gyro {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	return b
}

// magBlock encodes HXL..ST2 for raw counts x, y, z.
func magBlock(x, y, z int16, st2 byte) []byte {
	b := make([]byte, 0, magBlockLen)
	for _, v := range []int16{x, y, z} {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	return append(b, st2)
}

// newTestDevice returns a device past bring-up without running it.
func newTestDevice(t *testing.T, cfg Config) (*Device, *fakeMPU, *fakeAK8963) {
	t.Helper()
	f := newFakeMPU()
	m := &fakeAK8963{asa: [3]byte{128, 128, 128}}
	d := newDevice(f, m, &fakeLock{}, newFakeIRQ(), cfg, Options{}.withDefaults())
	d.c.dmpEnabled = true
	d.c.packetLen = cfg.packetLen()
	d.c.magAdjust = [3]float64{1, 1, 1}
	d.state = StateSamplingEnabled
	return d, f, m
}
