package mpu9250

// MPU-9250 register map (subset used by the DMP driver).
const (
	regXGOffsetH   = 0x13 // 6 bytes, gyro bias x/y/z big-endian
	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelConf2  = 0x1D
	regFIFOEn      = 0x23
	regI2CMstCtrl  = 0x24
	regI2CSlv0Addr = 0x25
	regI2CSlv0Reg  = 0x26
	regI2CSlv0Ctrl = 0x27
	regIntPinCfg   = 0x37
	regIntEnable   = 0x38
	regTempOutH    = 0x41
	regUserCtrl    = 0x6A
	regPwrMgmt1    = 0x6B
	regPwrMgmt2    = 0x6C
	regBankSel     = 0x6D
	regMemRW       = 0x6F
	regPrgmStartH  = 0x70
	regFIFOCountH  = 0x72
	regFIFORW      = 0x74
	regWhoAmI      = 0x75

	whoAmIVal = 0x71
)

// Register bits.
const (
	bitHReset = 0x80
	bitSleep  = 0x40

	bitDMPEn    = 0x80
	bitFIFOEn   = 0x40
	bitI2CMstEn = 0x20
	bitDMPRst   = 0x08
	bitFIFORst  = 0x04

	bitActiveLow  = 0x80
	bitLatchInt   = 0x20
	bitAnyRdClear = 0x10
	bitBypassEn   = 0x02

	bitDMPIntEn = 0x02

	fifoGyroXEn = 0x40
	fifoGyroYEn = 0x20
	fifoGyroZEn = 0x10
	fifoSlv0En  = 0x01
)

// AK8963 magnetometer, reachable directly in bypass mode or through the
// MPU's I2C master as slave 0.
const (
	magAddrDefault = 0x0C

	akXOutL = 0x03
	akCntl  = 0x0A
	akASAX  = 0x10

	akPowerDown = 0x00
	akFuseROM   = 0x0F
	akMode16Bit = 0x10
	akContMode2 = 0x06 // 100 Hz

	akST2Overflow = 0x08

	// Slave 0 setup: read 7 bytes (HXL..ST2) from the AK8963 every sample.
	slv0MstCtrl = 0x8D
	slv0Read    = 0x80 // OR'd with the 7-bit magnetometer address
	slv0Ctrl    = 0x87
)

const addrDefault = 0x68

// DMP memory layout.
const (
	bankSize       = 256
	loadChunk      = 16
	programStart   = 0x0400
	dmpSampleRate  = 200
	maxFIFOPacket  = 2 * packetLenMag
	packetLenNoMag = 28
	packetLenMag   = 35
	magBlockLen    = 7
)

// DMP memory addresses of feature configuration slots.
const (
	memGyroSF         = 104
	memCfgFIFORate    = 534 // D_0_22
	memCfgMotionBias  = 1208
	memFCfg1          = 1062
	memFCfg2          = 1066
	memFCfg3          = 1088
	memFCfg7          = 1073
	memCfgAndroidOrnt = 1853
	memCfg20          = 2224
	memCfgFIFOOnEvent = 2690
	memCfg8           = 2718
	memCfgLPQuat      = 2712
	memCfgGyroRawData = 2722
	memCfg15          = 2727
	memCfg27          = 2742
	memCfg6           = 2753
	gyroSF            = 46850825
	dinaGestureOff    = 0xD8
	dinaLPQuatOff     = 0x8B
)

// Fixed DMP feature programs.
var (
	cfgMotionBiasOff  = []byte{0xb8, 0xaa, 0xaa, 0xaa, 0xb0, 0x88, 0xc3, 0xc5, 0xc7}
	cfgGyroRawData    = []byte{0xB0, 0x80, 0xB4, 0x90}
	cfg6xLPQuatOn     = []byte{0x20, 0x28, 0x30, 0x38}
	cfgFIFOContinuous = []byte{0xd8, 0xb1, 0xb9, 0xf3, 0x8b, 0xa3, 0x91, 0xb6, 0x09, 0xb4, 0xd9}
	cfgFIFORateEnd    = []byte{0xFE, 0xF2, 0xAB, 0xC4, 0xAA, 0xF1, 0xDF, 0xDF, 0xBB, 0xAF, 0xDF, 0xDF}
	cfgSendRaw        = []byte{0xA3, 0xC0, 0xC8, 0xC2, 0xC4, 0xCC, 0xC6, 0xA3, 0xA3, 0xA3}

	orientGyroAxes  = [3]byte{0x4C, 0xCD, 0x6C}
	orientAccelAxes = [3]byte{0x0C, 0xC9, 0x2C}
	orientGyroSign  = [3]byte{0x36, 0x56, 0x76}
	orientAccelSign = [3]byte{0x26, 0x46, 0x66}
)

const (
	// Quaternion sanity band: |q|^2 of the q>>16 components must stay near 1<<28.
	quatMagSqUnity = 1 << 28
	quatErrThresh  = 1 << 24

	magRawToMicroTesla = 4912.0 / 32760.0
	tempSensitivity    = 333.87
	tempOffset         = 21.0
	gravity            = 9.80665
)
