package protocol

import "errors"

// PacketType is the first byte of every unescaped payload.
type PacketType uint8

const (
	PacketIdentify         PacketType = 0
	PacketSessionStart     PacketType = 1
	PacketGetTime          PacketType = 2
	PacketUpdateOscillator PacketType = 3
	PacketSendMotorData    PacketType = 4
	PacketSendImuData      PacketType = 5
	PacketSessionEnd       PacketType = 6
	PacketSendAllData      PacketType = 69
)

func (t PacketType) String() string {
	switch t {
	case PacketIdentify:
		return "identify"
	case PacketSessionStart:
		return "session_start"
	case PacketGetTime:
		return "get_time"
	case PacketUpdateOscillator:
		return "update_oscillator"
	case PacketSendMotorData:
		return "send_motor_data"
	case PacketSendImuData:
		return "send_imu_data"
	case PacketSessionEnd:
		return "session_end"
	case PacketSendAllData:
		return "send_all_data"
	}
	return "unknown"
}

// ErrMalformedPayload is returned when a payload's length or content does
// not match the fixed layout for its declared packet type.
var ErrMalformedPayload = errors.New("malformed payload")

// DefaultOffset is the host-side resting offset for an oscillator, in degrees.
const DefaultOffset float32 = 90

// OscillatorParams is the host-authoritative parameter set for one oscillator.
// On the wire: 4 little-endian float32s, 16 bytes.
type OscillatorParams struct {
	Frequency  float32
	Amplitude  float32
	Offset     float32
	PhaseShift float32
}

// DefaultParams returns the reset parameter set {0, 0, 90, 0}.
func DefaultParams() OscillatorParams {
	return OscillatorParams{Offset: DefaultOffset}
}

// OscillatorState is what the device reports back: the parameters plus the
// instantaneous phase. 5 little-endian float32s, 20 bytes.
type OscillatorState struct {
	OscillatorParams
	Phase float32
}

// Vec3 is a 3-component float32 vector.
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a 4-component float32 quaternion.
type Quat struct {
	X, Y, Z, W float32
}

// SensorInfo is the per-modality sample header: a device timestamp and an
// accuracy byte, followed by 3 bytes of padding that are part of the wire
// layout and must be preserved.
type SensorInfo struct {
	Timestamp uint32
	Accuracy  uint8
}

// Vec3Sample is a SensorInfo followed by a vec3 payload. 20 bytes on the wire.
type Vec3Sample struct {
	SensorInfo
	Data Vec3
}

// QuatSample is a SensorInfo followed by a quaternion payload. 24 bytes.
type QuatSample struct {
	SensorInfo
	Data Quat
}

// IMUData is the aggregate inertial record, in wire order.
type IMUData struct {
	Gyroscope     Vec3Sample
	Accelerometer Vec3Sample
	MagneticField Vec3Sample
	Gravity       Vec3Sample
	Rotation      QuatSample
}

// MotorData is one oscillator's reported state, tagged with its index.
type MotorData struct {
	Index uint8
	State OscillatorState
}

// Identification is the decoded body of an Identify reply.
type Identification struct {
	Identifier string
	ArmHues    []uint16
	Locked     bool
}

// OscillatorCount is derived from the hue table; the device sends one hue
// per oscillator.
func (id Identification) OscillatorCount() int {
	return len(id.ArmHues)
}

// AllData is the composite periodic report: device time, every oscillator's
// state, and one IMU aggregate.
type AllData struct {
	Time        uint32
	Oscillators []OscillatorState
	IMU         IMUData
}

// Wire sizes of the fixed layouts.
const (
	oscillatorParamsSize = 16
	oscillatorStateSize  = 20
	vec3SampleSize       = 20
	quatSampleSize       = 24
	imuDataSize          = 4*vec3SampleSize + quatSampleSize
	motorDataSize        = 1 + oscillatorStateSize
)
