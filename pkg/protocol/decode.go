package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DecodeIdentification parses an Identify reply body: a NUL-terminated
// ASCII identifier, the oscillator count, one hue per oscillator (u16 LE)
// and the soft-lock flag. An empty identifier is malformed.
func DecodeIdentification(body []byte) (Identification, error) {
	nul := bytes.IndexByte(body, 0)
	if nul <= 0 {
		return Identification{}, fmt.Errorf("identification: empty identifier: %w", ErrMalformedPayload)
	}

	rest := body[nul+1:]
	if len(rest) < 1 {
		return Identification{}, fmt.Errorf("identification: missing oscillator count: %w", ErrMalformedPayload)
	}
	count := int(rest[0])
	rest = rest[1:]

	if len(rest) != 2*count+1 {
		return Identification{}, fmt.Errorf("identification: expected %d hue/lock bytes, got %d: %w",
			2*count+1, len(rest), ErrMalformedPayload)
	}

	hues := make([]uint16, count)
	for i := 0; i < count; i++ {
		hues[i] = binary.LittleEndian.Uint16(rest[2*i:])
	}

	return Identification{
		Identifier: string(body[:nul]),
		ArmHues:    hues,
		Locked:     rest[2*count] == 1,
	}, nil
}

// DecodeTime parses a GetTime reply body: a single u32 device timestamp.
func DecodeTime(body []byte) (uint32, error) {
	if len(body) != 4 {
		return 0, fmt.Errorf("time: expected 4 bytes, got %d: %w", len(body), ErrMalformedPayload)
	}
	return binary.LittleEndian.Uint32(body), nil
}

// DecodeMotorData parses a SendMotorData body: oscillator index plus its
// reported state.
func DecodeMotorData(body []byte) (MotorData, error) {
	if len(body) != motorDataSize {
		return MotorData{}, fmt.Errorf("motor data: expected %d bytes, got %d: %w",
			motorDataSize, len(body), ErrMalformedPayload)
	}
	return MotorData{
		Index: body[0],
		State: unmarshalState(body[1:]),
	}, nil
}

func unmarshalSensorInfo(src []byte) SensorInfo {
	// 3 bytes of padding follow the accuracy byte; skipped, never dropped
	// from the layout size.
	return SensorInfo{
		Timestamp: binary.LittleEndian.Uint32(src[0:]),
		Accuracy:  src[4],
	}
}

func unmarshalVec3Sample(src []byte) Vec3Sample {
	return Vec3Sample{
		SensorInfo: unmarshalSensorInfo(src),
		Data: Vec3{
			X: getFloat32(src[8:]),
			Y: getFloat32(src[12:]),
			Z: getFloat32(src[16:]),
		},
	}
}

func unmarshalQuatSample(src []byte) QuatSample {
	return QuatSample{
		SensorInfo: unmarshalSensorInfo(src),
		Data: Quat{
			X: getFloat32(src[8:]),
			Y: getFloat32(src[12:]),
			Z: getFloat32(src[16:]),
			W: getFloat32(src[20:]),
		},
	}
}

func unmarshalIMU(src []byte) IMUData {
	return IMUData{
		Gyroscope:     unmarshalVec3Sample(src[0:]),
		Accelerometer: unmarshalVec3Sample(src[20:]),
		MagneticField: unmarshalVec3Sample(src[40:]),
		Gravity:       unmarshalVec3Sample(src[60:]),
		Rotation:      unmarshalQuatSample(src[80:]),
	}
}

// DecodeIMU parses a SendImuData body: the full aggregate inertial record.
func DecodeIMU(body []byte) (IMUData, error) {
	if len(body) != imuDataSize {
		return IMUData{}, fmt.Errorf("imu: expected %d bytes, got %d: %w",
			imuDataSize, len(body), ErrMalformedPayload)
	}
	return unmarshalIMU(body), nil
}

// DecodeAllData parses a SendAllData body against the host's cached
// oscillator count: u32 time, count oscillator states, one IMU aggregate.
// A count mismatch shows up as a length mismatch and is malformed.
func DecodeAllData(body []byte, count int) (AllData, error) {
	want := 4 + count*oscillatorStateSize + imuDataSize
	if len(body) != want {
		return AllData{}, fmt.Errorf("all data: expected %d bytes for %d oscillators, got %d: %w",
			want, count, len(body), ErrMalformedPayload)
	}

	out := AllData{
		Time:        binary.LittleEndian.Uint32(body),
		Oscillators: make([]OscillatorState, count),
	}
	off := 4
	for i := 0; i < count; i++ {
		out.Oscillators[i] = unmarshalState(body[off:])
		off += oscillatorStateSize
	}
	out.IMU = unmarshalIMU(body[off:])
	return out, nil
}
