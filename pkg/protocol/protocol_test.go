package protocol

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeKnownVector(t *testing.T) {
	in := []byte{0x45, 0x44, 0x4D, 0x4F, 0x01, 0x02, 0x45, 0x44}
	want := []byte{0x45, 0x5C, 0x44, 0x4D, 0x5C, 0x4F, 0x01, 0x02, 0x45, 0x5C, 0x44}

	got := Escape(in)
	assert.Equal(t, want, got)
	assert.Equal(t, in, Unescape(got))
	assert.NotContains(t, string(got), "ED")
	assert.NotContains(t, string(got), "MO")
}

func TestEscapeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		payload := make([]byte, rng.Intn(256))
		for j := range payload {
			// quantified over payloads free of stray backslashes
			for {
				b := byte(rng.Intn(256))
				if b != '\\' {
					payload[j] = b
					break
				}
			}
		}

		escaped := Escape(payload)
		assert.Equal(t, payload, Unescape(escaped))
		assert.NotContains(t, string(escaped), "ED")
		assert.NotContains(t, string(escaped), "MO")
	}
}

func TestEscapeDoublesBackslash(t *testing.T) {
	in := []byte{'a', '\\', 'b'}
	escaped := Escape(in)
	assert.Equal(t, []byte{'a', '\\', '\\', 'b'}, escaped)
	assert.Equal(t, in, Unescape(escaped))
}

func TestUnescapeDropsTrailingBackslash(t *testing.T) {
	assert.Equal(t, []byte{'x'}, Unescape([]byte{'x', '\\'}))
}

func TestFrameDelimiters(t *testing.T) {
	frame := Frame(PacketGetTime, []byte{0xFF, 0x00, 0x00, 0x00})
	assert.Equal(t, Header, frame[:2])
	assert.Equal(t, Footer, frame[len(frame)-2:])

	// the interior never contains a delimiter
	interior := frame[2 : len(frame)-2]
	assert.NotContains(t, string(interior), "ED")
	assert.NotContains(t, string(interior), "MO")
}

func TestUpdateOscillatorRoundTrip(t *testing.T) {
	p := OscillatorParams{Frequency: 1.5, Amplitude: 30, Offset: 90, PhaseShift: 0.25}
	encoded := EncodeUpdateOscillator(2, p)
	payload := Unescape(encoded[2 : len(encoded)-2])
	require.Equal(t, byte(PacketUpdateOscillator), payload[0])

	body := payload[1:]
	require.Len(t, body, 17)
	assert.Equal(t, uint8(2), body[0])
	assert.Equal(t, p, unmarshalParams(body[1:]))
}

func TestDecodeIdentification(t *testing.T) {
	body := []byte("Snake1")
	body = append(body, 0, 4)
	for _, hue := range []uint16{0, 120, 240, 360} {
		body = binary.LittleEndian.AppendUint16(body, hue)
	}
	body = append(body, 0)

	id, err := DecodeIdentification(body)
	require.NoError(t, err)
	assert.Equal(t, "Snake1", id.Identifier)
	assert.Equal(t, 4, id.OscillatorCount())
	assert.Equal(t, []uint16{0, 120, 240, 360}, id.ArmHues)
	assert.False(t, id.Locked)
}

func TestDecodeIdentificationMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty identifier": {0, 2, 0, 0, 0, 0, 0},
		"no terminator":    []byte("Snake1"),
		"truncated hues":   append([]byte("Snake1\x00"), 4, 0, 0),
		"missing lock":     append([]byte("Snake1\x00"), 1, 0, 0),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeIdentification(body)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestDecodeTime(t *testing.T) {
	v, err := DecodeTime([]byte{0xFF, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFF), v)

	_, err = DecodeTime([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func makeStateBytes(t *testing.T, s OscillatorState) []byte {
	t.Helper()
	buf := make([]byte, 20)
	marshalParams(buf, s.OscillatorParams)
	putFloat32(buf[16:], s.Phase)
	return buf
}

func TestDecodeMotorData(t *testing.T) {
	state := OscillatorState{
		OscillatorParams: OscillatorParams{Frequency: 0.5, Amplitude: 45, Offset: 90, PhaseShift: 3.14},
		Phase:            1.25,
	}
	body := append([]byte{3}, makeStateBytes(t, state)...)

	md, err := DecodeMotorData(body)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), md.Index)
	assert.Equal(t, state, md.State)

	_, err = DecodeMotorData(body[:10])
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func makeIMUBytes() []byte {
	buf := make([]byte, imuDataSize)
	for i := 0; i < 5; i++ {
		off := i * 20
		binary.LittleEndian.PutUint32(buf[off:], uint32(1000+i))
		buf[off+4] = byte(i)
		putFloat32(buf[off+8:], float32(i)+0.1)
		putFloat32(buf[off+12:], float32(i)+0.2)
		putFloat32(buf[off+16:], float32(i)+0.3)
	}
	// rotation sample carries a fourth component
	putFloat32(buf[100:], 0.99)
	return buf
}

func TestDecodeIMU(t *testing.T) {
	imu, err := DecodeIMU(makeIMUBytes())
	require.NoError(t, err)

	assert.Equal(t, uint32(1000), imu.Gyroscope.Timestamp)
	assert.Equal(t, uint8(0), imu.Gyroscope.Accuracy)
	assert.InDelta(t, 0.1, imu.Gyroscope.Data.X, 1e-6)
	assert.Equal(t, uint32(1003), imu.Gravity.Timestamp)
	assert.Equal(t, uint32(1004), imu.Rotation.Timestamp)
	assert.InDelta(t, 0.99, imu.Rotation.Data.W, 1e-6)

	_, err = DecodeIMU(make([]byte, imuDataSize-1))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeAllData(t *testing.T) {
	body := binary.LittleEndian.AppendUint32(nil, 5000)
	states := []OscillatorState{
		{OscillatorParams: OscillatorParams{Frequency: 1, Offset: 90}, Phase: 0.1},
		{OscillatorParams: OscillatorParams{Frequency: 1, Offset: 90}, Phase: 0.2},
	}
	for _, s := range states {
		body = append(body, makeStateBytes(t, s)...)
	}
	body = append(body, makeIMUBytes()...)

	all, err := DecodeAllData(body, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(5000), all.Time)
	assert.Equal(t, states, all.Oscillators)
	assert.Equal(t, uint32(1004), all.IMU.Rotation.Timestamp)

	// a count mismatch shows up as a length mismatch
	_, err = DecodeAllData(body, 3)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestFrameIdentifyCarriesLockKey(t *testing.T) {
	var key [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	frame := EncodeIdentify(key)
	payload := Unescape(frame[2 : len(frame)-2])
	require.Equal(t, byte(PacketIdentify), payload[0])
	assert.True(t, bytes.Equal(key[:], payload[1:]))
}
