package protocol

import (
	"encoding/binary"
	"math"
)

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

func marshalParams(dst []byte, p OscillatorParams) {
	putFloat32(dst[0:], p.Frequency)
	putFloat32(dst[4:], p.Amplitude)
	putFloat32(dst[8:], p.Offset)
	putFloat32(dst[12:], p.PhaseShift)
}

func unmarshalParams(src []byte) OscillatorParams {
	return OscillatorParams{
		Frequency:  getFloat32(src[0:]),
		Amplitude:  getFloat32(src[4:]),
		Offset:     getFloat32(src[8:]),
		PhaseShift: getFloat32(src[12:]),
	}
}

func unmarshalState(src []byte) OscillatorState {
	return OscillatorState{
		OscillatorParams: unmarshalParams(src),
		Phase:            getFloat32(src[16:]),
	}
}

// EncodeIdentify frames an identification request carrying the host's
// 128-bit lock key.
func EncodeIdentify(lockKey [16]byte) []byte {
	return Frame(PacketIdentify, lockKey[:])
}

// EncodeSessionStart frames a session start command with the last known
// device time (0 on a first bind).
func EncodeSessionStart(lastTime uint32) []byte {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, lastTime)
	return Frame(PacketSessionStart, body)
}

// EncodeSessionEnd frames a session end command.
func EncodeSessionEnd() []byte {
	return Frame(PacketSessionEnd, nil)
}

// EncodeUpdateOscillator frames a parameter update for one oscillator.
func EncodeUpdateOscillator(index uint8, p OscillatorParams) []byte {
	body := make([]byte, 1+oscillatorParamsSize)
	body[0] = index
	marshalParams(body[1:], p)
	return Frame(PacketUpdateOscillator, body)
}
