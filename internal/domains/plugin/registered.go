package plugin

import (
	"github.com/xpanvictor/edmolink/pkg/protocol"
)

// Capability is one bit per optional callback.
type Capability uint16

const (
	CapSessionStarted Capability = 1 << iota
	CapSessionEnded
	CapUserJoined
	CapUserLeft
	CapIMUData
	CapOscillatorData
	CapFrequencyChanged
	CapAmplitudeChanged
	CapOffsetChanged
	CapPhaseShiftChanged
	CapChangedByPlugin
	CapUpdate
)

// Registered wraps a plugin with its capability bitset and priority. The
// set is computed once here; event dispatch tests a bit instead of doing a
// type assertion per event.
type Registered struct {
	Plugin
	Priority int

	caps Capability

	sessionStarted       func()
	sessionEnded         func()
	userJoined           func(int, string)
	userLeft             func(int, string)
	imuData              func(protocol.IMUData)
	oscillatorData       func(int, protocol.OscillatorState)
	frequencyChanged     func(int, float32)
	amplitudeChanged     func(int, float32)
	offsetChanged        func(int, float32)
	phaseShiftChanged    func(int, float32)
	frequencyByPlugin    func(Plugin, float32)
	amplitudeByPlugin    func(Plugin, int, float32)
	offsetByPlugin       func(Plugin, int, float32)
	phaseShiftByPlugin   func(Plugin, int, float32)
	update               func()
}

// Register inspects the plugin's capability set. Priority is the loader's
// enumeration index; lower runs first.
func Register(p Plugin, priority int) *Registered {
	r := &Registered{Plugin: p, Priority: priority}

	if h, ok := p.(SessionStartedHandler); ok {
		r.caps |= CapSessionStarted
		r.sessionStarted = h.SessionStarted
	}
	if h, ok := p.(SessionEndedHandler); ok {
		r.caps |= CapSessionEnded
		r.sessionEnded = h.SessionEnded
	}
	if h, ok := p.(UserJoinedHandler); ok {
		r.caps |= CapUserJoined
		r.userJoined = h.UserJoined
	}
	if h, ok := p.(UserLeftHandler); ok {
		r.caps |= CapUserLeft
		r.userLeft = h.UserLeft
	}
	if h, ok := p.(IMUDataHandler); ok {
		r.caps |= CapIMUData
		r.imuData = h.IMUDataReceived
	}
	if h, ok := p.(OscillatorDataHandler); ok {
		r.caps |= CapOscillatorData
		r.oscillatorData = h.OscillatorDataReceived
	}
	if h, ok := p.(FrequencyChangedHandler); ok {
		r.caps |= CapFrequencyChanged
		r.frequencyChanged = h.FrequencyChangedByUser
	}
	if h, ok := p.(AmplitudeChangedHandler); ok {
		r.caps |= CapAmplitudeChanged
		r.amplitudeChanged = h.AmplitudeChangedByUser
	}
	if h, ok := p.(OffsetChangedHandler); ok {
		r.caps |= CapOffsetChanged
		r.offsetChanged = h.OffsetChangedByUser
	}
	if h, ok := p.(PhaseShiftChangedHandler); ok {
		r.caps |= CapPhaseShiftChanged
		r.phaseShiftChanged = h.PhaseShiftChangedByUser
	}
	if h, ok := p.(FrequencyChangedByPluginHandler); ok {
		r.caps |= CapChangedByPlugin
		r.frequencyByPlugin = h.FrequencyChangedByPlugin
	}
	if h, ok := p.(AmplitudeChangedByPluginHandler); ok {
		r.caps |= CapChangedByPlugin
		r.amplitudeByPlugin = h.AmplitudeChangedByPlugin
	}
	if h, ok := p.(OffsetChangedByPluginHandler); ok {
		r.caps |= CapChangedByPlugin
		r.offsetByPlugin = h.OffsetChangedByPlugin
	}
	if h, ok := p.(PhaseShiftChangedByPluginHandler); ok {
		r.caps |= CapChangedByPlugin
		r.phaseShiftByPlugin = h.PhaseShiftChangedByPlugin
	}
	if h, ok := p.(UpdateHandler); ok {
		r.caps |= CapUpdate
		r.update = h.Update
	}
	return r
}

func (r *Registered) Has(c Capability) bool { return r.caps&c != 0 }

func (r *Registered) EmitSessionStarted() {
	if r.caps&CapSessionStarted != 0 {
		r.sessionStarted()
	}
}

func (r *Registered) EmitSessionEnded() {
	if r.caps&CapSessionEnded != 0 {
		r.sessionEnded()
	}
}

func (r *Registered) EmitUserJoined(slot int, name string) {
	if r.caps&CapUserJoined != 0 {
		r.userJoined(slot, name)
	}
}

func (r *Registered) EmitUserLeft(slot int, name string) {
	if r.caps&CapUserLeft != 0 {
		r.userLeft(slot, name)
	}
}

func (r *Registered) EmitIMUData(imu protocol.IMUData) {
	if r.caps&CapIMUData != 0 {
		r.imuData(imu)
	}
}

func (r *Registered) EmitOscillatorData(index int, state protocol.OscillatorState) {
	if r.caps&CapOscillatorData != 0 {
		r.oscillatorData(index, state)
	}
}

func (r *Registered) EmitFrequencyChanged(slot int, value float32) {
	if r.caps&CapFrequencyChanged != 0 {
		r.frequencyChanged(slot, value)
	}
}

func (r *Registered) EmitAmplitudeChanged(slot int, value float32) {
	if r.caps&CapAmplitudeChanged != 0 {
		r.amplitudeChanged(slot, value)
	}
}

func (r *Registered) EmitOffsetChanged(slot int, value float32) {
	if r.caps&CapOffsetChanged != 0 {
		r.offsetChanged(slot, value)
	}
}

func (r *Registered) EmitPhaseShiftChanged(slot int, value float32) {
	if r.caps&CapPhaseShiftChanged != 0 {
		r.phaseShiftChanged(slot, value)
	}
}

func (r *Registered) EmitFrequencyChangedByPlugin(origin Plugin, value float32) {
	if r.frequencyByPlugin != nil {
		r.frequencyByPlugin(origin, value)
	}
}

func (r *Registered) EmitAmplitudeChangedByPlugin(origin Plugin, index int, value float32) {
	if r.amplitudeByPlugin != nil {
		r.amplitudeByPlugin(origin, index, value)
	}
}

func (r *Registered) EmitOffsetChangedByPlugin(origin Plugin, index int, value float32) {
	if r.offsetByPlugin != nil {
		r.offsetByPlugin(origin, index, value)
	}
}

func (r *Registered) EmitPhaseShiftChangedByPlugin(origin Plugin, index int, value float32) {
	if r.phaseShiftByPlugin != nil {
		r.phaseShiftByPlugin(origin, index, value)
	}
}

func (r *Registered) EmitUpdate() {
	if r.caps&CapUpdate != 0 {
		r.update()
	}
}
