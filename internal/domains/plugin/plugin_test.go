package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xpanvictor/edmolink/pkg/protocol"
)

// fullPlugin implements every optional callback.
type fullPlugin struct {
	calls []string
}

func (p *fullPlugin) Name() string { return "full" }

func (p *fullPlugin) SessionStarted()                              { p.calls = append(p.calls, "started") }
func (p *fullPlugin) SessionEnded()                                { p.calls = append(p.calls, "ended") }
func (p *fullPlugin) UserJoined(int, string)                       { p.calls = append(p.calls, "joined") }
func (p *fullPlugin) UserLeft(int, string)                         { p.calls = append(p.calls, "left") }
func (p *fullPlugin) IMUDataReceived(protocol.IMUData)             { p.calls = append(p.calls, "imu") }
func (p *fullPlugin) OscillatorDataReceived(int, protocol.OscillatorState) {
	p.calls = append(p.calls, "osc")
}
func (p *fullPlugin) FrequencyChangedByUser(int, float32)  { p.calls = append(p.calls, "freq") }
func (p *fullPlugin) AmplitudeChangedByUser(int, float32)  { p.calls = append(p.calls, "amp") }
func (p *fullPlugin) OffsetChangedByUser(int, float32)     { p.calls = append(p.calls, "off") }
func (p *fullPlugin) PhaseShiftChangedByUser(int, float32) { p.calls = append(p.calls, "phase") }
func (p *fullPlugin) Update()                              { p.calls = append(p.calls, "update") }

// barePlugin implements nothing optional.
type barePlugin struct{}

func (barePlugin) Name() string { return "bare" }

func TestRegisterDiscoversCapabilities(t *testing.T) {
	full := Register(&fullPlugin{}, 0)
	for _, c := range []Capability{
		CapSessionStarted, CapSessionEnded, CapUserJoined, CapUserLeft,
		CapIMUData, CapOscillatorData, CapFrequencyChanged,
		CapAmplitudeChanged, CapOffsetChanged, CapPhaseShiftChanged, CapUpdate,
	} {
		assert.True(t, full.Has(c))
	}
	assert.False(t, full.Has(CapChangedByPlugin))

	bare := Register(barePlugin{}, 1)
	assert.False(t, bare.Has(CapUpdate))
	assert.False(t, bare.Has(CapSessionStarted))
}

func TestEmitDispatchesOnlyImplementedCallbacks(t *testing.T) {
	p := &fullPlugin{}
	r := Register(p, 0)

	r.EmitSessionStarted()
	r.EmitUserJoined(0, "ann")
	r.EmitFrequencyChanged(0, 1.5)
	r.EmitUpdate()
	r.EmitSessionEnded()

	assert.Equal(t, []string{"started", "joined", "freq", "update", "ended"}, p.calls)

	// a bare plugin ignores everything without blowing up
	bare := Register(barePlugin{}, 1)
	bare.EmitSessionStarted()
	bare.EmitUserJoined(0, "ann")
	bare.EmitUpdate()
}

func TestObjectiveCompletionIsMonotone(t *testing.T) {
	o := NewObjective("wiggle", "make the robot wiggle")
	assert.False(t, o.Completed())

	o.Complete()
	assert.True(t, o.Completed())

	// completing twice is fine and never reverts
	o.Complete()
	assert.True(t, o.Completed())
}

func TestRegisterKeepsPriority(t *testing.T) {
	a := Register(barePlugin{}, 0)
	b := Register(barePlugin{}, 1)
	assert.Less(t, a.Priority, b.Priority)
}
