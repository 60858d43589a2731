package session

import (
	"github.com/xpanvictor/edmolink/internal/domains/plugin"
	"github.com/xpanvictor/edmolink/pkg/protocol"
)

// ControllerEvents is the notification surface a controller (typically a
// websocket peer) hands in on admission. Implementations must be quick and
// non-reentrant; they run while the session does its bookkeeping.
type ControllerEvents interface {
	// PlayerListUpdated fires whenever the set of connected users changes.
	PlayerListUpdated(players []string)
	// ParamsUpdatedExternally fires when another actor changed a parameter
	// that affects this controller's oscillator.
	ParamsUpdatedExternally()
	// ExternalRelationChanged fires when another actor changed a
	// phase-shift, which only matters relative to the other oscillators.
	ExternalRelationChanged()
	// FeedbackReceived carries a user-visible plugin message.
	FeedbackReceived(message string)
	// ObjectivesPublished carries a plugin's objective group.
	ObjectivesPublished(group *plugin.ObjectiveGroup)
}

// ControllerContext is the handle an admitted user holds: one slot, one
// oscillator. The session owns the context; the context only knows its
// slot index to find itself.
type ControllerContext struct {
	session *Session
	slot    int
	name    string
	events  ControllerEvents
}

func (c *ControllerContext) Slot() int    { return c.slot }
func (c *ControllerContext) Name() string { return c.name }

// Params snapshots this slot's oscillator parameters.
func (c *ControllerContext) Params() protocol.OscillatorParams {
	return c.session.paramsFor(c.slot)
}

func (c *ControllerContext) ArmHue() uint16 {
	return c.session.armHueFor(c.slot)
}

// SetFrequency sets the session-wide frequency; every oscillator follows.
func (c *ControllerContext) SetFrequency(value float32) {
	c.session.setFrequencyFromSlot(c.slot, value)
}

// SetAmplitude sets this slot's amplitude.
func (c *ControllerContext) SetAmplitude(value float32) {
	c.session.setAmplitudeFromSlot(c.slot, value)
}

// SetOffset sets this slot's offset.
func (c *ControllerContext) SetOffset(value float32) {
	c.session.setOffsetFromSlot(c.slot, value)
}

// SetPhaseShift sets this slot's phase shift.
func (c *ControllerContext) SetPhaseShift(value float32) {
	c.session.setPhaseShiftFromSlot(c.slot, value)
}

// Reset returns this slot's amplitude, offset and phase shift to their
// defaults. The shared frequency is left as it is.
func (c *ControllerContext) Reset() {
	c.SetAmplitude(0)
	c.SetOffset(protocol.DefaultOffset)
	c.SetPhaseShift(0)
}

// Leave gives the slot back. The context must not be used afterwards.
func (c *ControllerContext) Leave() {
	c.session.removeContext(c)
}
