// Package plugin defines the host side of the session plugin contract.
// Loaders live elsewhere; the host only sees constructed plugins.
package plugin

import (
	"github.com/xpanvictor/edmolink/pkg/protocol"
)

// Plugin is the minimal surface every plugin exposes. Everything else is
// optional and discovered once at registration.
type Plugin interface {
	Name() string
}

// Host is what a plugin may call back into its session. Parameter writes
// follow the session's broadcast rules; origin identifies the calling
// plugin so it is excluded from its own change notifications.
type Host interface {
	SetFrequency(origin Plugin, value float32)
	SetAmplitude(origin Plugin, index int, value float32)
	SetOffset(origin Plugin, index int, value float32)
	SetPhaseShift(origin Plugin, index int, value float32)
	// SendFeedback delivers a user-visible message to the slot's controller.
	SendFeedback(slot int, message string)
	// PublishObjectives pushes an objective group to every controller.
	PublishObjectives(group *ObjectiveGroup)
	// SessionStorageDir is the session's private directory for plugin output.
	SessionStorageDir() string
}

// Factory constructs a session's plugins. The returned order is the
// loader's enumeration order and fixes priority: lower index runs first.
type Factory func(host Host) []Plugin

// Optional capability interfaces. A plugin implements any subset.

type SessionStartedHandler interface {
	SessionStarted()
}

type SessionEndedHandler interface {
	SessionEnded()
}

type UserJoinedHandler interface {
	UserJoined(slot int, name string)
}

type UserLeftHandler interface {
	UserLeft(slot int, name string)
}

type IMUDataHandler interface {
	IMUDataReceived(imu protocol.IMUData)
}

type OscillatorDataHandler interface {
	OscillatorDataReceived(index int, state protocol.OscillatorState)
}

type FrequencyChangedHandler interface {
	FrequencyChangedByUser(slot int, value float32)
}

type AmplitudeChangedHandler interface {
	AmplitudeChangedByUser(slot int, value float32)
}

type OffsetChangedHandler interface {
	OffsetChangedByUser(slot int, value float32)
}

type PhaseShiftChangedHandler interface {
	PhaseShiftChangedByUser(slot int, value float32)
}

type FrequencyChangedByPluginHandler interface {
	FrequencyChangedByPlugin(origin Plugin, value float32)
}

type AmplitudeChangedByPluginHandler interface {
	AmplitudeChangedByPlugin(origin Plugin, index int, value float32)
}

type OffsetChangedByPluginHandler interface {
	OffsetChangedByPlugin(origin Plugin, index int, value float32)
}

type PhaseShiftChangedByPluginHandler interface {
	PhaseShiftChangedByPlugin(origin Plugin, index int, value float32)
}

type UpdateHandler interface {
	// Update runs every reconciliation tick, before parameters are pushed
	// to the device.
	Update()
}
