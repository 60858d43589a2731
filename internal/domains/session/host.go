package session

import (
	"github.com/xpanvictor/edmolink/internal/domains/plugin"
)

// pluginHost is the session seen through a plugin's eyes. Writes follow the
// same broadcast rules as user writes, except the notifications go to the
// *other* plugins (as ChangedByPlugin) and to every controller.
type pluginHost struct {
	s *Session
}

func (s *Session) hostFor() plugin.Host { return &pluginHost{s} }

func (h *pluginHost) SetFrequency(origin plugin.Plugin, value float32) {
	s := h.s
	s.mu.Lock()
	if s.closed || len(s.params) == 0 || s.params[0].Frequency == value {
		s.mu.Unlock()
		return
	}
	for i := range s.params {
		s.params[i].Frequency = value
	}
	controllers := s.allControllersLocked()
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		if p.Plugin != origin {
			p.EmitFrequencyChangedByPlugin(origin, value)
		}
	}
	for _, ctx := range controllers {
		ctx.events.ParamsUpdatedExternally()
	}
}

func (h *pluginHost) SetAmplitude(origin plugin.Plugin, index int, value float32) {
	s := h.s
	s.mu.Lock()
	if s.closed || index < 0 || index >= len(s.params) || s.params[index].Amplitude == value {
		s.mu.Unlock()
		return
	}
	s.params[index].Amplitude = value
	controllers := s.allControllersLocked()
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		if p.Plugin != origin {
			p.EmitAmplitudeChangedByPlugin(origin, index, value)
		}
	}
	for _, ctx := range controllers {
		ctx.events.ParamsUpdatedExternally()
	}
}

func (h *pluginHost) SetOffset(origin plugin.Plugin, index int, value float32) {
	s := h.s
	s.mu.Lock()
	if s.closed || index < 0 || index >= len(s.params) || s.params[index].Offset == value {
		s.mu.Unlock()
		return
	}
	s.params[index].Offset = value
	controllers := s.allControllersLocked()
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		if p.Plugin != origin {
			p.EmitOffsetChangedByPlugin(origin, index, value)
		}
	}
	for _, ctx := range controllers {
		ctx.events.ParamsUpdatedExternally()
	}
}

func (h *pluginHost) SetPhaseShift(origin plugin.Plugin, index int, value float32) {
	s := h.s
	s.mu.Lock()
	if s.closed || index < 0 || index >= len(s.params) || s.params[index].PhaseShift == value {
		s.mu.Unlock()
		return
	}
	s.params[index].PhaseShift = value
	controllers := s.allControllersLocked()
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		if p.Plugin != origin {
			p.EmitPhaseShiftChangedByPlugin(origin, index, value)
		}
	}
	for _, ctx := range controllers {
		ctx.events.ExternalRelationChanged()
	}
}

func (h *pluginHost) SendFeedback(slot int, message string) {
	s := h.s
	s.mu.Lock()
	ctx, ok := s.users[slot]
	s.mu.Unlock()
	if ok {
		ctx.events.FeedbackReceived(message)
	}
}

func (h *pluginHost) PublishObjectives(group *plugin.ObjectiveGroup) {
	s := h.s
	s.mu.Lock()
	controllers := s.allControllersLocked()
	s.mu.Unlock()
	for _, ctx := range controllers {
		ctx.events.ObjectivesPublished(group)
	}
}

func (h *pluginHost) SessionStorageDir() string {
	return h.s.storageDir
}
