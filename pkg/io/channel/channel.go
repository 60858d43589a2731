// Package channel defines the duplex byte pipe every transport hands to the
// connection layer. Implementations live in serialport and udpcast.
package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelIO marks an underlying transport failure on write. Returning it
// does not change the channel's status; callers up to the session discard it.
var ErrChannelIO = errors.New("channel io failure")

type Status int

const (
	StatusIdle Status = iota
	StatusWaiting
	StatusConnected
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusWaiting:
		return "waiting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the status is one a channel never leaves.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusClosed
}

type DataHandler func([]byte)

type StatusHandler func(Status)

// Channel is a duplex byte pipe with observable status. Data delivery is
// serialized per channel; handlers never run concurrently for the same
// channel but may run concurrently across channels.
type Channel interface {
	// Name identifies the endpoint, e.g. a port path or a peer address.
	Name() string
	Status() Status
	OnStatus(StatusHandler)
	// OnData registers the sink for inbound chunks. Chunks are contiguous
	// and possibly partial; no framing is assumed.
	OnData(DataHandler)
	// Write sends bytes, honoring ctx cancellation where the transport can.
	// Writing to a closed channel is a silent no-op.
	Write(ctx context.Context, p []byte) error
	// WriteSync is the blocking form of Write.
	WriteSync(p []byte) error
	// Close is idempotent.
	Close()
}

// StateTracker is the shared status bookkeeping embedded by channel
// implementations. Transitions are monotonic toward terminal states.
type StateTracker struct {
	mu       sync.Mutex
	status   Status
	handlers []StatusHandler
}

func (t *StateTracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *StateTracker) OnStatus(h StatusHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Transition moves to next unless the tracker already reached a terminal
// state. It reports whether the transition took effect; handlers fire
// outside the lock.
func (t *StateTracker) Transition(next Status) bool {
	t.mu.Lock()
	if t.status == next || t.status.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.status = next
	handlers := make([]StatusHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h(next)
	}
	return true
}
