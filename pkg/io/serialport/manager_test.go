package serialport

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
)

type fakeChannel struct {
	channel.StateTracker
	name string
}

func (f *fakeChannel) Name() string                            { return f.name }
func (f *fakeChannel) OnData(channel.DataHandler)              {}
func (f *fakeChannel) Write(_ context.Context, _ []byte) error { return nil }
func (f *fakeChannel) WriteSync(_ []byte) error                { return nil }
func (f *fakeChannel) Close()                                  { f.Transition(channel.StatusClosed) }

type managerHarness struct {
	m           *Manager
	ports       []string
	opened      map[string]*fakeChannel
	established []channel.Channel
	lost        []channel.Channel
}

func newHarness(t *testing.T) *managerHarness {
	t.Helper()
	h := &managerHarness{opened: make(map[string]*fakeChannel)}
	h.m = NewManager(Logger.Nop(), clock.NewMock(), 0)
	h.m.enumerate = func() ([]string, error) { return h.ports, nil }
	h.m.open = func(_ context.Context, name string) channel.Channel {
		fc := &fakeChannel{name: name}
		fc.Transition(channel.StatusWaiting)
		h.opened[name] = fc
		return fc
	}
	h.m.OnChannelEstablished(func(ch channel.Channel) { h.established = append(h.established, ch) })
	h.m.OnChannelLost(func(ch channel.Channel) { h.lost = append(h.lost, ch) })
	return h
}

func (h *managerHarness) poll() { h.m.poll(context.Background()) }

func TestNewPortSpawnsWaitingChannel(t *testing.T) {
	h := newHarness(t)
	h.ports = []string{"/dev/ttyUSB0"}

	h.poll()

	require.Contains(t, h.opened, "/dev/ttyUSB0")
	assert.Empty(t, h.established, "waiting channel must not be announced yet")

	// repeated polls do not re-open the same port
	h.poll()
	assert.Len(t, h.opened, 1)
}

func TestConnectedChannelIsAnnounced(t *testing.T) {
	h := newHarness(t)
	h.ports = []string{"/dev/ttyUSB0"}
	h.poll()

	h.opened["/dev/ttyUSB0"].Transition(channel.StatusConnected)
	h.poll()

	require.Len(t, h.established, 1)
	assert.Equal(t, "/dev/ttyUSB0", h.established[0].Name())

	// established only once
	h.poll()
	assert.Len(t, h.established, 1)
}

func TestFailedWaitingChannelIsForgotten(t *testing.T) {
	h := newHarness(t)
	h.ports = []string{"/dev/ttyUSB0"}
	h.poll()

	h.opened["/dev/ttyUSB0"].Transition(channel.StatusFailed)
	h.poll()

	assert.Empty(t, h.established)
	assert.Empty(t, h.lost)

	// the port is eligible for a fresh attempt on the next enumeration
	delete(h.opened, "/dev/ttyUSB0")
	h.poll()
	assert.Contains(t, h.opened, "/dev/ttyUSB0")
}

func TestUnpluggedActivePortAnnouncesLoss(t *testing.T) {
	h := newHarness(t)
	h.ports = []string{"/dev/ttyUSB0"}
	h.poll()
	h.opened["/dev/ttyUSB0"].Transition(channel.StatusConnected)
	h.poll()
	require.Len(t, h.established, 1)

	h.ports = nil
	h.poll()

	require.Len(t, h.lost, 1)
	assert.Equal(t, "/dev/ttyUSB0", h.lost[0].Name())
	assert.Equal(t, channel.StatusClosed, h.lost[0].Status())
}

func TestUnpluggedWaitingPortIsClosedSilently(t *testing.T) {
	h := newHarness(t)
	h.ports = []string{"/dev/ttyUSB0"}
	h.poll()

	h.ports = nil
	h.poll()

	assert.Empty(t, h.lost)
	assert.Equal(t, channel.StatusClosed, h.opened["/dev/ttyUSB0"].Status())
}

func TestActiveChannelFailureAnnouncesLoss(t *testing.T) {
	h := newHarness(t)
	h.ports = []string{"/dev/ttyUSB0"}
	h.poll()
	h.opened["/dev/ttyUSB0"].Transition(channel.StatusConnected)
	h.poll()

	h.opened["/dev/ttyUSB0"].Transition(channel.StatusFailed)
	h.poll()

	require.Len(t, h.lost, 1)
}
