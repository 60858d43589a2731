package udpcast

import (
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
)

func newTestManager(t *testing.T) (*Manager, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	m := NewManager(Config{}, Logger.Nop(), clk)
	return m, clk
}

func peerAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: port}
}

func TestDatagramMintsChannelOnce(t *testing.T) {
	m, _ := newTestManager(t)

	var established []channel.Channel
	m.OnChannelEstablished(func(ch channel.Channel) { established = append(established, ch) })

	var got [][]byte
	m.handleDatagram(peerAddr(4000), []byte{1, 2})
	require.Len(t, established, 1)
	established[0].OnData(func(p []byte) {
		cp := make([]byte, len(p))
		copy(cp, p)
		got = append(got, cp)
	})

	m.handleDatagram(peerAddr(4000), []byte{3})
	m.handleDatagram(peerAddr(4000), []byte{4})

	assert.Len(t, established, 1, "same endpoint must reuse its channel")
	assert.Equal(t, [][]byte{{3}, {4}}, got)
	assert.Equal(t, channel.StatusConnected, established[0].Status())
}

func TestInactivityExpiresAndReopens(t *testing.T) {
	m, clk := newTestManager(t)

	var established, lost []channel.Channel
	m.OnChannelEstablished(func(ch channel.Channel) { established = append(established, ch) })
	m.OnChannelLost(func(ch channel.Channel) { lost = append(lost, ch) })

	m.handleDatagram(peerAddr(4000), []byte{1})
	require.Len(t, established, 1)

	clk.Add(11 * time.Second)
	m.sweepExpired()

	require.Len(t, lost, 1)
	assert.Same(t, established[0], lost[0])
	assert.Equal(t, channel.StatusClosed, lost[0].Status())

	// a datagram after expiry mints a fresh channel
	m.handleDatagram(peerAddr(4000), []byte{2})
	require.Len(t, established, 2)
	assert.NotSame(t, established[0], established[1])
	assert.Equal(t, channel.StatusConnected, established[1].Status())
}

func TestActivityDefersExpiry(t *testing.T) {
	m, clk := newTestManager(t)

	var lost []channel.Channel
	m.OnChannelLost(func(ch channel.Channel) { lost = append(lost, ch) })

	m.handleDatagram(peerAddr(4000), []byte{1})
	clk.Add(9 * time.Second)
	m.handleDatagram(peerAddr(4000), []byte{2})
	clk.Add(9 * time.Second)
	m.sweepExpired()

	assert.Empty(t, lost)
}

func TestDistinctPeersGetDistinctChannels(t *testing.T) {
	m, _ := newTestManager(t)

	var established []channel.Channel
	m.OnChannelEstablished(func(ch channel.Channel) { established = append(established, ch) })

	m.handleDatagram(peerAddr(4000), []byte{1})
	m.handleDatagram(peerAddr(4001), []byte{1})

	require.Len(t, established, 2)
	assert.NotEqual(t, established[0].Name(), established[1].Name())
}

func TestBroadcastIP(t *testing.T) {
	cases := []struct {
		cidr string
		want string
	}{
		{"192.168.1.37/24", "192.168.1.255"},
		{"10.0.0.5/8", "10.255.255.255"},
		{"172.16.4.1/12", "172.31.255.255"},
	}
	for _, tc := range cases {
		_, ipnet, err := net.ParseCIDR(tc.cidr)
		require.NoError(t, err)
		// ParseCIDR masks the host bits off; restore the unicast address
		ip, _, _ := net.ParseCIDR(tc.cidr)
		ipnet.IP = ip

		assert.Equal(t, tc.want, broadcastIP(ipnet).String(), tc.cidr)
	}
}

func TestClosedChannelWriteIsNoop(t *testing.T) {
	m, _ := newTestManager(t)

	var established []channel.Channel
	m.OnChannelEstablished(func(ch channel.Channel) { established = append(established, ch) })
	m.handleDatagram(peerAddr(4000), []byte{1})
	require.Len(t, established, 1)

	ch := established[0]
	ch.Close()
	ch.Close() // idempotent
	assert.NoError(t, ch.WriteSync([]byte{9}))
}
