package udpcast

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
)

// Channel is one UDP peer as seen through the manager's shared socket.
// It is minted on the first datagram from an endpoint and reports closed
// once the peer has been silent longer than the inactivity timeout; a later
// datagram from the same endpoint mints a fresh channel.
type Channel struct {
	channel.StateTracker

	peer *net.UDPAddr
	conn *net.UDPConn
	log  *Logger.Logger

	mu       sync.Mutex
	onData   channel.DataHandler
	lastSeen time.Time
}

func newChannel(peer *net.UDPAddr, conn *net.UDPConn, now time.Time, log *Logger.Logger) *Channel {
	c := &Channel{
		peer:     peer,
		conn:     conn,
		log:      log,
		lastSeen: now,
	}
	c.Transition(channel.StatusConnected)
	return c
}

func (c *Channel) Name() string { return c.peer.String() }

func (c *Channel) OnData(h channel.DataHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = h
}

// receive is called from the manager's single receive loop, which keeps
// delivery serialized per channel.
func (c *Channel) receive(p []byte, now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	h := c.onData
	c.mu.Unlock()
	if h != nil {
		h(p)
	}
}

func (c *Channel) expired(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen) > timeout
}

func (c *Channel) Write(ctx context.Context, p []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.WriteSync(p)
}

func (c *Channel) WriteSync(p []byte) error {
	if c.Status().Terminal() {
		return nil
	}
	if _, err := c.conn.WriteToUDP(p, c.peer); err != nil {
		c.log.Warnf("write to %s: %v", c.peer, err)
		return channel.ErrChannelIO
	}
	return nil
}

// Close marks the channel closed. The socket is the manager's; it stays open.
func (c *Channel) Close() {
	c.Transition(channel.StatusClosed)
}

var _ channel.Channel = (*Channel)(nil)
