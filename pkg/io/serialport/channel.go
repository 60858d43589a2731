package serialport

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.bug.st/serial"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
)

const (
	// BaudRate matches the EDMO firmware's serial configuration.
	BaudRate = 9600

	openRetryInterval = 500 * time.Millisecond
	openTimeout       = 3 * time.Second
	readBufSize       = 1024
)

var bufPool = sync.Pool{
	New: func() any { return make([]byte, readBufSize) },
}

// Channel is a serial port channel. It opens asynchronously: construction
// returns a channel in waiting; the open loop retries any open error every
// 500ms within a 3s window before giving up as failed.
type Channel struct {
	channel.StateTracker

	name string
	log  *Logger.Logger
	clk  clock.Clock

	mu     sync.Mutex
	port   serial.Port
	onData channel.DataHandler

	cancel context.CancelFunc
	done   chan struct{}
}

func newChannel(ctx context.Context, name string, clk clock.Clock, log *Logger.Logger) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		name:   name,
		log:    log,
		clk:    clk,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.Transition(channel.StatusWaiting)
	go c.openLoop(ctx)
	return c
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) OnData(h channel.DataHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = h
}

func (c *Channel) openLoop(ctx context.Context) {
	defer close(c.done)

	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	deadline := c.clk.Now().Add(openTimeout)
	var port serial.Port
	for {
		var err error
		port, err = serial.Open(c.name, mode)
		if err == nil {
			break
		}
		if c.clk.Now().After(deadline) {
			c.log.Warnf("giving up on %s: %v", c.name, err)
			c.Transition(channel.StatusFailed)
			return
		}
		select {
		case <-ctx.Done():
			c.Transition(channel.StatusClosed)
			return
		case <-c.clk.After(openRetryInterval):
		}
	}

	// keep DTR up so boards that reset on DTR toggle stay running
	if err := port.SetDTR(true); err != nil {
		c.log.Warnf("set DTR on %s: %v", c.name, err)
	}

	c.mu.Lock()
	c.port = port
	c.mu.Unlock()

	if !c.Transition(channel.StatusConnected) {
		// closed while we were opening
		_ = port.Close()
		return
	}

	c.readLoop(ctx, port)
}

func (c *Channel) readLoop(ctx context.Context, port serial.Port) {
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	for {
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil || c.Status() == channel.StatusClosed {
				c.Transition(channel.StatusClosed)
				return
			}
			c.log.Warnf("read on %s: %v", c.name, err)
			c.Transition(channel.StatusFailed)
			_ = port.Close()
			return
		}
		if n == 0 {
			continue
		}

		c.mu.Lock()
		h := c.onData
		c.mu.Unlock()
		if h != nil {
			h(buf[:n])
		}
	}
}

func (c *Channel) Write(ctx context.Context, p []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.WriteSync(p)
}

func (c *Channel) WriteSync(p []byte) error {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()

	if port == nil || c.Status().Terminal() {
		return nil
	}
	if _, err := port.Write(p); err != nil {
		c.log.Warnf("write on %s: %v", c.name, err)
		return channel.ErrChannelIO
	}
	return nil
}

func (c *Channel) Close() {
	if !c.Transition(channel.StatusClosed) {
		return
	}
	c.cancel()

	c.mu.Lock()
	port := c.port
	c.port = nil
	c.mu.Unlock()

	if port != nil {
		// unblocks the read loop
		_ = port.Close()
	}
}
