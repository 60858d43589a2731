// Package manager composes the serial and UDP discovery managers and folds
// their channels into fused devices keyed by identifier.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
	"github.com/xpanvictor/edmolink/pkg/io/device"
	"github.com/xpanvictor/edmolink/pkg/io/serialport"
	"github.com/xpanvictor/edmolink/pkg/io/udpcast"
	"github.com/xpanvictor/edmolink/pkg/protocol"
)

const agingInterval = time.Second

type Config struct {
	UDPPort            int
	SerialPollInterval time.Duration
	BroadcastInterval  time.Duration
	InactivityTimeout  time.Duration
}

// Manager owns every transport channel and device connection. Connections
// are fused in the order their channels were established, so for a device
// reachable both ways the transport that came up first is active; serial is
// not otherwise preferred over UDP.
type Manager struct {
	log *Logger.Logger
	clk clock.Clock

	serial *serialport.Manager
	udp    *udpcast.Manager

	mu        sync.Mutex
	waiting   []*device.Connection
	byChannel map[channel.Channel]*device.Connection
	fused     map[string]*device.FusedDevice

	deviceConnected func(*device.FusedDevice)
	deviceLost      func(*device.FusedDevice)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, log *Logger.Logger, clk clock.Clock) *Manager {
	m := &Manager{
		log:       log.Named("connections"),
		clk:       clk,
		byChannel: make(map[channel.Channel]*device.Connection),
		fused:     make(map[string]*device.FusedDevice),
	}

	m.serial = serialport.NewManager(log, clk, cfg.SerialPollInterval)
	m.udp = udpcast.NewManager(udpcast.Config{
		Port: cfg.UDPPort,
		// devices answer the same identification command they'd get over
		// serial, framed
		PollMessage:       protocol.EncodeIdentify(device.HostLockKey()),
		PollInterval:      cfg.BroadcastInterval,
		InactivityTimeout: cfg.InactivityTimeout,
	}, log, clk)

	m.serial.OnChannelEstablished(m.handleEstablished)
	m.serial.OnChannelLost(m.handleLost)
	m.udp.OnChannelEstablished(m.handleEstablished)
	m.udp.OnChannelLost(m.handleLost)
	return m
}

// OnDeviceConnected fires when a fused device appears for a novel identifier.
func (m *Manager) OnDeviceConnected(f func(*device.FusedDevice)) { m.deviceConnected = f }

// OnDeviceLost fires when a fused device's last member departs.
func (m *Manager) OnDeviceLost(f func(*device.FusedDevice)) { m.deviceLost = f }

func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.serial.Start(m.ctx)
	if err := m.udp.Start(m.ctx); err != nil {
		m.serial.Stop()
		return err
	}

	go func() {
		defer close(m.done)
		ticker := m.clk.Ticker(agingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
	return nil
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.serial.Stop()
	m.udp.Stop()

	m.mu.Lock()
	conns := make([]*device.Connection, 0, len(m.byChannel))
	for _, c := range m.byChannel {
		conns = append(conns, c)
	}
	m.waiting = nil
	m.byChannel = make(map[channel.Channel]*device.Connection)
	m.fused = make(map[string]*device.FusedDevice)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Devices snapshots the current fused devices.
func (m *Manager) Devices() []*device.FusedDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*device.FusedDevice, 0, len(m.fused))
	for _, fd := range m.fused {
		out = append(out, fd)
	}
	return out
}

// Device looks a fused device up by identifier.
func (m *Manager) Device(identifier string) (*device.FusedDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fd, ok := m.fused[identifier]
	return fd, ok
}

func (m *Manager) handleEstablished(ch channel.Channel) {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	conn := device.NewConnection(ctx, ch, m.clk, m.log)

	m.mu.Lock()
	m.waiting = append(m.waiting, conn)
	m.byChannel[ch] = conn
	m.mu.Unlock()
}

// tick ages the waiting list: validated connections are fused, dead ones
// are dropped, the rest keep waiting on their validator.
func (m *Manager) tick() {
	m.mu.Lock()
	var still []*device.Connection
	var ready []*device.Connection
	for _, conn := range m.waiting {
		switch conn.Status() {
		case channel.StatusConnected:
			ready = append(ready, conn)
		case channel.StatusFailed, channel.StatusClosed:
			delete(m.byChannel, conn.Channel())
			conn.Close()
		default:
			still = append(still, conn)
		}
	}
	m.waiting = still
	m.mu.Unlock()

	for _, conn := range ready {
		m.fuse(conn)
	}
}

// fuse folds a validated connection into the fused device for its
// identifier, creating the device on a novel identifier.
func (m *Manager) fuse(conn *device.Connection) {
	id := conn.Identifier()

	m.mu.Lock()
	fd, existing := m.fused[id]
	if !existing {
		fd = device.NewFusedDevice(id, m.log)
		m.fused[id] = fd
	}
	m.mu.Unlock()

	fd.Add(conn)
	if !existing {
		m.log.Infof("device connected: %s", id)
		if m.deviceConnected != nil {
			m.deviceConnected(fd)
		}
	}
}

func (m *Manager) handleLost(ch channel.Channel) {
	m.mu.Lock()
	conn, ok := m.byChannel[ch]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byChannel, ch)
	for i, w := range m.waiting {
		if w == conn {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			break
		}
	}

	var gone *device.FusedDevice
	id := conn.Identifier()
	if id != "" {
		if fd, exists := m.fused[id]; exists {
			fd.Remove(conn)
			if fd.Size() == 0 {
				delete(m.fused, id)
				gone = fd
			}
		}
	}
	m.mu.Unlock()

	conn.Close()
	if gone != nil {
		m.log.Infof("device lost: %s", gone.Identifier())
		if m.deviceLost != nil {
			m.deviceLost(gone)
		}
	}
}
