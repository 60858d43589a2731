package udpcast

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
)

const (
	// DefaultPort is the port EDMO devices listen on for discovery polls.
	DefaultPort = 2121

	DefaultInactivityTimeout = 10 * time.Second

	defaultPollInterval = time.Second
	readBufSize         = 2048
)

type Config struct {
	// Port is the destination port polls are broadcast to.
	Port int
	// PollMessage is broadcast verbatim every poll interval.
	PollMessage []byte
	PollInterval time.Duration
	// InactivityTimeout is how long a peer may stay silent before its
	// channel reports closed.
	InactivityTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
}

// Manager owns one broadcast socket. It polls every IPv4 broadcast domain
// for devices and demultiplexes replies into per-peer channels.
type Manager struct {
	cfg Config
	log *Logger.Logger
	clk clock.Clock

	conn *net.UDPConn

	mu    sync.Mutex
	peers map[string]*Channel
	dead  map[string]bool // broadcast endpoints that errored on send

	established func(channel.Channel)
	lost        func(channel.Channel)

	// injection point for tests
	targets func(port int) []*net.UDPAddr

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, log *Logger.Logger, clk clock.Clock) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		log:     log.Named("udp"),
		clk:     clk,
		peers:   make(map[string]*Channel),
		dead:    make(map[string]bool),
		targets: broadcastTargets,
	}
}

func (m *Manager) OnChannelEstablished(f func(channel.Channel)) { m.established = f }

func (m *Manager) OnChannelLost(f func(channel.Channel)) { m.lost = f }

func (m *Manager) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("bind discovery socket: %w", err)
	}
	m.conn = conn
	m.log.Infof("discovery socket bound to %s", conn.LocalAddr())

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		m.receiveLoop(ctx)
	}()
	go func() {
		wg.Wait()
		close(m.done)
	}()
	return nil
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		// unblocks the receive loop
		_ = m.conn.Close()
	}
	if m.done != nil {
		<-m.done
	}

	m.mu.Lock()
	peers := make([]*Channel, 0, len(m.peers))
	for _, ch := range m.peers {
		peers = append(peers, ch)
	}
	m.peers = make(map[string]*Channel)
	m.mu.Unlock()

	for _, ch := range peers {
		ch.Close()
	}
}

func (m *Manager) pollLoop(ctx context.Context) {
	ticker := m.clk.Ticker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.broadcastPoll()
			m.sweepExpired()
		}
	}
}

func (m *Manager) broadcastPoll() {
	for _, target := range m.targets(m.cfg.Port) {
		key := target.String()
		m.mu.Lock()
		skip := m.dead[key]
		m.mu.Unlock()
		if skip {
			continue
		}

		if _, err := m.conn.WriteToUDP(m.cfg.PollMessage, target); err != nil {
			m.log.Warnf("dropping broadcast endpoint %s: %v", key, err)
			m.mu.Lock()
			m.dead[key] = true
			m.mu.Unlock()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := m.clk.Now()

	m.mu.Lock()
	var expired []*Channel
	for key, ch := range m.peers {
		if ch.expired(now, m.cfg.InactivityTimeout) {
			delete(m.peers, key)
			expired = append(expired, ch)
		}
	}
	m.mu.Unlock()

	for _, ch := range expired {
		m.log.Infof("peer %s went silent", ch.Name())
		ch.Close()
		if m.lost != nil {
			m.lost(ch)
		}
	}
}

func (m *Manager) receiveLoop(ctx context.Context) {
	buf := make([]byte, readBufSize)
	for {
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warnf("receive: %v", err)
			return
		}
		if n == 0 {
			continue
		}
		m.handleDatagram(addr, buf[:n])
	}
}

// handleDatagram routes an inbound datagram to its peer channel, minting a
// fresh channel on first sight or after expiry.
func (m *Manager) handleDatagram(addr *net.UDPAddr, p []byte) {
	now := m.clk.Now()
	key := addr.String()

	m.mu.Lock()
	ch, ok := m.peers[key]
	fresh := !ok || ch.Status().Terminal()
	if fresh {
		ch = newChannel(addr, m.conn, now, m.log)
		m.peers[key] = ch
	}
	m.mu.Unlock()

	if fresh {
		m.log.Infof("new peer %s", key)
		if m.established != nil {
			m.established(ch)
		}
	}
	ch.receive(p, now)
}

// broadcastTargets computes one broadcast endpoint per non-loopback IPv4
// interface by OR-ing the host bits of the unicast address with the inverted
// netmask.
func broadcastTargets(port int) []*net.UDPAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var out []*net.UDPAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			bcast := broadcastIP(ipnet)
			if bcast == nil {
				continue
			}
			out = append(out, &net.UDPAddr{IP: bcast, Port: port})
		}
	}
	return out
}

// broadcastIP is the subnet broadcast address: unicast | ^netmask.
func broadcastIP(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}
