package serialport

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
)

const defaultPollInterval = time.Second

// Manager diff-polls the OS serial enumeration and maintains one channel
// per physically present port.
type Manager struct {
	log      *Logger.Logger
	clk      clock.Clock
	interval time.Duration

	mu      sync.Mutex
	tracked map[string]channel.Channel
	active  map[string]bool

	established func(channel.Channel)
	lost        func(channel.Channel)

	// injection points for tests
	enumerate func() ([]string, error)
	open      func(ctx context.Context, name string) channel.Channel

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(log *Logger.Logger, clk clock.Clock, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	m := &Manager{
		log:       log.Named("serial"),
		clk:       clk,
		interval:  interval,
		tracked:   make(map[string]channel.Channel),
		active:    make(map[string]bool),
		enumerate: enumeratePorts,
	}
	m.open = func(ctx context.Context, name string) channel.Channel {
		return newChannel(ctx, name, m.clk, m.log)
	}
	return m
}

// OnChannelEstablished registers the callback fired once a port's channel
// reaches connected.
func (m *Manager) OnChannelEstablished(f func(channel.Channel)) { m.established = f }

// OnChannelLost registers the callback fired when an active port disappears
// from the enumeration or its channel fails or closes.
func (m *Manager) OnChannelLost(f func(channel.Channel)) { m.lost = f }

func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := m.clk.Ticker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.poll(ctx)
			}
		}
	}()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	channels := make([]channel.Channel, 0, len(m.tracked))
	for _, ch := range m.tracked {
		channels = append(channels, ch)
	}
	m.tracked = make(map[string]channel.Channel)
	m.active = make(map[string]bool)
	m.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}

func (m *Manager) poll(ctx context.Context) {
	names, err := m.enumerate()
	if err != nil {
		m.log.Warnf("enumerate ports: %v", err)
		return
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	type announcement struct {
		ch   channel.Channel
		lost bool
	}
	var pending []announcement

	m.mu.Lock()
	for name := range present {
		if _, ok := m.tracked[name]; !ok {
			m.tracked[name] = m.open(ctx, name)
		}
	}
	for name, ch := range m.tracked {
		switch {
		case !present[name]:
			wasActive := m.active[name]
			delete(m.tracked, name)
			delete(m.active, name)
			if wasActive {
				pending = append(pending, announcement{ch, true})
			} else {
				ch.Close()
			}
		case !m.active[name] && ch.Status() == channel.StatusConnected:
			m.active[name] = true
			pending = append(pending, announcement{ch, false})
		case !m.active[name] && ch.Status().Terminal():
			delete(m.tracked, name)
			ch.Close()
		case m.active[name] && ch.Status().Terminal():
			delete(m.tracked, name)
			delete(m.active, name)
			pending = append(pending, announcement{ch, true})
		}
	}
	m.mu.Unlock()

	for _, a := range pending {
		if a.lost {
			m.log.Infof("serial port lost: %s", a.ch.Name())
			a.ch.Close()
			if m.lost != nil {
				m.lost(a.ch)
			}
		} else {
			m.log.Infof("serial port established: %s", a.ch.Name())
			if m.established != nil {
				m.established(a.ch)
			}
		}
	}
}

// enumeratePorts lists candidate port names. The name list is intersected
// with the device-instance enumeration because some hosts keep reporting
// phantom names after a board is unplugged.
func enumeratePorts() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// instance data unavailable; trust the plain listing
		return names, nil
	}
	instances := make(map[string]bool, len(details))
	for _, d := range details {
		instances[d.Name] = true
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if instances[n] {
			out = append(out, n)
		}
	}
	return out, nil
}
