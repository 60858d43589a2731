package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xpanvictor/edmolink/internal/domains/plugin"
	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/device"
)

// UsageLog persists session lifecycle edges. A nil UsageLog disables
// persistence; every call site checks.
type UsageLog interface {
	SessionStarted(identifier string, at time.Time)
	SessionEnded(identifier string, at time.Time)
	UserJoined(identifier, user string, slot int, at time.Time)
	UserLeft(identifier, user string, slot int, at time.Time)
}

// Manager catalogs candidate devices and active sessions and arbitrates
// admission.
type Manager struct {
	log     *Logger.Logger
	clk     clock.Clock
	factory plugin.Factory
	dataDir string
	usage   UsageLog

	mu         sync.Mutex
	candidates map[string]*device.FusedDevice
	actives    map[string]*Session

	subs []func()
}

type ManagerOptions struct {
	Factory plugin.Factory
	DataDir string
	Usage   UsageLog
	Logger  *Logger.Logger
	Clock   clock.Clock
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = Logger.Nop()
	}
	return &Manager{
		log:        opts.Logger.Named("sessions"),
		clk:        opts.Clock,
		factory:    opts.Factory,
		dataDir:    opts.DataDir,
		usage:      opts.Usage,
		candidates: make(map[string]*device.FusedDevice),
		actives:    make(map[string]*Session),
	}
}

// OnAvailableSessionsUpdated subscribes to changes of the available list.
func (m *Manager) OnAvailableSessionsUpdated(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, f)
}

func (m *Manager) fireAvailableUpdated() {
	m.mu.Lock()
	subs := append([]func(){}, m.subs...)
	m.mu.Unlock()
	for _, f := range subs {
		f()
	}
}

// HandleDeviceConnected registers a candidate; an active session for the
// same identifier rebinds seamlessly.
func (m *Manager) HandleDeviceConnected(fd *device.FusedDevice) {
	id := fd.Identifier()

	m.mu.Lock()
	m.candidates[id] = fd
	active := m.actives[id]
	m.mu.Unlock()

	// lock flips change who may join
	fd.OnLockChanged(func(bool) { m.fireAvailableUpdated() })

	if active != nil && !active.Closed() {
		active.Bind(fd)
	}
	m.fireAvailableUpdated()
}

// HandleDeviceLost drops a candidate and unbinds its session, if any. The
// session itself survives for a future rebind.
func (m *Manager) HandleDeviceLost(fd *device.FusedDevice) {
	id := fd.Identifier()

	m.mu.Lock()
	if m.candidates[id] == fd {
		delete(m.candidates, id)
	}
	active := m.actives[id]
	m.mu.Unlock()

	if active != nil {
		active.Unbind()
	}
	m.fireAvailableUpdated()
}

// AvailableSessions lists identifiers a new controller could join right
// now: unclaimed unlocked candidates, and running sessions with room and a
// bound device.
func (m *Manager) AvailableSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.candidates))
	for id, fd := range m.candidates {
		if s, ok := m.actives[id]; ok && !s.Closed() {
			if s.HasRoom() && s.Bound() {
				out = append(out, id)
			}
			continue
		}
		if !fd.IsLocked() {
			out = append(out, id)
		}
	}
	return out
}

// Session returns the active session for an identifier.
func (m *Manager) Session(identifier string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.actives[identifier]
	return s, ok
}

// AttemptConnectionTo admits a user, lazily creating the session on the
// first controller for a candidate identifier.
func (m *Manager) AttemptConnectionTo(identifier, userName string, events ControllerEvents) (*ControllerContext, error) {
	m.mu.Lock()
	if s, ok := m.actives[identifier]; ok && !s.Closed() {
		m.mu.Unlock()
		ctx, err := s.CreateContext(userName, events)
		m.fireAvailableUpdated()
		return ctx, err
	}

	fd, ok := m.candidates[identifier]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoSuchSession
	}
	if fd.IsLocked() {
		m.mu.Unlock()
		return nil, ErrLockedByOtherHost
	}

	s := New(Options{
		Identifier:            identifier,
		Factory:               m.factory,
		Device:                fd,
		StorageDir:            m.makeStorageDir(identifier),
		Logger:                m.log,
		Clock:                 m.clk,
		Usage:                 m.usage,
		OnAvailabilityChanged: func() { m.sessionChanged(identifier) },
	})
	m.actives[identifier] = s
	m.mu.Unlock()

	if m.usage != nil {
		m.usage.SessionStarted(identifier, m.clk.Now())
	}

	ctx, err := s.CreateContext(userName, events)
	m.fireAvailableUpdated()
	return ctx, err
}

// sessionChanged reaps closed sessions and fans the availability change out.
func (m *Manager) sessionChanged(identifier string) {
	m.mu.Lock()
	if s, ok := m.actives[identifier]; ok && s.Closed() {
		delete(m.actives, identifier)
	}
	m.mu.Unlock()
	m.fireAvailableUpdated()
}

func (m *Manager) makeStorageDir(identifier string) string {
	if m.dataDir == "" {
		return ""
	}
	dir := filepath.Join(m.dataDir, identifier, m.clk.Now().Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.log.Warnf("storage dir %s: %v", dir, err)
		return ""
	}
	return dir
}

// Shutdown closes every active session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.actives))
	for _, s := range m.actives {
		sessions = append(sessions, s)
	}
	m.actives = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
