package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xpanvictor/edmolink/internal/domains/plugin"
	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/device"
	"github.com/xpanvictor/edmolink/pkg/protocol"
)

// ReconcileInterval is the period of the hardware reconciliation loop.
// Every tick re-asserts the full parameter snapshot, which debounces
// bursty edits and rides over lost packets.
const ReconcileInterval = 50 * time.Millisecond

// Session multiplexes up to oscillator-count concurrent controllers onto
// one fused device. It survives device loss: parameters and users are
// retained so a later rebind is seamless.
type Session struct {
	identifier string
	log        *Logger.Logger
	clk        clock.Clock
	storageDir string
	usage      UsageLog

	// onAvailabilityChanged tells the session manager that admission room
	// changed.
	onAvailabilityChanged func()

	mu       sync.Mutex
	closed   bool
	device   *device.FusedDevice
	params   []protocol.OscillatorParams
	armHues  []uint16
	lastTime uint32
	slots    *slotPool
	users    map[int]*ControllerContext
	started  bool

	plugins []*plugin.Registered

	reconCancel context.CancelFunc
	reconDone   chan struct{}
}

type Options struct {
	Identifier string
	Factory    plugin.Factory
	Device     *device.FusedDevice
	StorageDir string
	Logger     *Logger.Logger
	Clock      clock.Clock
	Usage      UsageLog

	// OnAvailabilityChanged is invoked after membership or lifecycle edges
	// that affect admission.
	OnAvailabilityChanged func()
}

func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = Logger.Nop()
	}
	s := &Session{
		identifier:            opts.Identifier,
		log:                   opts.Logger.Named("session"),
		clk:                   opts.Clock,
		storageDir:            opts.StorageDir,
		usage:                 opts.Usage,
		onAvailabilityChanged: opts.OnAvailabilityChanged,
		slots:                 newSlotPool(0, nil),
		users:                 make(map[int]*ControllerContext),
	}
	if opts.Factory != nil {
		for i, p := range opts.Factory(s.hostFor()) {
			s.plugins = append(s.plugins, plugin.Register(p, i))
		}
	}
	if opts.Device != nil {
		s.Bind(opts.Device)
	}
	return s
}

func (s *Session) Identifier() string { return s.identifier }

// Bound reports whether a device currently backs the session.
func (s *Session) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil
}

// HasRoom reports whether another controller can be admitted.
func (s *Session) HasRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.slots.size() > 0
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Players lists connected user names ordered by slot.
func (s *Session) Players() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playersLocked()
}

func (s *Session) playersLocked() []string {
	out := make([]string, 0, len(s.users))
	for i := 0; i < len(s.params); i++ {
		if ctx, ok := s.users[i]; ok {
			out = append(out, ctx.name)
		}
	}
	return out
}

// Bind attaches a fused device: parameters grow to the device's oscillator
// count (never shrink), the host snapshot is re-asserted, and the
// reconciliation loop starts.
func (s *Session) Bind(fd *device.FusedDevice) {
	count := fd.OscillatorCount()

	s.mu.Lock()
	if s.closed || s.device == fd {
		s.mu.Unlock()
		return
	}
	s.device = fd

	for len(s.params) < count {
		s.params = append(s.params, protocol.DefaultParams())
	}
	occupied := make(map[int]bool, len(s.users))
	for slot := range s.users {
		occupied[slot] = true
	}
	s.slots.rebuild(count, occupied)
	s.armHues = fd.ArmHues()

	snapshot := make([]protocol.OscillatorParams, len(s.params))
	copy(snapshot, s.params)
	lastTime := s.lastTime
	firstBind := !s.started
	s.started = true
	s.mu.Unlock()

	// reassert host state, then open the device-side session
	for i, p := range snapshot {
		_ = fd.SendUpdateOscillator(uint8(i), p)
	}
	_ = fd.SendSessionStart(lastTime)

	fd.OnTime(func(t uint32) { s.handleTime(fd, t) })
	fd.OnOscillatorData(func(i int, st protocol.OscillatorState) { s.handleOscillatorData(fd, i, st) })
	fd.OnIMUData(func(imu protocol.IMUData) { s.handleIMU(fd, imu) })

	s.startReconcile()

	if firstBind {
		for _, p := range s.plugins {
			p.EmitSessionStarted()
		}
	}
	s.log.Infof("%s: bound to device (%d oscillators)", s.identifier, count)
}

// Unbind detaches the device but keeps parameters and users so the session
// picks up where it left off on the next bind.
func (s *Session) Unbind() {
	s.stopReconcile()

	s.mu.Lock()
	s.device = nil
	s.mu.Unlock()
	s.log.Infof("%s: device unbound", s.identifier)
}

// handlers drop events from a device that is no longer bound; the fused
// device's subscriber list cannot be unsubscribed, so the guard is here.

func (s *Session) handleTime(fd *device.FusedDevice, t uint32) {
	s.mu.Lock()
	if s.device != fd {
		s.mu.Unlock()
		return
	}
	s.lastTime = t
	s.mu.Unlock()
}

func (s *Session) handleOscillatorData(fd *device.FusedDevice, index int, st protocol.OscillatorState) {
	s.mu.Lock()
	live := s.device == fd
	plugins := s.plugins
	s.mu.Unlock()
	if !live {
		return
	}
	for _, p := range plugins {
		p.EmitOscillatorData(index, st)
	}
}

func (s *Session) handleIMU(fd *device.FusedDevice, imu protocol.IMUData) {
	s.mu.Lock()
	live := s.device == fd
	plugins := s.plugins
	s.mu.Unlock()
	if !live {
		return
	}
	for _, p := range plugins {
		p.EmitIMUData(imu)
	}
}

// CreateContext admits a user onto the lowest free slot.
func (s *Session) CreateContext(userName string, events ControllerEvents) (*ControllerContext, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	slot, ok := s.slots.take()
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionFull
	}
	ctx := &ControllerContext{session: s, slot: slot, name: userName, events: events}
	s.users[slot] = ctx
	s.broadcastPlayerListLocked()
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		p.EmitUserJoined(slot, userName)
	}
	if s.usage != nil {
		s.usage.UserJoined(s.identifier, userName, slot, s.clk.Now())
	}
	s.notifyAvailability()
	s.log.Infof("%s: %q took slot %d", s.identifier, userName, slot)
	return ctx, nil
}

// removeContext hands the slot back; the last departure closes the session.
func (s *Session) removeContext(ctx *ControllerContext) {
	s.mu.Lock()
	if s.users[ctx.slot] != ctx {
		s.mu.Unlock()
		return
	}
	for _, p := range s.plugins {
		p.EmitUserLeft(ctx.slot, ctx.name)
	}
	delete(s.users, ctx.slot)
	s.slots.release(ctx.slot)
	s.broadcastPlayerListLocked()
	empty := len(s.users) == 0
	s.mu.Unlock()

	s.log.Infof("%s: %q left slot %d", s.identifier, ctx.name, ctx.slot)
	if s.usage != nil {
		s.usage.UserLeft(s.identifier, ctx.name, ctx.slot, s.clk.Now())
	}
	if empty {
		s.Close()
	}
	s.notifyAvailability()
}

func (s *Session) broadcastPlayerListLocked() {
	players := s.playersLocked()
	for _, ctx := range s.users {
		ctx.events.PlayerListUpdated(players)
	}
}

func (s *Session) paramsFor(slot int) protocol.OscillatorParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.params) {
		return protocol.DefaultParams()
	}
	return s.params[slot]
}

func (s *Session) armHueFor(slot int) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.armHues) {
		return 0
	}
	return s.armHues[slot]
}

// setFrequencyFromSlot writes the shared frequency through one slot's
// authority; every oscillator follows and everyone else hears about it.
func (s *Session) setFrequencyFromSlot(slot int, value float32) {
	s.mu.Lock()
	if s.closed || len(s.params) == 0 || s.params[0].Frequency == value {
		s.mu.Unlock()
		return
	}
	for i := range s.params {
		s.params[i].Frequency = value
	}
	others := s.otherControllersLocked(slot)
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		p.EmitFrequencyChanged(slot, value)
	}
	for _, ctx := range others {
		ctx.events.ParamsUpdatedExternally()
	}
}

func (s *Session) setAmplitudeFromSlot(slot int, value float32) {
	s.mu.Lock()
	if s.closed || slot >= len(s.params) || s.params[slot].Amplitude == value {
		s.mu.Unlock()
		return
	}
	s.params[slot].Amplitude = value
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		p.EmitAmplitudeChanged(slot, value)
	}
}

func (s *Session) setOffsetFromSlot(slot int, value float32) {
	s.mu.Lock()
	if s.closed || slot >= len(s.params) || s.params[slot].Offset == value {
		s.mu.Unlock()
		return
	}
	s.params[slot].Offset = value
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		p.EmitOffsetChanged(slot, value)
	}
}

// setPhaseShiftFromSlot also tells the other controllers: a phase shift
// only means anything relative to their oscillators.
func (s *Session) setPhaseShiftFromSlot(slot int, value float32) {
	s.mu.Lock()
	if s.closed || slot >= len(s.params) || s.params[slot].PhaseShift == value {
		s.mu.Unlock()
		return
	}
	s.params[slot].PhaseShift = value
	others := s.otherControllersLocked(slot)
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		p.EmitPhaseShiftChanged(slot, value)
	}
	for _, ctx := range others {
		ctx.events.ExternalRelationChanged()
	}
}

func (s *Session) otherControllersLocked(slot int) []*ControllerContext {
	out := make([]*ControllerContext, 0, len(s.users))
	for sl, ctx := range s.users {
		if sl != slot {
			out = append(out, ctx)
		}
	}
	return out
}

func (s *Session) allControllersLocked() []*ControllerContext {
	out := make([]*ControllerContext, 0, len(s.users))
	for _, ctx := range s.users {
		out = append(out, ctx)
	}
	return out
}

// startReconcile runs the 50ms loop while bound: plugin updates first in
// priority order, then the full parameter snapshot goes to the device.
func (s *Session) startReconcile() {
	s.stopReconcile()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.reconCancel = cancel
	s.reconDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := s.clk.Ticker(ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reconcile()
			}
		}
	}()
}

func (s *Session) stopReconcile() {
	s.mu.Lock()
	cancel := s.reconCancel
	done := s.reconDone
	s.reconCancel = nil
	s.reconDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Session) reconcile() {
	s.mu.Lock()
	fd := s.device
	snapshot := make([]protocol.OscillatorParams, len(s.params))
	copy(snapshot, s.params)
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		p.EmitUpdate()
	}
	if fd == nil {
		return
	}
	for i, params := range snapshot {
		_ = fd.SendUpdateOscillator(uint8(i), params)
	}
}

// Close tears the session down: the device is returned to defaults, the
// device-side session ends, plugins are told and disposed. Closed sessions
// never reopen.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stopReconcile()

	s.mu.Lock()
	fd := s.device
	s.device = nil
	count := len(s.params)
	plugins := s.plugins
	s.plugins = nil
	s.mu.Unlock()

	if fd != nil {
		// teardown writes are fire-and-forget
		for i := 0; i < count; i++ {
			_ = fd.SendUpdateOscillator(uint8(i), protocol.DefaultParams())
		}
		_ = fd.SendSessionEnd()
	}

	if s.usage != nil {
		s.usage.SessionEnded(s.identifier, s.clk.Now())
	}
	s.notifyAvailability()
	for _, p := range plugins {
		p.EmitSessionEnded()
	}
	s.log.Infof("%s: session closed", s.identifier)
}

func (s *Session) notifyAvailability() {
	if s.onAvailabilityChanged != nil {
		s.onAvailabilityChanged()
	}
}
