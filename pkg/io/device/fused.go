package device

import (
	"sync"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/protocol"
)

// FusedDevice unifies every connection that reported the same identifier.
// A device reachable over both serial and UDP is still one device; the
// first surviving connection is the active one and the rest are standby.
// The fused device owns no channel — the connection manager does.
type FusedDevice struct {
	identifier string
	log        *Logger.Logger

	mu    sync.Mutex
	conns []*Connection

	timeSubs []func(uint32)
	oscSubs  []func(int, protocol.OscillatorState)
	imuSubs  []func(protocol.IMUData)
	lockSubs []func(bool)
}

func NewFusedDevice(identifier string, log *Logger.Logger) *FusedDevice {
	return &FusedDevice{
		identifier: identifier,
		log:        log.Named("fused"),
	}
}

func (d *FusedDevice) Identifier() string { return d.identifier }

// Active returns the connection events and writes go through, or nil when
// no member remains.
func (d *FusedDevice) Active() *Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[0]
}

func (d *FusedDevice) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Add appends a connection. The first member becomes active and gets the
// event handlers bound.
func (d *FusedDevice) Add(c *Connection) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	if len(d.conns) == 1 {
		d.bind(c)
	}
	d.mu.Unlock()

	d.log.Infof("%s: added %s (members=%d)", d.identifier, c.Channel().Name(), d.Size())
}

// Remove erases a connection. Removing the active member promotes the next
// in insertion order and rebinds handlers atomically with the promotion.
func (d *FusedDevice) Remove(c *Connection) {
	d.mu.Lock()
	idx := -1
	for i, member := range d.conns {
		if member == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return
	}
	d.conns = append(d.conns[:idx], d.conns[idx+1:]...)
	var promoted *Connection
	if idx == 0 {
		d.unbind(c)
		if len(d.conns) > 0 {
			promoted = d.conns[0]
			d.bind(promoted)
		}
	}
	d.mu.Unlock()

	if promoted != nil {
		d.log.Infof("%s: failover to %s", d.identifier, promoted.Channel().Name())
	}
}

// At most one member has handlers bound at any time.
func (d *FusedDevice) bind(c *Connection) {
	c.OnTime(d.emitTime)
	c.OnOscillatorData(d.emitOscillator)
	c.OnIMUData(d.emitIMU)
	c.OnLockChanged(d.emitLock)
}

func (d *FusedDevice) unbind(c *Connection) {
	c.OnTime(nil)
	c.OnOscillatorData(nil)
	c.OnIMUData(nil)
	c.OnLockChanged(nil)
}

// Projections come from the active member and are zero-valued when the
// member list is empty.

func (d *FusedDevice) OscillatorCount() int {
	if c := d.Active(); c != nil {
		return c.OscillatorCount()
	}
	return 0
}

func (d *FusedDevice) ArmHues() []uint16 {
	if c := d.Active(); c != nil {
		return c.ArmHues()
	}
	return nil
}

func (d *FusedDevice) IsLocked() bool {
	if c := d.Active(); c != nil {
		return c.IsLocked()
	}
	return false
}

// Subscriptions fan typed events from whichever member is active out to
// every external subscriber.

func (d *FusedDevice) OnTime(h func(uint32)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeSubs = append(d.timeSubs, h)
}

func (d *FusedDevice) OnOscillatorData(h func(int, protocol.OscillatorState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oscSubs = append(d.oscSubs, h)
}

func (d *FusedDevice) OnIMUData(h func(protocol.IMUData)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.imuSubs = append(d.imuSubs, h)
}

func (d *FusedDevice) OnLockChanged(h func(bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockSubs = append(d.lockSubs, h)
}

func (d *FusedDevice) emitTime(t uint32) {
	d.mu.Lock()
	subs := append([]func(uint32){}, d.timeSubs...)
	d.mu.Unlock()
	for _, h := range subs {
		h(t)
	}
}

func (d *FusedDevice) emitOscillator(i int, s protocol.OscillatorState) {
	d.mu.Lock()
	subs := append([]func(int, protocol.OscillatorState){}, d.oscSubs...)
	d.mu.Unlock()
	for _, h := range subs {
		h(i, s)
	}
}

func (d *FusedDevice) emitIMU(imu protocol.IMUData) {
	d.mu.Lock()
	subs := append([]func(protocol.IMUData){}, d.imuSubs...)
	d.mu.Unlock()
	for _, h := range subs {
		h(imu)
	}
}

func (d *FusedDevice) emitLock(locked bool) {
	d.mu.Lock()
	subs := append([]func(bool){}, d.lockSubs...)
	d.mu.Unlock()
	for _, h := range subs {
		h(locked)
	}
}

// Writes go through the active member; with no member they are silent
// no-ops, matching channel semantics.

func (d *FusedDevice) SendUpdateOscillator(index uint8, p protocol.OscillatorParams) error {
	if c := d.Active(); c != nil {
		return c.SendUpdateOscillator(index, p)
	}
	return nil
}

func (d *FusedDevice) SendSessionStart(lastTime uint32) error {
	if c := d.Active(); c != nil {
		return c.SendSessionStart(lastTime)
	}
	return nil
}

func (d *FusedDevice) SendSessionEnd() error {
	if c := d.Active(); c != nil {
		return c.SendSessionEnd()
	}
	return nil
}
