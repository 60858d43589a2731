package device

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/channel"
	"github.com/xpanvictor/edmolink/pkg/protocol"
)

// ValidationTimeout is how long a channel has to identify itself as an EDMO
// device before the connection is written off.
const ValidationTimeout = 3 * time.Second

// hostLockKey is the process-wide 128-bit soft-lock key. Stable for the
// process lifetime so this host can retake a lock it already holds.
var hostLockKey = uuid.New()

// HostLockKey returns the key sent in every Identify command.
func HostLockKey() uuid.UUID { return hostLockKey }

const (
	stateWaiting   = "waiting"
	stateConnected = "connected"
	stateFailed    = "failed"
	stateClosed    = "closed"
)

// Connection validates a channel as an EDMO device and turns its byte
// stream into typed events. Construction immediately sends Identify and
// arms the validation deadline.
type Connection struct {
	ch  channel.Channel
	log *Logger.Logger
	clk clock.Clock

	machine *fsm.FSM

	mu         sync.Mutex
	identifier string
	armHues    []uint16
	locked     bool

	onTime          func(uint32)
	onOscillator    func(int, protocol.OscillatorState)
	onIMU           func(protocol.IMUData)
	onLockChanged   func(bool)
	onUnknownPacket func([]byte)

	identified chan struct{}
	cancel     context.CancelFunc
}

func NewConnection(ctx context.Context, ch channel.Channel, clk clock.Clock, log *Logger.Logger) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		ch:         ch,
		log:        log.Named("device"),
		clk:        clk,
		identified: make(chan struct{}),
		cancel:     cancel,
	}
	c.machine = fsm.NewFSM(
		stateWaiting,
		fsm.Events{
			{Name: "identified", Src: []string{stateWaiting}, Dst: stateConnected},
			{Name: "timeout", Src: []string{stateWaiting}, Dst: stateFailed},
			{Name: "close", Src: []string{stateWaiting, stateConnected}, Dst: stateClosed},
		},
		fsm.Callbacks{},
	)

	reframer := newReframer(c.dispatch)
	ch.OnData(reframer.feed)

	if err := ch.WriteSync(protocol.EncodeIdentify(hostLockKey)); err != nil {
		c.log.Warnf("identify on %s: %v", ch.Name(), err)
	}
	go c.validate(ctx)
	return c
}

// validate enforces the identification deadline.
func (c *Connection) validate(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.identified:
	case <-c.clk.After(ValidationTimeout):
		if c.machine.Current() == stateWaiting {
			c.log.Infof("%s did not identify in time", c.ch.Name())
			_ = c.machine.Event(context.Background(), "timeout")
			c.ch.Close()
		}
	}
}

// Status folds the channel's terminal states over the connection's own.
func (c *Connection) Status() channel.Status {
	if s := c.ch.Status(); s.Terminal() {
		return s
	}
	switch c.machine.Current() {
	case stateConnected:
		return channel.StatusConnected
	case stateFailed:
		return channel.StatusFailed
	case stateClosed:
		return channel.StatusClosed
	}
	return channel.StatusWaiting
}

func (c *Connection) Channel() channel.Channel { return c.ch }

func (c *Connection) Identifier() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identifier
}

func (c *Connection) OscillatorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.armHues)
}

func (c *Connection) ArmHues() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	hues := make([]uint16, len(c.armHues))
	copy(hues, c.armHues)
	return hues
}

func (c *Connection) IsLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

func (c *Connection) OnTime(h func(uint32)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTime = h
}

func (c *Connection) OnOscillatorData(h func(int, protocol.OscillatorState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOscillator = h
}

func (c *Connection) OnIMUData(h func(protocol.IMUData)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIMU = h
}

func (c *Connection) OnLockChanged(h func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLockChanged = h
}

func (c *Connection) OnUnknownPacket(h func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnknownPacket = h
}

// dispatch routes one unescaped payload. Parse failures never demote the
// connection; they surface through the unknown-packet event and the stream
// resynchronizes on the next header.
func (c *Connection) dispatch(payload []byte) {
	tag := protocol.PacketType(payload[0])
	body := payload[1:]

	switch tag {
	case protocol.PacketIdentify:
		id, err := protocol.DecodeIdentification(body)
		if err != nil {
			c.unknown(payload)
			return
		}
		c.applyIdentification(id)

	case protocol.PacketGetTime:
		t, err := protocol.DecodeTime(body)
		if err != nil {
			c.unknown(payload)
			return
		}
		c.emitTime(t)

	case protocol.PacketSendMotorData:
		md, err := protocol.DecodeMotorData(body)
		if err != nil {
			c.unknown(payload)
			return
		}
		c.emitOscillator(int(md.Index), md.State)

	case protocol.PacketSendImuData:
		imu, err := protocol.DecodeIMU(body)
		if err != nil {
			c.unknown(payload)
			return
		}
		c.emitIMU(imu)

	case protocol.PacketSendAllData:
		all, err := protocol.DecodeAllData(body, c.OscillatorCount())
		if err != nil {
			c.unknown(payload)
			return
		}
		c.emitTime(all.Time)
		for i, state := range all.Oscillators {
			c.emitOscillator(i, state)
		}
		c.emitIMU(all.IMU)

	default:
		c.unknown(payload)
	}
}

// applyIdentification installs the identity; the identifier is set last so
// a reader that sees it also sees a complete hue table.
func (c *Connection) applyIdentification(id protocol.Identification) {
	c.mu.Lock()
	lockChanged := c.locked != id.Locked
	c.locked = id.Locked
	c.armHues = id.ArmHues
	first := c.identifier == ""
	c.identifier = id.Identifier
	lockHandler := c.onLockChanged
	c.mu.Unlock()

	if lockChanged && lockHandler != nil {
		lockHandler(id.Locked)
	}

	if first {
		close(c.identified)
		if err := c.machine.Event(context.Background(), "identified"); err == nil {
			c.log.Infof("identified %s as %q (%d oscillators, locked=%v)",
				c.ch.Name(), id.Identifier, id.OscillatorCount(), id.Locked)
		}
	}
}

func (c *Connection) emitTime(t uint32) {
	c.mu.Lock()
	h := c.onTime
	c.mu.Unlock()
	if h != nil {
		h(t)
	}
}

func (c *Connection) emitOscillator(i int, s protocol.OscillatorState) {
	c.mu.Lock()
	h := c.onOscillator
	c.mu.Unlock()
	if h != nil {
		h(i, s)
	}
}

func (c *Connection) emitIMU(imu protocol.IMUData) {
	c.mu.Lock()
	h := c.onIMU
	c.mu.Unlock()
	if h != nil {
		h(imu)
	}
}

func (c *Connection) unknown(payload []byte) {
	c.mu.Lock()
	h := c.onUnknownPacket
	c.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

// SendUpdateOscillator pushes one oscillator's parameters to the device.
func (c *Connection) SendUpdateOscillator(index uint8, p protocol.OscillatorParams) error {
	return c.ch.WriteSync(protocol.EncodeUpdateOscillator(index, p))
}

// SendSessionStart opens a device-side session at the given time.
func (c *Connection) SendSessionStart(lastTime uint32) error {
	return c.ch.WriteSync(protocol.EncodeSessionStart(lastTime))
}

// SendSessionEnd closes the device-side session.
func (c *Connection) SendSessionEnd() error {
	return c.ch.WriteSync(protocol.EncodeSessionEnd())
}

// Close tears the connection down along with its channel.
func (c *Connection) Close() {
	_ = c.machine.Event(context.Background(), "close")
	c.cancel()
	c.ch.Close()
}
