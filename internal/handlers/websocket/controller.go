// Package websocket adapts a controller's session membership onto a
// websocket peer. The session core never sees the transport; it only talks
// to the ControllerEvents interface.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xpanvictor/edmolink/internal/domains/plugin"
	"github.com/xpanvictor/edmolink/internal/domains/session"
	"github.com/xpanvictor/edmolink/pkg/Logger"
)

// Message types for WebSocket communication
type MessageType string

const (
	MessageTypeWelcome    MessageType = "welcome"
	MessageTypePlayers    MessageType = "players"
	MessageTypeParams     MessageType = "params_updated"
	MessageTypeRelation   MessageType = "relation_changed"
	MessageTypeFeedback   MessageType = "feedback"
	MessageTypeObjectives MessageType = "objectives"
	MessageTypeError      MessageType = "error"
)

// WSMessage is the envelope for everything the server pushes.
type WSMessage struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Command is what a controller sends back: one parameter write at a time.
type Command struct {
	Type  string  `json:"type"`
	Value float32 `json:"value"`
}

type objectiveView struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
}

type objectiveGroupView struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Objectives  []objectiveView `json:"objectives"`
}

const (
	sendBufferSize = 32
	writeTimeout   = 5 * time.Second
)

// Controller pumps session events to one websocket peer and parameter
// commands back into its slot.
type Controller struct {
	conn *websocket.Conn
	log  *Logger.Logger

	send chan WSMessage
	done chan struct{}

	mu  sync.Mutex
	ctx *session.ControllerContext

	closeOnce sync.Once
}

func NewController(conn *websocket.Conn, log *Logger.Logger) *Controller {
	c := &Controller{
		conn: conn,
		log:  log.Named("controller"),
		send: make(chan WSMessage, sendBufferSize),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Attach hands over the admitted slot and greets the peer.
func (c *Controller) Attach(ctx *session.ControllerContext) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	params := ctx.Params()
	c.enqueue(WSMessage{Type: MessageTypeWelcome, Data: map[string]interface{}{
		"slot":       ctx.Slot(),
		"hue":        ctx.ArmHue(),
		"frequency":  params.Frequency,
		"amplitude":  params.Amplitude,
		"offset":     params.Offset,
		"phaseShift": params.PhaseShift,
	}})
}

// SendError reports an admission failure. It writes straight to the socket,
// bypassing the send queue, so the message is out before a following Close.
func (c *Controller) SendError(message string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteJSON(WSMessage{Type: MessageTypeError, Data: message})
}

// session.ControllerEvents. These run inside the session's bookkeeping, so
// they only enqueue; the pump does the writing.

func (c *Controller) PlayerListUpdated(players []string) {
	c.enqueue(WSMessage{Type: MessageTypePlayers, Data: players})
}

func (c *Controller) ParamsUpdatedExternally() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		return
	}
	params := ctx.Params()
	c.enqueue(WSMessage{Type: MessageTypeParams, Data: map[string]interface{}{
		"frequency":  params.Frequency,
		"amplitude":  params.Amplitude,
		"offset":     params.Offset,
		"phaseShift": params.PhaseShift,
	}})
}

func (c *Controller) ExternalRelationChanged() {
	c.enqueue(WSMessage{Type: MessageTypeRelation})
}

func (c *Controller) FeedbackReceived(message string) {
	c.enqueue(WSMessage{Type: MessageTypeFeedback, Data: message})
}

func (c *Controller) ObjectivesPublished(group *plugin.ObjectiveGroup) {
	view := objectiveGroupView{Title: group.Title, Description: group.Description}
	for _, o := range group.Objectives {
		view.Objectives = append(view.Objectives, objectiveView{
			Title:       o.Title,
			Description: o.Description,
			Completed:   o.Completed(),
		})
	}
	c.enqueue(WSMessage{Type: MessageTypeObjectives, Data: view})
}

// enqueue never blocks the session; a peer that cannot keep up loses
// messages and catches up from the next snapshot.
func (c *Controller) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warnf("dropping %s message for slow peer", msg.Type)
	}
}

func (c *Controller) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadLoop consumes parameter commands until the peer goes away, then
// gives the slot back.
func (c *Controller) ReadLoop() {
	defer c.Close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.log.Warnf("bad command: %v", err)
			continue
		}
		c.apply(cmd)
	}
}

func (c *Controller) apply(cmd Command) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		return
	}

	switch cmd.Type {
	case "frequency":
		ctx.SetFrequency(cmd.Value)
	case "amplitude":
		ctx.SetAmplitude(cmd.Value)
	case "offset":
		ctx.SetOffset(cmd.Value)
	case "phase_shift":
		ctx.SetPhaseShift(cmd.Value)
	case "reset":
		ctx.Reset()
	default:
		c.log.Warnf("unknown command type %q", cmd.Type)
	}
}

// Close releases the slot and the socket; safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		ctx := c.ctx
		c.ctx = nil
		c.mu.Unlock()
		if ctx != nil {
			ctx.Leave()
		}
		_ = c.conn.Close()
	})
}
