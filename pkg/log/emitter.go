package log

import (
	"time"

	"github.com/shipproto/ship-go/pkg/wire"
)

// MaxFrameDataSize is the maximum frame data included in a FrameEvent.
// Larger frames are truncated.
const MaxFrameDataSize = 4096

// Emitter stamps the metadata of one connection onto events before
// handing them to a Logger. A nil *Emitter or nil Logger drops events.
type Emitter struct {
	logger     Logger
	connID     string
	role       Role
	peerID     string
	remoteAddr string
	now        func() time.Time
}

// NewEmitter creates an emitter for connection connID.
func NewEmitter(logger Logger, connID string, role Role) *Emitter {
	return &Emitter{
		logger: logger,
		connID: connID,
		role:   role,
		now:    time.Now,
	}
}

// WithPeer returns a copy that also stamps the peer identity and address.
func (e *Emitter) WithPeer(peerID, remoteAddr string) *Emitter {
	if e == nil {
		return nil
	}
	c := *e
	c.peerID = peerID
	c.remoteAddr = remoteAddr
	return &c
}

// Enabled reports whether events are delivered anywhere.
func (e *Emitter) Enabled() bool {
	return e != nil && e.logger != nil
}

func (e *Emitter) emit(ev Event) {
	if !e.Enabled() {
		return
	}
	ev.Timestamp = e.now()
	ev.ConnectionID = e.connID
	ev.LocalRole = e.role
	ev.PeerID = e.peerID
	ev.RemoteAddr = e.remoteAddr
	e.logger.Log(ev)
}

// Frame records raw frame bytes. overhead is added to the reported size
// for transport framing such as a length prefix.
func (e *Emitter) Frame(dir Direction, data []byte, overhead int) {
	if !e.Enabled() {
		return
	}
	fe := &FrameEvent{Size: overhead + len(data), Data: data}
	if len(data) > MaxFrameDataSize {
		fe.Data = data[:MaxFrameDataSize]
		fe.Truncated = true
	}
	e.emit(Event{Direction: dir, Layer: LayerTransport, Category: CategoryMessage, Frame: fe})
}

// Message records a decoded frame handled by layer.
func (e *Emitter) Message(dir Direction, layer Layer, f wire.Frame) {
	if !e.Enabled() {
		return
	}
	e.emit(Event{
		Direction: dir,
		Layer:     layer,
		Category:  CategoryMessage,
		Message: &MessageEvent{
			Type:        f.Type,
			Summary:     f.String(),
			PayloadSize: len(f.Payload),
		},
	})
}

// State records a state transition.
func (e *Emitter) State(layer Layer, entity StateEntity, oldState, newState, reason string) {
	e.emit(Event{
		Layer:    layer,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Control records a transport control message.
func (e *Emitter) Control(dir Direction, typ ControlMsgType, closeCode *int) {
	e.emit(Event{
		Direction:  dir,
		Layer:      LayerTransport,
		Category:   CategoryControl,
		ControlMsg: &ControlMsgEvent{Type: typ, CloseCode: closeCode},
	})
}

// Error records a terminal error.
func (e *Emitter) Error(layer Layer, kind string, err error, context string) {
	if err == nil {
		return
	}
	e.emit(Event{
		Layer:    layer,
		Category: CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Kind:    kind,
			Context: context,
		},
	})
}
