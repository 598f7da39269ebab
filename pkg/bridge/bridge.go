package bridge

// EventKind enumerates connection lifecycle events.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification raised on the network side.
type Event struct {
	Kind    EventKind
	Message string
}

// Inbound is one item handed from the network side to the host side: either
// a raw text frame or a lifecycle event.
type Inbound struct {
	Frame []byte
	Event *Event
}

// Outbound is an encoded frame waiting for the socket. CommandID is set for
// commands whose sender waits on a result.
type Outbound struct {
	CommandID string
	Frame     []byte
}

// Bridge carries frames between the network goroutines and the host tick.
// Inbound holds frames and events for the host; Outbound holds encoded
// frames waiting to be written to the socket.
type Bridge struct {
	Inbound  Queue[Inbound]
	Outbound Queue[Outbound]
}

// New returns an empty bridge.
func New() *Bridge {
	return &Bridge{}
}

// PostFrame queues a frame for the host.
func (b *Bridge) PostFrame(frame []byte) {
	b.Inbound.Push(Inbound{Frame: frame})
}

// PostEvent queues a lifecycle event for the host.
func (b *Bridge) PostEvent(kind EventKind, message string) {
	b.Inbound.Push(Inbound{Event: &Event{Kind: kind, Message: message}})
}
