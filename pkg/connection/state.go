package connection

import (
	"context"
	"errors"
	"time"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Send when no session is open.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnecting is reported when a connect attempt is in flight.
	ErrAlreadyConnecting = errors.New("connection attempt already in progress")
	// ErrSendBufferFull is returned when the session write queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("connection manager closed")
)

// Conn is one open socket. ReadFrame blocks until a frame arrives or the
// connection fails; Close unblocks it.
type Conn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}

// Pinger is implemented by transports with a keepalive control frame.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dialer opens connections to the companion.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Config holds connection settings.
type Config struct {
	Host string
	Port int

	AutoReconnect  bool
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	// KeepAlive is the transport ping period; zero disables it.
	KeepAlive  time.Duration
	SendBuffer int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           8765,
		AutoReconnect:  true,
		ReconnectDelay: 5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		CloseTimeout:   2 * time.Second,
		KeepAlive:      54 * time.Second,
		SendBuffer:     256,
	}
}

// Stats is a snapshot of the connection.
type Stats struct {
	State            string        `json:"state"`
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
	Uptime           time.Duration `json:"uptime"`
	ServerHost       string        `json:"server_host"`
	ServerPort       int           `json:"server_port"`
	SessionID        string        `json:"session_id,omitempty"`
}
