package connection

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"synbridge/pkg/bridge"
)

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.log = logger
		}
	}
}

// WithClock replaces the time source used for uptime.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the connection state machine and at most one live session.
// Connect, Disconnect, Send and Tick are meant to be called from the host
// goroutine; the session goroutines talk back only through the bridge.
type Manager struct {
	cfg    Config
	dialer Dialer
	bridge *bridge.Bridge
	log    *zap.Logger
	now    func() time.Time

	state    atomic.Int32
	sent     atomic.Int64
	received atomic.Int64
	closed   atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	session *session

	// touched only by Tick
	reconnectElapsed time.Duration

	wg sync.WaitGroup
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config, dialer Dialer, b *bridge.Bridge, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		bridge: b,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether a session is open.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Connect starts a connection attempt in the background. It returns false
// when an attempt is already in flight, a session is open, or the manager is
// closed.
func (m *Manager) Connect() bool {
	if m.closed.Load() {
		return false
	}
	if !m.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		m.log.Debug("connect ignored", zap.Stringer("state", m.State()), zap.NamedError("reason", ErrAlreadyConnecting))
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.log.Info("connecting", zap.String("host", m.cfg.Host), zap.Int("port", m.cfg.Port))

	m.wg.Add(1)
	go m.dial(ctx, cancel)
	return true
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc) {
	defer m.wg.Done()

	dctx, dcancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, err := m.dialer.Dial(dctx)
	dcancel()

	if err != nil {
		// read before cancel; a dial timeout leaves ctx itself alive
		cancelled := ctx.Err() != nil
		cancel()
		m.state.Store(int32(Disconnected))
		if cancelled {
			m.log.Info("connect cancelled")
			return
		}
		m.log.Warn("connection failed", zap.Error(err))
		m.bridge.PostEvent(bridge.EventError, "Connection failed: "+err.Error())
		return
	}
	if ctx.Err() != nil {
		_ = conn.Close()
		m.state.Store(int32(Disconnected))
		m.log.Info("connect cancelled")
		return
	}

	s := newSession(ctx, cancel, conn, m)
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	m.state.Store(int32(Connected))
	m.log.Info("connected", zap.String("session", s.id))
	m.bridge.PostEvent(bridge.EventConnected, "Connected to "+m.endpoint())

	s.start()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.teardown(s, s.wait())
	}()
}

// teardown runs once per session after its goroutines have returned.
func (m *Manager) teardown(s *session, err error) {
	s.end.Do(func() {
		_ = s.conn.Close()

		m.mu.Lock()
		if m.session == s {
			m.session = nil
		}
		m.mu.Unlock()
		m.state.Store(int32(Disconnected))

		msg := "Disconnected"
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			m.log.Info("session closed", zap.String("session", s.id))
		case IsNormalClose(err):
			msg = "Disconnected by peer"
			m.log.Info("session closed by peer", zap.String("session", s.id))
		default:
			msg = "Disconnected: " + err.Error()
			m.log.Warn("session ended", zap.String("session", s.id), zap.Error(err))
		}
		m.bridge.PostEvent(bridge.EventDisconnected, msg)
		close(s.done)
	})
}

// Disconnect cancels an in-flight attempt or closes the open session and
// waits for its goroutines, bounded by CloseTimeout.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	s := m.session
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s == nil {
		return
	}

	select {
	case <-s.done:
	case <-time.After(m.cfg.CloseTimeout):
		m.log.Warn("session did not stop in time", zap.String("session", s.id))
	}
}

// Send queues frame on the open session.
func (m *Manager) Send(frame []byte) error {
	if m.State() != Connected {
		m.log.Warn("send while not connected", zap.Int("bytes", len(frame)))
		return ErrNotConnected
	}
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.enqueue(frame)
}

// Tick advances the reconnect timer by dt while disconnected.
func (m *Manager) Tick(dt time.Duration) {
	if !m.cfg.AutoReconnect || m.closed.Load() || m.State() != Disconnected {
		m.reconnectElapsed = 0
		return
	}
	m.reconnectElapsed += dt
	if m.reconnectElapsed >= m.cfg.ReconnectDelay {
		m.reconnectElapsed = 0
		m.log.Info("attempting reconnect")
		m.Connect()
	}
}

// Stats returns a snapshot of the connection counters.
func (m *Manager) Stats() Stats {
	st := Stats{
		State:            m.State().String(),
		MessagesSent:     m.sent.Load(),
		MessagesReceived: m.received.Load(),
		ServerHost:       m.cfg.Host,
		ServerPort:       m.cfg.Port,
	}
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil && m.State() == Connected {
		st.Uptime = m.now().Sub(s.startedAt)
		st.SessionID = s.id
	}
	return st
}

// Close disconnects, disables further connects and waits for every
// goroutine the manager started.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	m.Disconnect()
	m.wg.Wait()
	return nil
}

func (m *Manager) endpoint() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}
