package router

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"synbridge/pkg/bridge"
	"synbridge/pkg/connection"
	"synbridge/pkg/models"
	"synbridge/pkg/validator"
)

// ErrNotConnected is returned when a command is sent without an open session.
var ErrNotConnected = connection.ErrNotConnected

// ErrClosed is returned after Close.
var ErrClosed = errors.New("router closed")

const lostResultMessage = "connection lost before result"

// Connection is the state machine the router drives.
type Connection interface {
	Connect() bool
	Disconnect()
	IsConnected() bool
	Send(frame []byte) error
	Tick(dt time.Duration)
	Stats() connection.Stats
	Close() error
}

// Validator gates commands received from the peer.
type Validator interface {
	Validate(cmd *models.Command) validator.Outcome
	Stats() validator.Stats
}

// Executor carries out validated commands. reply may be called from any
// goroutine, exactly once per command.
type Executor interface {
	Execute(cmd models.Command, reply func(models.Result))
}

// Option customises a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithPingInterval sets the keepalive command period. Zero disables it.
func WithPingInterval(d time.Duration) Option {
	return func(r *Router) { r.pingInterval = d }
}

// Router is the public face of the bridge. Tick must be called from the host
// goroutine; every other method is safe from any goroutine.
type Router struct {
	conn      Connection
	validator Validator
	executor  Executor
	bridge    *bridge.Bridge
	log       *zap.Logger

	pingInterval time.Duration
	pingElapsed  time.Duration

	replies bridge.Queue[models.Result]

	pendingMu sync.Mutex
	pending   map[string]func(models.Result)

	subsMu sync.Mutex
	subs   map[int]Handlers
	nextID int

	closed atomic.Bool

	commandsSent     atomic.Int64
	commandsRouted   atomic.Int64
	resultsDelivered atomic.Int64
	resultsDropped   atomic.Int64
	resultsReceived  atomic.Int64
	framesDropped    atomic.Int64
}

// New wires the router to its collaborators.
func New(conn Connection, v Validator, exec Executor, b *bridge.Bridge, opts ...Option) *Router {
	r := &Router{
		conn:         conn,
		validator:    v,
		executor:     exec,
		bridge:       b,
		log:          zap.NewNop(),
		pingInterval: 30 * time.Second,
		pending:      make(map[string]func(models.Result)),
		subs:         make(map[int]Handlers),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect starts a connection attempt.
func (r *Router) Connect() bool {
	if r.closed.Load() {
		return false
	}
	return r.conn.Connect()
}

// Disconnect closes the session.
func (r *Router) Disconnect() {
	r.conn.Disconnect()
}

// IsConnected reports whether a session is open.
func (r *Router) IsConnected() bool {
	return r.conn.IsConnected()
}

// SendCommand queues cmd for the peer without validation.
func (r *Router) SendCommand(cmd models.Command) error {
	return r.send(cmd, nil)
}

// SendCommandFunc queues cmd and calls cb on the host goroutine with the
// correlated result, or with a failure result if the session drops first.
func (r *Router) SendCommandFunc(cmd models.Command, cb func(models.Result)) error {
	return r.send(cmd, cb)
}

func (r *Router) send(cmd models.Command, cb func(models.Result)) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.conn.IsConnected() {
		r.log.Warn("cannot send command, not connected", zap.String("command_id", cmd.ID), zap.String("command_type", cmd.Type))
		return ErrNotConnected
	}
	frame, err := cmd.Encode()
	if err != nil {
		return err
	}
	if cb != nil {
		r.pendingMu.Lock()
		r.pending[cmd.ID] = cb
		r.pendingMu.Unlock()
	}
	r.bridge.Outbound.Push(bridge.Outbound{CommandID: cmd.ID, Frame: frame})
	r.commandsSent.Add(1)
	r.log.Debug("command queued", zap.String("command_id", cmd.ID), zap.String("command_type", cmd.Type))
	return nil
}

// SendPing sends a keepalive command.
func (r *Router) SendPing() error {
	return r.SendCommand(models.Command{ID: "ping_" + ulid.Make().String(), Type: "ping"})
}

// SendChatMessage sends a chat message to the companion.
func (r *Router) SendChatMessage(message, context string) error {
	return r.SendCommand(models.Command{
		ID:   "chat_" + ulid.Make().String(),
		Type: "chat",
		Parameters: map[string]any{
			"message": message,
			"context": context,
		},
	})
}

// SearchKnowledge asks the companion to search its knowledge base.
func (r *Router) SearchKnowledge(query string, topK int, private bool) error {
	return r.SendCommand(models.Command{
		ID:   "search_" + ulid.Make().String(),
		Type: "search_knowledge",
		Parameters: map[string]any{
			"query":   query,
			"top_k":   topK,
			"private": private,
		},
	})
}

// RouteCommand validates cmd and hands it to the executor. Rejections are
// answered with a failure result; the outcome is returned either way.
func (r *Router) RouteCommand(cmd models.Command) validator.Outcome {
	r.commandsRouted.Add(1)

	out := r.validator.Validate(&cmd)
	if !out.Valid {
		r.reply(models.Failed(cmd.ID, out.Reason))
		return out
	}
	if r.executor == nil {
		r.reply(models.Failed(cmd.ID, "No executor registered for command type: "+cmd.Type))
		return out
	}

	r.log.Debug("routing command", zap.String("command_id", cmd.ID), zap.String("command_type", cmd.Type))
	r.executor.Execute(cmd, r.reply)
	return out
}

// reply is handed to executors and may run on any goroutine.
func (r *Router) reply(res models.Result) {
	r.replies.Push(res)
}

// Tick runs one host iteration: inbound frames and events, executor
// replies, outbound frames, then the reconnect and ping timers.
func (r *Router) Tick(dt time.Duration) {
	for _, item := range r.bridge.Inbound.Drain() {
		if item.Event != nil {
			r.handleEvent(*item.Event)
			continue
		}
		r.handleFrame(item.Frame)
	}

	for _, res := range r.replies.Drain() {
		r.deliverResult(res)
	}

	for _, out := range r.bridge.Outbound.Drain() {
		if err := r.conn.Send(out.Frame); err != nil {
			r.framesDropped.Add(1)
			r.log.Warn("outbound frame dropped", zap.String("command_id", out.CommandID), zap.Error(err))
			r.failCommand(out.CommandID, err)
		}
	}

	r.conn.Tick(dt)
	r.tickPing(dt)
}

func (r *Router) tickPing(dt time.Duration) {
	if r.pingInterval <= 0 || !r.conn.IsConnected() {
		r.pingElapsed = 0
		return
	}
	r.pingElapsed += dt
	if r.pingElapsed >= r.pingInterval {
		r.pingElapsed = 0
		if err := r.SendPing(); err != nil {
			r.log.Debug("ping not sent", zap.Error(err))
		}
	}
}

func (r *Router) handleFrame(data []byte) {
	frame, err := models.DecodeFrame(data)
	if err != nil {
		r.framesDropped.Add(1)
		r.log.Warn("dropping undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	switch frame.Kind {
	case models.FrameAck:
		r.log.Info("companion acknowledged connection", zap.String("message", frame.Ack.Message))
		r.each(func(h Handlers) {
			if h.OnAck != nil {
				h.OnAck(frame.Ack.Message)
			}
		})
	case models.FrameResult:
		r.resultsReceived.Add(1)
		res := *frame.Result
		r.pendingMu.Lock()
		cb, ok := r.pending[res.CommandID]
		delete(r.pending, res.CommandID)
		r.pendingMu.Unlock()
		if ok {
			cb(res)
		}
		r.each(func(h Handlers) {
			if h.OnResult != nil {
				h.OnResult(res)
			}
		})
	case models.FrameCommand:
		cmd := *frame.Command
		r.each(func(h Handlers) {
			if h.OnCommand != nil {
				h.OnCommand(cmd)
			}
		})
		r.RouteCommand(cmd)
	}
}

func (r *Router) handleEvent(ev bridge.Event) {
	switch ev.Kind {
	case bridge.EventConnected:
		r.pingElapsed = 0
		r.each(func(h Handlers) {
			if h.OnConnected != nil {
				h.OnConnected()
			}
		})
	case bridge.EventDisconnected:
		r.failPending()
		r.each(func(h Handlers) {
			if h.OnDisconnected != nil {
				h.OnDisconnected(ev.Message)
			}
		})
	case bridge.EventError:
		r.log.Error("connection error", zap.String("message", ev.Message))
		r.each(func(h Handlers) {
			if h.OnError != nil {
				h.OnError(ev.Message)
			}
		})
	}
}

func (r *Router) deliverResult(res models.Result) {
	if res.CommandID == "" {
		r.resultsDropped.Add(1)
		r.log.Warn("dropping result without command id", zap.String("message", res.Message))
		return
	}
	if !r.conn.IsConnected() {
		r.resultsDropped.Add(1)
		r.log.Warn("cannot deliver result, not connected", zap.String("command_id", res.CommandID))
		return
	}
	frame, err := res.Encode()
	if err != nil {
		r.resultsDropped.Add(1)
		r.log.Error("encode result", zap.Error(err))
		return
	}
	r.bridge.Outbound.Push(bridge.Outbound{Frame: frame})
	r.resultsDelivered.Add(1)
}

// failCommand resolves the pending callback for id, if any, with err.
func (r *Router) failCommand(id string, err error) {
	if id == "" {
		return
	}
	r.pendingMu.Lock()
	cb, ok := r.pending[id]
	delete(r.pending, id)
	r.pendingMu.Unlock()
	if ok {
		cb(models.Failed(id, "send failed: "+err.Error()))
	}
}

func (r *Router) failPending() {
	r.pendingMu.Lock()
	pending := r.pending
	r.pending = make(map[string]func(models.Result))
	r.pendingMu.Unlock()

	for id, cb := range pending {
		cb(models.Failed(id, lostResultMessage))
	}
}

// Close detaches subscribers, disconnects and fails pending callbacks.
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	r.subsMu.Lock()
	r.subs = make(map[int]Handlers)
	r.subsMu.Unlock()

	err := r.conn.Close()
	r.failPending()
	if err != nil && !errors.Is(err, connection.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
