package router

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synbridge/pkg/bridge"
	"synbridge/pkg/connection"
	"synbridge/pkg/models"
	"synbridge/pkg/validator"
)

type fakeConn struct {
	connected bool
	sent      [][]byte
	connects  int
	ticks     []time.Duration
	closed    bool
	sendErr   error
}

func (c *fakeConn) Connect() bool { c.connects++; c.connected = true; return true }
func (c *fakeConn) Disconnect()   { c.connected = false }
func (c *fakeConn) IsConnected() bool {
	return c.connected
}
func (c *fakeConn) Send(frame []byte) error {
	if !c.connected {
		return connection.ErrNotConnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, frame)
	return nil
}
func (c *fakeConn) Tick(dt time.Duration) { c.ticks = append(c.ticks, dt) }
func (c *fakeConn) Stats() connection.Stats {
	if c.connected {
		return connection.Stats{State: "connected"}
	}
	return connection.Stats{State: "disconnected"}
}
func (c *fakeConn) Close() error { c.closed = true; c.connected = false; return nil }

func (c *fakeConn) results(t *testing.T) []models.Result {
	t.Helper()
	var out []models.Result
	for _, f := range c.sent {
		var res models.Result
		require.NoError(t, json.Unmarshal(f, &res))
		if res.CommandID != "" {
			out = append(out, res)
		}
	}
	return out
}

func (c *fakeConn) commands(t *testing.T) []models.Command {
	t.Helper()
	var out []models.Command
	for _, f := range c.sent {
		frame, err := models.DecodeFrame(f)
		require.NoError(t, err)
		if frame.Kind == models.FrameCommand {
			out = append(out, *frame.Command)
		}
	}
	return out
}

// echoExecutor replies inline with the command type.
type echoExecutor struct {
	seen []models.Command
	hold bool
	held []func(models.Result)
}

func (e *echoExecutor) Execute(cmd models.Command, reply func(models.Result)) {
	e.seen = append(e.seen, cmd)
	if e.hold {
		e.held = append(e.held, func(res models.Result) { reply(res) })
		return
	}
	reply(models.Succeeded(cmd.ID, "done "+cmd.Type, nil))
}

type fixture struct {
	conn   *fakeConn
	exec   *echoExecutor
	bridge *bridge.Bridge
	router *Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		conn:   &fakeConn{connected: true},
		exec:   &echoExecutor{},
		bridge: bridge.New(),
	}
	f.router = New(f.conn, validator.New(validator.Options{}), f.exec, f.bridge, opts...)
	return f
}

func (f *fixture) peer(raw string) {
	f.bridge.PostFrame([]byte(raw))
}

func TestRoutesValidCommand(t *testing.T) {
	f := newFixture(t)

	f.peer(`{"id":"a1","type":"Ping"}`)
	f.router.Tick(16 * time.Millisecond)

	require.Len(t, f.exec.seen, 1)
	results := f.conn.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].CommandID)
	assert.True(t, results[0].Success)

	st := f.router.GetStats()
	assert.Equal(t, int64(1), st.CommandsRouted)
	assert.Equal(t, int64(1), st.ResultsDelivered)
	assert.Equal(t, int64(1), st.Validation.TotalValidated)
}

func TestRejectedCommandNeverReachesExecutor(t *testing.T) {
	f := newFixture(t)

	f.peer(`{"id":"x","type":"DeleteEverything"}`)
	f.peer(`{"id":"g","type":"GenerateAsset","parameters":{"prompt":"<script>alert(1)</script>"}}`)
	f.router.Tick(0)

	assert.Empty(t, f.exec.seen)
	results := f.conn.results(t)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Message, "DeleteEverything")
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Message, "dangerous")
}

func TestRouteCommandReturnsOutcome(t *testing.T) {
	f := newFixture(t)

	out := f.router.RouteCommand(models.Command{ID: "p", Type: "Ping"})
	assert.True(t, out.Valid)

	out = f.router.RouteCommand(models.Command{ID: "n", Type: "Nope"})
	assert.False(t, out.Valid)
	assert.Equal(t, validator.CodeDisallowedType, out.Code)
}

func TestRejectionWithoutIDIsNotSent(t *testing.T) {
	f := newFixture(t)

	f.router.RouteCommand(models.Command{Type: "Ping"})
	f.router.Tick(0)

	assert.Empty(t, f.conn.sent)
	assert.Equal(t, int64(1), f.router.GetStats().ResultsDropped)
}

func TestPeerCommandWithoutIDIsRejected(t *testing.T) {
	f := newFixture(t)

	f.peer(`{"type":"Ping"}`)
	f.router.Tick(0)

	assert.Empty(t, f.exec.seen)
	assert.Empty(t, f.conn.sent)
	st := f.router.GetStats()
	assert.Zero(t, st.FramesDropped)
	assert.Equal(t, int64(1), st.ResultsDropped)
	assert.Equal(t, int64(1), st.Validation.TotalRejected)
	assert.Equal(t, 1, st.Validation.Reasons[string(validator.CodeMissingID)])
}

func TestNilExecutorFailsValidCommand(t *testing.T) {
	conn := &fakeConn{connected: true}
	b := bridge.New()
	r := New(conn, validator.New(validator.Options{}), nil, b)

	r.RouteCommand(models.Command{ID: "p", Type: "Ping"})
	r.Tick(0)

	results := conn.results(t)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Message, "No executor")
}

func TestSendCommandRequiresConnection(t *testing.T) {
	f := newFixture(t)
	f.conn.connected = false

	err := f.router.SendCommand(models.Command{ID: "c", Type: "chat"})
	assert.ErrorIs(t, err, ErrNotConnected)
	f.router.Tick(0)
	assert.Empty(t, f.conn.sent)
	assert.Zero(t, f.router.GetStats().CommandsSent)
}

func TestSendCommandSkipsValidation(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.router.SendCommand(models.Command{ID: "c", Type: "anything_goes"}))
	f.router.Tick(0)

	cmds := f.conn.commands(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, "anything_goes", cmds[0].Type)
	assert.Zero(t, f.router.GetStats().Validation.TotalValidated)
}

func TestResultCallbackAndSubscribers(t *testing.T) {
	f := newFixture(t)

	var got []models.Result
	require.NoError(t, f.router.SendCommandFunc(models.Command{ID: "q1", Type: "search_knowledge"}, func(res models.Result) {
		got = append(got, res)
	}))

	var seen []string
	unsubscribe := f.router.Subscribe(Handlers{OnResult: func(res models.Result) { seen = append(seen, res.CommandID) }})

	f.peer(`{"commandId":"q1","success":true,"message":"found","data":{"hits":3}}`)
	f.peer(`{"commandId":"other","success":true,"message":"x"}`)
	f.router.Tick(0)

	require.Len(t, got, 1)
	assert.Equal(t, "found", got[0].Message)
	assert.Equal(t, []string{"q1", "other"}, seen)
	assert.Equal(t, int64(2), f.router.GetStats().ResultsReceived)
	assert.Zero(t, f.router.GetStats().PendingCallbacks)

	unsubscribe()
	unsubscribe()
	f.peer(`{"commandId":"late","success":true,"message":"x"}`)
	f.router.Tick(0)
	assert.Len(t, seen, 2)
}

func TestPendingCallbacksFailOnDisconnect(t *testing.T) {
	f := newFixture(t)

	var got models.Result
	require.NoError(t, f.router.SendCommandFunc(models.Command{ID: "q", Type: "chat"}, func(res models.Result) { got = res }))

	var reason string
	f.router.Subscribe(Handlers{OnDisconnected: func(r string) { reason = r }})

	f.conn.connected = false
	f.bridge.PostEvent(bridge.EventDisconnected, "Disconnected: EOF")
	f.router.Tick(0)

	assert.Equal(t, "q", got.CommandID)
	assert.False(t, got.Success)
	assert.Equal(t, lostResultMessage, got.Message)
	assert.Equal(t, "Disconnected: EOF", reason)
}

func TestResultDroppedWhenDisconnected(t *testing.T) {
	f := newFixture(t)
	f.exec.hold = true

	f.peer(`{"id":"slow","type":"Log","parameters":{"message":"hi"}}`)
	f.router.Tick(0)
	require.Len(t, f.exec.held, 1)

	f.conn.connected = false
	f.exec.held[0](models.Succeeded("slow", "late", nil))
	f.router.Tick(0)

	assert.Empty(t, f.conn.sent)
	assert.Equal(t, int64(1), f.router.GetStats().ResultsDropped)
}

func TestAsyncReplyIsForwardedOnNextTick(t *testing.T) {
	f := newFixture(t)
	f.exec.hold = true

	f.peer(`{"id":"a","type":"Log","parameters":{"message":"hi"}}`)
	f.router.Tick(0)
	assert.Empty(t, f.conn.sent)

	done := make(chan struct{})
	go func() {
		f.exec.held[0](models.Succeeded("a", "ok", nil))
		close(done)
	}()
	<-done
	f.router.Tick(0)

	results := f.conn.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].CommandID)
}

func TestUndecodableFrameDropped(t *testing.T) {
	f := newFixture(t)

	f.peer(`{garbage`)
	f.peer(`{"hello":"world"}`)
	f.router.Tick(0)

	assert.Equal(t, int64(2), f.router.GetStats().FramesDropped)
	assert.Empty(t, f.exec.seen)
}

func TestEventsReachSubscribers(t *testing.T) {
	f := newFixture(t)

	var log []string
	f.router.Subscribe(Handlers{
		OnConnected: func() { log = append(log, "connected") },
		OnError:     func(m string) { log = append(log, "error:"+m) },
		OnAck:       func(m string) { log = append(log, "ack:"+m) },
		OnCommand:   func(c models.Command) { log = append(log, "command:"+c.ID) },
	})

	f.bridge.PostEvent(bridge.EventConnected, "")
	f.peer(`{"type":"connection","message":"welcome"}`)
	f.peer(`{"id":"p","type":"Ping"}`)
	f.bridge.PostEvent(bridge.EventError, "Connection failed: refused")
	f.router.Tick(0)

	assert.Equal(t, []string{"connected", "ack:welcome", "command:p", "error:Connection failed: refused"}, log)
}

func TestPingTimer(t *testing.T) {
	f := newFixture(t, WithPingInterval(30*time.Second))

	f.router.Tick(29 * time.Second)
	assert.Empty(t, f.conn.sent)

	f.router.Tick(time.Second)
	f.router.Tick(0)
	cmds := f.conn.commands(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, "ping", cmds[0].Type)
	assert.True(t, strings.HasPrefix(cmds[0].ID, "ping_"))
	assert.Len(t, f.conn.ticks, 3)
}

func TestConvenienceSenders(t *testing.T) {
	f := newFixture(t, WithPingInterval(0))

	require.NoError(t, f.router.SendChatMessage("hello", "scene"))
	require.NoError(t, f.router.SearchKnowledge("shaders", 5, false))
	f.router.Tick(0)

	cmds := f.conn.commands(t)
	require.Len(t, cmds, 2)
	assert.Equal(t, "chat", cmds[0].Type)
	assert.Equal(t, "hello", cmds[0].Parameters["message"])
	assert.Equal(t, "scene", cmds[0].Parameters["context"])
	assert.Equal(t, "search_knowledge", cmds[1].Type)
	assert.Equal(t, float64(5), cmds[1].Parameters["top_k"])
	assert.Equal(t, false, cmds[1].Parameters["private"])
}

func TestOutboundSendFailureCounted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.router.SendCommand(models.Command{ID: "c", Type: "chat"}))
	f.conn.connected = false
	f.router.Tick(0)

	assert.Equal(t, int64(1), f.router.GetStats().FramesDropped)
}

func TestOutboundSendFailureFailsCallback(t *testing.T) {
	f := newFixture(t)
	f.conn.sendErr = connection.ErrSendBufferFull

	var got []models.Result
	require.NoError(t, f.router.SendCommandFunc(models.Command{ID: "c9", Type: "chat"}, func(res models.Result) { got = append(got, res) }))
	f.router.Tick(0)

	require.Len(t, got, 1)
	assert.Equal(t, "c9", got[0].CommandID)
	assert.False(t, got[0].Success)
	assert.Contains(t, got[0].Message, connection.ErrSendBufferFull.Error())
	st := f.router.GetStats()
	assert.Zero(t, st.PendingCallbacks)
	assert.Equal(t, int64(1), st.FramesDropped)

	f.router.Tick(0)
	assert.Len(t, got, 1)
}

func TestClose(t *testing.T) {
	f := newFixture(t)

	var failed bool
	require.NoError(t, f.router.SendCommandFunc(models.Command{ID: "q", Type: "chat"}, func(res models.Result) { failed = !res.Success }))
	called := false
	f.router.Subscribe(Handlers{OnConnected: func() { called = true }})

	require.NoError(t, f.router.Close())
	assert.True(t, f.conn.closed)
	assert.True(t, failed)
	assert.ErrorIs(t, f.router.Close(), ErrClosed)
	assert.False(t, f.router.Connect())
	assert.ErrorIs(t, f.router.SendCommand(models.Command{ID: "x", Type: "chat"}), ErrClosed)

	f.bridge.PostEvent(bridge.EventConnected, "")
	f.router.Tick(0)
	assert.False(t, called)
}
