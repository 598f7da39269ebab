package companion_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"synbridge/pkg/auth"
	"synbridge/pkg/bridge"
	"synbridge/pkg/companion"
	"synbridge/pkg/connection"
	"synbridge/pkg/executors"
	"synbridge/pkg/host"
	"synbridge/pkg/models"
	"synbridge/pkg/router"
	"synbridge/pkg/validator"
)

// endToEndSuite runs a companion behind httptest and a full host connected to it.
type endToEndSuite struct {
	suite.Suite

	companion *companion.Server
	router    *router.Router
	loop      *host.Loop
	scene     *executors.Scene
	events    chan string

	teardown []func()
}

func TestEndToEnd(t *testing.T) {
	suite.Run(t, new(endToEndSuite))
}

func (s *endToEndSuite) SetupTest() {
	logger := zap.NewNop()
	signer := auth.NewSigner("e2e-secret", "synbridge", time.Minute)

	s.companion = companion.NewServer(companion.Options{Signer: signer, Logger: logger})
	srv := httptest.NewServer(s.companion)

	dialer := connection.NewWebsocketDialer("127.0.0.1", 0, "/")
	dialer.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer.TokenSource = func() (string, error) { return signer.Token("host") }

	cfg := connection.DefaultConfig()
	cfg.AutoReconnect = false
	cfg.KeepAlive = 0

	b := bridge.New()
	conn := connection.NewManager(cfg, dialer, b, connection.WithLogger(logger))
	registry := executors.NewRegistry(time.Second, logger)
	s.scene = executors.DemoScene()
	executors.RegisterBuiltins(registry, s.scene)

	s.router = router.New(conn, validator.New(validator.Options{}), registry, b,
		router.WithLogger(logger), router.WithPingInterval(0))

	s.events = make(chan string, 16)
	s.router.Subscribe(router.Handlers{
		OnConnected:    func() { s.events <- "connected" },
		OnDisconnected: func(reason string) { s.events <- "disconnected: " + reason },
		OnAck:          func(message string) { s.events <- "ack: " + message },
	})

	s.loop = host.NewLoop(s.router, 5*time.Millisecond, logger)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = s.loop.Run(ctx)
	}()
	<-s.loop.Started()

	r, comp := s.router, s.companion
	s.teardown = append(s.teardown, func() {
		_ = comp.Close()
		_ = s.loop.Do(context.Background(), func() { _ = r.Close() })
		cancel()
		<-loopDone
		registry.Wait()
		srv.Close()
	})

	s.Require().NoError(s.loop.Do(ctx, func() { s.router.Connect() }))
	s.expect("connected")
	s.expect("ack: Connected to companion")
}

func (s *endToEndSuite) TearDownTest() {
	for _, fn := range s.teardown {
		fn()
	}
	s.teardown = nil
}

func (s *endToEndSuite) expect(want string) {
	select {
	case got := <-s.events:
		s.Require().Equal(want, got)
	case <-time.After(3 * time.Second):
		s.FailNow("timed out waiting for event", want)
	}
}

func (s *endToEndSuite) issue(cmd models.Command) models.Result {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := s.companion.Issue(ctx, cmd)
	s.Require().NoError(err)
	return res
}

func (s *endToEndSuite) TestCompanionCommands() {
	res := s.issue(models.Command{Type: "Ping"})
	s.True(res.Success)
	s.Equal("pong", res.Message)

	res = s.issue(models.Command{ID: "move-1", Type: "SetPosition",
		Parameters: map[string]any{"object": "Player", "x": 1.5, "y": 2, "z": -3}})
	s.Require().True(res.Success, res.Message)
	s.Equal("move-1", res.CommandID)
	player, ok := s.scene.Find("Player")
	s.Require().True(ok)
	s.Equal([3]float64{1.5, 2, -3}, player.Position)

	res = s.issue(models.Command{Type: "Shutdown"})
	s.False(res.Success)
	s.Equal("Unknown or disallowed command type: Shutdown", res.Message)

	res = s.issue(models.Command{Type: "GenerateImage", Parameters: map[string]any{"prompt": "<script>alert(1)</script>"}})
	s.False(res.Success)
	s.Contains(res.Message, "dangerous")

	stats := s.router.GetStats()
	s.EqualValues(4, stats.CommandsRouted)
	s.EqualValues(2, stats.Validation.TotalRejected)
}

func (s *endToEndSuite) TestHostCommand() {
	got := make(chan models.Result, 1)
	var sendErr error
	err := s.loop.Do(context.Background(), func() {
		sendErr = s.router.SendCommandFunc(models.Command{
			ID:         "chat_e2e",
			Type:       "chat",
			Parameters: map[string]any{"message": "hello", "context": "test"},
		}, func(res models.Result) { got <- res })
	})
	s.Require().NoError(err)
	s.Require().NoError(sendErr)

	select {
	case res := <-got:
		s.True(res.Success)
		s.Equal("chat_e2e", res.CommandID)
		s.Equal("echo: hello", res.Data["reply"])
	case <-time.After(3 * time.Second):
		s.FailNow("no result for host command")
	}
}

func (s *endToEndSuite) TestPeerDisconnect() {
	s.companion.Kick()
	s.expect("disconnected: Disconnected by peer")
	s.False(s.router.IsConnected())
}
