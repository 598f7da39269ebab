// Package companion is the websocket peer the host connects to. It
// acknowledges connections, answers host commands and issues commands to the
// host, waiting for their correlated results.
package companion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"synbridge/pkg/auth"
	"synbridge/pkg/connection"
	"synbridge/pkg/models"
)

var (
	ErrNoPeer     = errors.New("no host connected")
	ErrSendFailed = errors.New("send to host failed")
	ErrClosed     = errors.New("companion closed")
)

// Handler 处理 host 发来的命令
type Handler func(ctx context.Context, cmd models.Command) models.Result

// Options 服务器配置
type Options struct {
	// Signer, when set, requires a valid bearer token on the handshake.
	Signer *auth.Signer
	// AckMessage is sent to every host right after the handshake.
	AckMessage string
	// OnResult observes every result the host sends, correlated or not.
	OnResult func(peerID string, res models.Result)
	// OnPeer observes connects (true) and disconnects (false).
	OnPeer func(peerID string, connected bool)

	Logger *zap.Logger
}

// Server companion 端 websocket 服务器
type Server struct {
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader
	waiter   *waiter

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu      sync.Mutex
	peers   map[string]*peer
	order   []string
	cancels map[string]context.CancelFunc
	joined  chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewServer creates a server with the default ping, chat and
// search_knowledge handlers.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AckMessage == "" {
		opts.AckMessage = "Connected to companion"
	}
	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		waiter:   newWaiter(),
		handlers: make(map[string]Handler),
		peers:    make(map[string]*peer),
		cancels:  make(map[string]context.CancelFunc),
		joined:   make(chan struct{}),
	}
	s.Handle("ping", handlePing)
	s.Handle("chat", handleChat)
	s.Handle("search_knowledge", handleSearch)
	return s
}

// Handle 注册命令处理函数
func (s *Server) Handle(commandType string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[commandType] = h
}

// ServeHTTP upgrades the request and serves the host until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.opts.Signer != nil {
		if _, err := s.opts.Signer.Authorize(r); err != nil {
			s.log.Warn("handshake rejected", zap.Error(err), zap.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	p := newPeer(uuid.NewString(), connection.NewWebsocketConn(ws, 0, 0), s.log)
	ctx, cancel := context.WithCancel(context.Background())
	if !s.join(p, cancel) {
		cancel()
		_ = p.conn.Close()
		return
	}
	defer s.leave(p)

	if frame, err := models.NewAck(s.opts.AckMessage).Encode(); err == nil {
		p.trySend(frame)
	}

	err = p.run(ctx, func(frame []byte) { s.handleFrame(ctx, p, frame) })
	if err != nil && !errors.Is(err, context.Canceled) && !connection.IsNormalClose(err) {
		s.log.Info("host connection ended", zap.String("peer", p.id), zap.Error(err))
	}
}

func (s *Server) join(p *peer, cancel context.CancelFunc) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.peers[p.id] = p
	s.order = append(s.order, p.id)
	s.cancels[p.id] = cancel
	s.wg.Add(1)
	joined := s.joined
	s.joined = make(chan struct{})
	s.mu.Unlock()

	close(joined)
	s.log.Info("host connected", zap.String("peer", p.id))
	if s.opts.OnPeer != nil {
		s.opts.OnPeer(p.id, true)
	}
	return true
}

func (s *Server) leave(p *peer) {
	s.mu.Lock()
	delete(s.peers, p.id)
	if cancel, ok := s.cancels[p.id]; ok {
		cancel()
		delete(s.cancels, p.id)
	}
	for i, id := range s.order {
		if id == p.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.log.Info("host disconnected", zap.String("peer", p.id))
	if s.opts.OnPeer != nil {
		s.opts.OnPeer(p.id, false)
	}
	s.wg.Done()
}

func (s *Server) handleFrame(ctx context.Context, p *peer, data []byte) {
	frame, err := models.DecodeFrame(data)
	if err != nil {
		s.log.Warn("dropping frame", zap.String("peer", p.id), zap.Error(err))
		return
	}

	switch frame.Kind {
	case models.FrameResult:
		res := *frame.Result
		s.waiter.resolve(res)
		if s.opts.OnResult != nil {
			s.opts.OnResult(p.id, res)
		}
	case models.FrameCommand:
		if frame.Command.ID == "" {
			// no id to answer to
			s.log.Warn("dropping command without id", zap.String("peer", p.id), zap.String("command_type", frame.Command.Type))
			return
		}
		s.answer(ctx, p, *frame.Command)
	default:
		s.log.Debug("ignoring frame", zap.String("peer", p.id), zap.Stringer("kind", frame.Kind))
	}
}

func (s *Server) answer(ctx context.Context, p *peer, cmd models.Command) {
	s.handlersMu.RLock()
	h, ok := s.handlers[cmd.Type]
	s.handlersMu.RUnlock()

	var res models.Result
	if ok {
		res = h(ctx, cmd)
		res.CommandID = cmd.ID
	} else {
		res = models.Failed(cmd.ID, "Unknown command type: "+cmd.Type)
	}

	frame, err := res.Encode()
	if err != nil {
		s.log.Error("encode result", zap.String("command_id", cmd.ID), zap.Error(err))
		return
	}
	if !p.trySend(frame) {
		s.log.Warn("result dropped", zap.String("peer", p.id), zap.String("command_id", cmd.ID))
	}
}

// Issue sends cmd to the most recently connected host and waits for its
// result. A missing id is filled with a UUID.
func (s *Server) Issue(ctx context.Context, cmd models.Command) (models.Result, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	p, err := s.current()
	if err != nil {
		return models.Result{}, err
	}

	frame, err := cmd.Encode()
	if err != nil {
		return models.Result{}, err
	}

	ch := s.waiter.register(cmd.ID)
	if !p.trySend(frame) {
		s.waiter.cancel(cmd.ID)
		return models.Result{}, fmt.Errorf("%w: %s", ErrSendFailed, cmd.ID)
	}
	s.log.Debug("command issued", zap.String("command_id", cmd.ID), zap.String("command_type", cmd.Type))

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		s.waiter.cancel(cmd.ID)
		return models.Result{}, fmt.Errorf("waiting for %s: %w", cmd.ID, ctx.Err())
	}
}

func (s *Server) current() (*peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.order) == 0 {
		return nil, ErrNoPeer
	}
	return s.peers[s.order[len(s.order)-1]], nil
}

// WaitForPeer blocks until at least one host is connected.
func (s *Server) WaitForPeer(ctx context.Context) error {
	for {
		s.mu.Lock()
		n, joined, closed := len(s.peers), s.joined, s.closed
		s.mu.Unlock()

		if closed {
			return ErrClosed
		}
		if n > 0 {
			return nil
		}
		select {
		case <-joined:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Peers 返回已连接的 host 列表(已排序)
func (s *Server) Peers() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Kick 断开所有 host，服务器保持运行
func (s *Server) Kick() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
}

// Close disconnects every host and waits for their handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// ListenAndServe serves the websocket endpoint at path until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("companion listening", zap.String("addr", addr), zap.String("path", path))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	_ = s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
