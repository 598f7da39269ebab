package connection

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const writeTimeout = 10 * time.Second

// session is one open socket with its read, write and keepalive goroutines.
type session struct {
	id        string
	conn      Conn
	m         *Manager
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	startedAt time.Time

	g    *errgroup.Group
	end  sync.Once
	done chan struct{}
}

func newSession(ctx context.Context, cancel context.CancelFunc, conn Conn, m *Manager) *session {
	return &session{
		id:        ulid.Make().String(),
		conn:      conn,
		m:         m,
		ctx:       ctx,
		cancel:    cancel,
		send:      make(chan []byte, m.cfg.SendBuffer),
		startedAt: m.now(),
		done:      make(chan struct{}),
	}
}

func (s *session) start() {
	g, ctx := errgroup.WithContext(s.ctx)
	s.g = g

	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error { return s.writeLoop(ctx) })
	if p, ok := s.conn.(Pinger); ok && s.m.cfg.KeepAlive > 0 {
		g.Go(func() error { return s.keepAlive(ctx, p) })
	}
	// unblock the reader once anything ends the session
	g.Go(func() error {
		<-ctx.Done()
		_ = s.conn.Close()
		return nil
	})
}

// wait blocks until every session goroutine has returned.
func (s *session) wait() error {
	err := s.g.Wait()
	s.cancel()
	return err
}

func (s *session) enqueue(frame []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrNotConnected
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		frame, err := s.conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.m.received.Add(1)
		s.m.bridge.PostFrame(frame)
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.WriteFrame(wctx, frame)
			cancel()
			if err != nil {
				s.m.log.Warn("write failed", zap.String("session", s.id), zap.Error(err))
				return err
			}
			s.m.sent.Add(1)
		}
	}
}

func (s *session) keepAlive(ctx context.Context, p Pinger) error {
	ticker := time.NewTicker(s.m.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
}
