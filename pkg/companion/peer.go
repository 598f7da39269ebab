package companion

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"synbridge/pkg/connection"
)

const sendBuffer = 64

// peer is one connected host.
type peer struct {
	id   string
	conn connection.Conn
	log  *zap.Logger

	send      chan []byte
	closeOnce sync.Once
	closed    atomic.Bool
}

func newPeer(id string, conn connection.Conn, logger *zap.Logger) *peer {
	return &peer{id: id, conn: conn, log: logger, send: make(chan []byte, sendBuffer)}
}

// trySend queues frame without blocking. It returns false when the peer is
// gone or its buffer is full.
func (p *peer) trySend(frame []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if p.closed.Load() {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.send)
	})
}

// run pumps frames until the socket fails or ctx is done. handle is called on
// the read goroutine for every inbound frame.
func (p *peer) run(ctx context.Context, handle func(frame []byte)) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			frame, err := p.conn.ReadFrame(ctx)
			if err != nil {
				return err
			}
			handle(frame)
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case frame, ok := <-p.send:
				if !ok {
					return nil
				}
				if err := p.conn.WriteFrame(ctx, frame); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		p.close()
		return p.conn.Close()
	})

	return g.Wait()
}
