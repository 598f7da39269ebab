package host

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("host loop stopped")

// Ticker is driven once per frame by the loop.
type Ticker interface {
	Tick(dt time.Duration)
}

// Loop is the single host goroutine. It ticks at a fixed rate and runs
// mailbox closures between ticks, so code posted through Do never races with
// Tick.
type Loop struct {
	ticker   Ticker
	interval time.Duration
	mailbox  chan func()
	started  chan struct{}
	stopped  chan struct{}
	log      *zap.Logger
}

// NewLoop creates a loop ticking t once per interval. A non-positive
// interval means 60 Hz.
func NewLoop(t Ticker, interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = time.Second / 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		ticker:   t,
		interval: interval,
		mailbox:  make(chan func()),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      logger,
	}
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	close(l.started)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Info("host loop started", zap.Duration("interval", l.interval))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("host loop stopped")
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			l.ticker.Tick(dt)
		case fn := <-l.mailbox:
			fn()
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case l.mailbox <- wrapped:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started is closed once Run has begun.
func (l *Loop) Started() <-chan struct{} { return l.started }
