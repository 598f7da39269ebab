package validator

import (
	"math"
	"sync"
	"time"
)

// rateWindow is a sliding one second window of accepted request timestamps
// for one command type. Capacity is the limit rounded up, never below one.
type rateWindow struct {
	mu       sync.Mutex
	stamps   []time.Time
	capacity int
	span     time.Duration
}

func newRateWindow(limit float64) *rateWindow {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &rateWindow{capacity: max(1, int(math.Ceil(limit))), span: time.Second}
}

// allow records now and returns true when the window has room; otherwise it
// returns false and how long until the oldest entry expires.
func (w *rateWindow) allow(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	evict := 0
	for evict < len(w.stamps) && now.Sub(w.stamps[evict]) > w.span {
		evict++
	}
	if evict > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[evict:]...)
	}

	if len(w.stamps) >= w.capacity {
		wait := w.span - now.Sub(w.stamps[0])
		if wait < 0 {
			wait = 0
		}
		return false, wait
	}

	w.stamps = append(w.stamps, now)
	return true, 0
}

func (w *rateWindow) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stamps)
}
