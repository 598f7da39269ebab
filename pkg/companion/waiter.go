package companion

import (
	"sync"

	"synbridge/pkg/models"
)

// waiter correlates results from the host with the commands that asked for them.
type waiter struct {
	mu      sync.Mutex
	pending map[string]chan models.Result
}

func newWaiter() *waiter {
	return &waiter{pending: make(map[string]chan models.Result)}
}

// register returns a channel that receives the result for id exactly once.
func (w *waiter) register(id string) <-chan models.Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan models.Result, 1)
	w.pending[id] = ch
	return ch
}

// resolve hands res to its waiter and reports whether one was registered.
func (w *waiter) resolve(res models.Result) bool {
	w.mu.Lock()
	ch, ok := w.pending[res.CommandID]
	delete(w.pending, res.CommandID)
	w.mu.Unlock()

	if ok {
		ch <- res
	}
	return ok
}

func (w *waiter) cancel(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *waiter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
