package router

import (
	"slices"
	"sync"

	"synbridge/pkg/models"
)

// Handlers receives router notifications on the host goroutine. Nil fields
// are skipped.
type Handlers struct {
	OnConnected    func()
	OnDisconnected func(reason string)
	OnError        func(message string)
	OnAck          func(message string)
	OnResult       func(res models.Result)
	OnCommand      func(cmd models.Command)
}

// Subscribe registers h and returns a function that removes it.
func (r *Router) Subscribe(h Handlers) (unsubscribe func()) {
	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = h
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, id)
			r.subsMu.Unlock()
		})
	}
}

// each calls fn for a snapshot of the subscribers, in subscription order.
func (r *Router) each(fn func(Handlers)) {
	r.subsMu.Lock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	snapshot := make([]Handlers, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		snapshot = append(snapshot, r.subs[id])
	}
	r.subsMu.Unlock()

	for _, h := range snapshot {
		fn(h)
	}
}
