// Package bridge carries the authorization-failure signal from the transport
// layers to the parties that react to it.
//
// A Bridge is passed explicitly to the HTTP client, the gRPC and Kratos client
// middleware and each Navigation Guard. Raise is payload-less; every listener
// receives every raise.
package bridge

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Listener reacts to an authorization failure.
type Listener func()

// Bridge fans a single named signal out to its listeners.
type Bridge struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	raised    atomic.Int64
}

// New returns a Bridge without listeners.
func New() *Bridge {
	return &Bridge{listeners: make(map[int]Listener)}
}

// Raise delivers the signal synchronously to all listeners in subscription
// order. Listeners may subscribe or unsubscribe while being called; such
// changes apply to the next Raise.
func (b *Bridge) Raise() {
	b.raised.Add(1)

	b.mu.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers fn and returns a function removing it. The returned
// function is safe to call more than once.
func (b *Bridge) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (b *Bridge) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Count returns how many times Raise has been called.
func (b *Bridge) Count() int64 { return b.raised.Load() }
