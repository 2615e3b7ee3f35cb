// Package bus provides the shared message-bus connection used to reach the
// Jami daemon: one-shot method calls and signal subscriptions multiplexed
// over a single connection.
//
// The [Conn] interface is what the rest of the module depends on. [Dial]
// returns the D-Bus implementation; tests substitute in-memory fakes.
package bus

import (
	"context"
	"errors"
	"sync"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrConnectionLost is reported when the bus connection drops without a
	// call to Close.
	ErrConnectionLost = errors.New("bus connection lost")
	// ErrClosed is reported after an orderly Close.
	ErrClosed = errors.New("bus connection closed")
)

// ///////////////////////////////////////////////
// Interfaces
// ///////////////////////////////////////////////

// Handler receives the positional body of one signal. It runs on the
// connection's reactor goroutine and must not block.
type Handler func(body []any)

// Caller performs a single remote method call and returns the reply body.
type Caller interface {
	Call(ctx context.Context, iface, method string, args ...any) ([]any, error)
}

// Match is an active signal subscription.
type Match interface {
	// Remove drops the subscription. Calling it more than once is a no-op.
	Remove() error
}

// Conn is a bus connection shared by every subscription and call.
type Conn interface {
	Caller
	// Subscribe registers h for signals named iface.member.
	Subscribe(iface, member string, h Handler) (Match, error)
	// Done is closed when the connection is no longer usable.
	Done() <-chan struct{}
	// Err reports why Done was closed: ErrClosed or ErrConnectionLost.
	Err() error
	Close() error
}

// ///////////////////////////////////////////////
// Router
// ///////////////////////////////////////////////

// router fans incoming signals out to the handlers registered for their
// fully qualified name.
type router struct {
	// mu protects routes and nextID.
	mu sync.RWMutex
	// routes maps "iface.member" to handlers keyed by subscription id.
	routes map[string]map[uint64]Handler
	// nextID tags each subscription so it can be removed individually.
	nextID uint64
}

func newRouter() *router {
	return &router{routes: make(map[string]map[uint64]Handler)}
}

// add registers h under name and returns the subscription id.
func (r *router) add(name string, h Handler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	hs, ok := r.routes[name]
	if !ok {
		hs = make(map[uint64]Handler)
		r.routes[name] = hs
	}
	hs[r.nextID] = h
	return r.nextID
}

// remove drops subscription id under name. It reports whether the name has
// no handlers left.
func (r *router) remove(name string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs, ok := r.routes[name]
	if !ok {
		return true
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(r.routes, name)
		return true
	}
	return false
}

// dispatch calls every handler registered for name and returns how many ran.
func (r *router) dispatch(name string, body []any) int {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.routes[name]))
	for _, h := range r.routes[name] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(body)
	}
	return len(hs)
}

// size returns the number of active subscriptions.
func (r *router) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, hs := range r.routes {
		n += len(hs)
	}
	return n
}
