// Package bustest provides an in-memory [bus.Conn] for tests.
package bustest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tools.zach/dev/jamibus/internal/bus"
)

// Reply is a canned answer for one method.
type Reply struct {
	Body []any
	Err  error
}

// CallRecord captures one invocation of [Fake.Call].
type CallRecord struct {
	Iface  string
	Method string
	Args   []any
}

// Fake is a [bus.Conn] whose signals are emitted by the test and whose
// method replies are scripted with [Fake.Reply].
type Fake struct {
	mu      sync.Mutex
	replies map[string]Reply
	calls   []CallRecord
	subs    map[string]map[int]bus.Handler
	nextID  int
	removed []string
	// failSubscribe makes Subscribe fail for the named member.
	failSubscribe string

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// NewFake returns a live fake connection.
func NewFake() *Fake {
	return &Fake{
		replies: make(map[string]Reply),
		subs:    make(map[string]map[int]bus.Handler),
		done:    make(chan struct{}),
	}
}

// Reply scripts the answer for method. Unscripted methods fail.
func (f *Fake) Reply(method string, body ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = Reply{Body: body}
}

// Fail scripts an error for method.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = Reply{Err: err}
}

// FailSubscribe makes subscribing to member fail.
func (f *Fake) FailSubscribe(member string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSubscribe = member
}

// Call implements [bus.Caller].
func (f *Fake) Call(ctx context.Context, iface, method string, args ...any) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, CallRecord{Iface: iface, Method: method, Args: args})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := f.replies[method]
	if !ok {
		return nil, fmt.Errorf("no reply scripted for %s", method)
	}
	return r.Body, r.Err
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CallRecord, len(f.calls))
	copy(out, f.calls)
	return out
}

// Subscribe implements [bus.Conn].
func (f *Fake) Subscribe(iface, member string, h bus.Handler) (bus.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return nil, f.err
	default:
	}
	if member == f.failSubscribe {
		return nil, errors.New("match rejected")
	}

	f.nextID++
	hs, ok := f.subs[member]
	if !ok {
		hs = make(map[int]bus.Handler)
		f.subs[member] = hs
	}
	hs[f.nextID] = h
	return &fakeMatch{f: f, member: member, id: f.nextID}, nil
}

// Subscribed returns the number of live subscriptions.
func (f *Fake) Subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.subs {
		n += len(hs)
	}
	return n
}

// Removed lists the members whose subscriptions were removed, in order.
func (f *Fake) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}

// Emit delivers a signal to every handler subscribed to member, synchronously
// on the caller's goroutine. It reports how many handlers ran.
func (f *Fake) Emit(member string, body ...any) int {
	f.mu.Lock()
	hs := make([]bus.Handler, 0, len(f.subs[member]))
	for _, h := range f.subs[member] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(body)
	}
	return len(hs)
}

// Drop simulates losing the connection.
func (f *Fake) Drop() { f.finish(bus.ErrConnectionLost) }

// Done implements [bus.Conn].
func (f *Fake) Done() <-chan struct{} { return f.done }

// Err implements [bus.Conn].
func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements [bus.Conn].
func (f *Fake) Close() error {
	f.finish(bus.ErrClosed)
	return nil
}

func (f *Fake) finish(err error) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

type fakeMatch struct {
	f      *Fake
	member string
	id     int
	once   sync.Once
}

func (m *fakeMatch) Remove() error {
	m.once.Do(func() {
		m.f.mu.Lock()
		defer m.f.mu.Unlock()
		delete(m.f.subs[m.member], m.id)
		if len(m.f.subs[m.member]) == 0 {
			delete(m.f.subs, m.member)
		}
		m.f.removed = append(m.f.removed, m.member)
	})
	return nil
}
