package jami

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder counts metric hooks for assertions.
type recorder struct {
	mu         sync.Mutex
	signals    map[string]int
	delivered  map[string]int
	deferred   map[string]int
	dropped    map[string]int
	violations map[string]int
	calls      map[string]int
	states     []string
}

func newRecorder() *recorder {
	return &recorder{
		signals:    map[string]int{},
		delivered:  map[string]int{},
		deferred:   map[string]int{},
		dropped:    map[string]int{},
		violations: map[string]int{},
		calls:      map[string]int{},
	}
}

func (r *recorder) RecordSignal(signal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[signal]++
}

func (r *recorder) RecordDelivered(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[source]++
}

func (r *recorder) RecordDeferred(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred[source]++
}

func (r *recorder) RecordDropped(source string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[source+"/"+reason]++
}

func (r *recorder) RecordContractViolation(signal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations[signal]++
}

func (r *recorder) RecordCall(method string, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[method+"/"+status]++
}

func (r *recorder) SetListenerState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) count(m map[string]int, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[key]
}

// receive reads one event or fails the test after a second.
func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// ///////////////////////////////////////////////
// Delivery
// ///////////////////////////////////////////////

func TestEventChannelDeliversInOrder(t *testing.T) {
	c := NewEventChannel(4)
	defer c.Close()

	c.send(SignalConversationReady, ConversationReady{ConversationID: "1"})
	c.send(SignalConversationReady, ConversationReady{ConversationID: "2"})

	assert.Equal(t, ConversationReady{ConversationID: "1"}, receive(t, c.Events()))
	assert.Equal(t, ConversationReady{ConversationID: "2"}, receive(t, c.Events()))
}

func TestEventChannelInjection(t *testing.T) {
	c := NewEventChannel(4)
	defer c.Close()

	c.Input("/help")
	c.Resize()

	assert.Equal(t, Input{Value: "/help"}, receive(t, c.Events()))
	assert.Equal(t, Resize{}, receive(t, c.Events()))
}

func TestEventChannelCapacityClamp(t *testing.T) {
	c := NewEventChannel(0)
	defer c.Close()
	assert.Equal(t, 1, cap(c.ch))
}

// ///////////////////////////////////////////////
// Backpressure
// ///////////////////////////////////////////////

func TestEventChannelSaturationDoesNotBlock(t *testing.T) {
	rec := newRecorder()
	c := NewEventChannel(1, WithChannelMetrics(rec))
	defer c.Close()

	const n = 100
	sent := make(chan struct{})
	go func() {
		for i := range n {
			c.send(SignalDataTransferEvent, DataTransferEvent{ID: uint64(i)})
		}
		c.send(SignalConversationReady, ConversationReady{ConversationID: "other"})
		close(sent)
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("send blocked on a full channel")
	}
	assert.Equal(t, n, c.Pending(), "all but the first event wait in lanes")

	var ids []uint64
	otherSeen := false
	for range n + 1 {
		switch ev := receive(t, c.Events()).(type) {
		case DataTransferEvent:
			ids = append(ids, ev.ID)
		case ConversationReady:
			otherSeen = true
		default:
			t.Fatalf("unexpected event %T", ev)
		}
	}
	assert.True(t, otherSeen)
	require.Len(t, ids, n)
	for i, id := range ids {
		assert.Equal(t, uint64(i), id, "per-source order")
	}

	assert.Eventually(t, func() bool {
		return rec.count(rec.delivered, SignalDataTransferEvent) == n
	}, time.Second, time.Millisecond)
	assert.Equal(t, n-1, rec.count(rec.deferred, SignalDataTransferEvent))
	assert.Zero(t, c.Pending())
}

func TestEventChannelLaneKeepsOrderAfterBacklog(t *testing.T) {
	c := NewEventChannel(1)
	defer c.Close()

	c.send("a", Input{Value: 1})
	c.send("a", Input{Value: 2})
	assert.Equal(t, Input{Value: 1}, receive(t, c.Events()))

	// 3 must not overtake 2, whether or not the lane worker has drained.
	c.send("a", Input{Value: 3})
	assert.Equal(t, Input{Value: 2}, receive(t, c.Events()))
	assert.Equal(t, Input{Value: 3}, receive(t, c.Events()))
}

// ///////////////////////////////////////////////
// Close
// ///////////////////////////////////////////////

func TestEventChannelSendAfterCloseIsDropped(t *testing.T) {
	rec := newRecorder()
	c := NewEventChannel(1, WithChannelMetrics(rec))
	c.Close()
	c.Close()

	assert.NotPanics(t, func() {
		c.send(SignalAccountsChanged, AccountsChanged{})
		c.Input("late")
	})
	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.Equal(t, 1, rec.count(rec.dropped, SignalAccountsChanged+"/closed"))
	assert.Equal(t, 1, rec.count(rec.dropped, sourceInput+"/closed"))
}

func TestEventChannelCloseAbandonsBacklog(t *testing.T) {
	rec := newRecorder()
	c := NewEventChannel(1, WithChannelMetrics(rec))

	for i := range 5 {
		c.send("a", Input{Value: i})
	}

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked with no consumer")
	}

	var got []Event
	for ev := range c.Events() {
		got = append(got, ev)
	}
	assert.NotEmpty(t, got, "buffered event stays readable")
	assert.Equal(t, Input{Value: 0}, got[0])
	assert.Equal(t, 5, len(got)+rec.count(rec.dropped, "a/closed"))
}
