package jami

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ///////////////////////////////////////////////
// EventChannel
// ///////////////////////////////////////////////

// EventChannel carries events from many producers to one consumer.
//
// Each producer source (a signal name, or "input" for injected events) owns
// a lane. A send goes straight into the bounded consumer channel when the
// lane is idle and there is room; otherwise it is queued in the lane and a
// lane worker delivers it once the consumer catches up. Producers never
// block, and events from one source keep their order.
type EventChannel struct {
	// ch is the bounded consumer channel.
	ch chan Event
	// done is closed by Close to release lane workers.
	done chan struct{}

	// mu guards closed. Senders hold the read lock for the whole send so
	// Close cannot race a worker start.
	mu     sync.RWMutex
	closed bool

	// lanesMu guards lanes.
	lanesMu sync.Mutex
	lanes   map[string]*lane

	// wg tracks running lane workers.
	wg        sync.WaitGroup
	closeOnce sync.Once

	metrics MetricsRecorder
	log     *slog.Logger
	// warn throttles backpressure warnings.
	warn rate.Sometimes
}

// lane is the per-source FIFO used while the consumer is behind.
type lane struct {
	name string

	// mu guards queue and active.
	mu    sync.Mutex
	queue []Event
	// active is true while a worker goroutine owns the lane.
	active bool
}

// ChannelOption configures an EventChannel.
type ChannelOption func(*EventChannel)

// WithChannelMetrics sets the metrics recorder.
func WithChannelMetrics(m MetricsRecorder) ChannelOption {
	return func(c *EventChannel) { c.metrics = recorderOrNop(m) }
}

// WithChannelLogger sets the logger used for backpressure warnings.
func WithChannelLogger(l *slog.Logger) ChannelOption {
	return func(c *EventChannel) {
		if l != nil {
			c.log = l
		}
	}
}

// NewEventChannel returns an open channel holding up to capacity undelivered
// events before lanes start queueing. Capacity below 1 is raised to 1.
func NewEventChannel(capacity int, opts ...ChannelOption) *EventChannel {
	c := &EventChannel{
		ch:      make(chan Event, max(capacity, 1)),
		done:    make(chan struct{}),
		lanes:   make(map[string]*lane),
		metrics: nopMetrics{},
		log:     slog.Default(),
		warn:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the consumer side. It is closed after Close once every lane
// worker has exited.
func (c *EventChannel) Events() <-chan Event { return c.ch }

// Input injects an application value as an [Input] event.
func (c *EventChannel) Input(v any) { c.send(sourceInput, Input{Value: v}) }

// Resize injects a [Resize] event.
func (c *EventChannel) Resize() { c.send(sourceInput, Resize{}) }

// Pending returns the number of events queued in lanes, not counting those
// already in the consumer channel.
func (c *EventChannel) Pending() int {
	c.lanesMu.Lock()
	defer c.lanesMu.Unlock()
	n := 0
	for _, l := range c.lanes {
		l.mu.Lock()
		n += len(l.queue)
		l.mu.Unlock()
	}
	return n
}

// Close stops accepting events, abandons queued lane items, and closes the
// consumer channel. Events already in the consumer channel stay readable.
// Close is idempotent.
func (c *EventChannel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()

		c.wg.Wait()
		close(c.ch)
	})
}

// send enqueues ev from source without blocking. Sends after Close are
// dropped silently.
func (c *EventChannel) send(source string, ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.metrics.RecordDropped(source, "closed")
		return
	}

	l := c.lane(source)
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.active && len(l.queue) == 0 {
		select {
		case c.ch <- ev:
			c.metrics.RecordDelivered(source)
			return
		default:
		}
	}

	l.queue = append(l.queue, ev)
	c.metrics.RecordDeferred(source)
	pending := len(l.queue)
	c.warn.Do(func() {
		c.log.Warn("event consumer falling behind", "source", source, "pending", pending)
	})

	if !l.active {
		l.active = true
		c.wg.Add(1)
		go c.drain(l)
	}
}

// lane returns the lane for source, creating it on first use.
func (c *EventChannel) lane(source string) *lane {
	c.lanesMu.Lock()
	defer c.lanesMu.Unlock()
	l, ok := c.lanes[source]
	if !ok {
		l = &lane{name: source}
		c.lanes[source] = l
	}
	return l
}

// drain delivers queued events of l in order until the lane is empty or the
// channel closes.
func (c *EventChannel) drain(l *lane) {
	defer c.wg.Done()

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.active = false
			l.mu.Unlock()
			return
		}
		ev := l.queue[0]
		l.mu.Unlock()

		select {
		case c.ch <- ev:
			l.mu.Lock()
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			c.metrics.RecordDelivered(l.name)
		case <-c.done:
			l.mu.Lock()
			abandoned := len(l.queue)
			l.queue = nil
			l.active = false
			l.mu.Unlock()
			for range abandoned {
				c.metrics.RecordDropped(l.name, "closed")
			}
			return
		}
	}
}
