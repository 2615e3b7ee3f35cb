package jami

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tools.zach/dev/jamibus/internal/bus"
	"tools.zach/dev/jamibus/internal/logger"
)

// DefaultPollInterval is how often a listening [Listener] checks its stop flag.
const DefaultPollInterval = 10 * time.Millisecond

// ErrAlreadyStarted is returned by a second call to [Listener.Run].
var ErrAlreadyStarted = errors.New("listener already started")

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is the lifecycle stage of a Listener. Stages only move forward.
type State int32

const (
	// StateIdle means Run has not been called.
	StateIdle State = iota
	// StateStarting means subscriptions are being registered.
	StateStarting
	// StateListening means every subscription is active.
	StateListening
	// StateStopping means the loop exited and subscriptions are being removed.
	StateStopping
	// StateStopped means Run returned.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ///////////////////////////////////////////////
// Listener
// ///////////////////////////////////////////////

// Listener owns the daemon signal subscriptions for one listening session.
type Listener struct {
	// conn is the shared bus connection.
	conn bus.Conn
	// events receives decoded events and is closed when Run returns.
	events *EventChannel
	// poll is the stop flag check interval.
	poll time.Duration

	log     *slog.Logger
	metrics MetricsRecorder

	// state holds the current State.
	state atomic.Int32
	// started guards against a second Run.
	started atomic.Bool
	// fatal receives the first decode failure from a handler.
	fatal chan error
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithPollInterval sets how often the stop flag is checked.
func WithPollInterval(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLogger sets the listener's logger.
func WithLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ListenerOption {
	return func(l *Listener) { l.metrics = recorderOrNop(m) }
}

// NewListener returns a Listener that will publish to events.
func NewListener(conn bus.Conn, events *EventChannel, opts ...ListenerOption) *Listener {
	l := &Listener{
		conn:    conn,
		events:  events,
		poll:    DefaultPollInterval,
		log:     slog.Default(),
		metrics: nopMetrics{},
		fatal:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current lifecycle stage.
func (l *Listener) State() State { return State(l.state.Load()) }

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.SetListenerState(s.String())
}

// Run subscribes to every daemon signal and forwards decoded events until
// stop is set or ctx is done, both of which return nil. It returns an error
// if any subscription fails, if the bus connection is lost, or if a signal
// payload violates its contract. In every case the subscriptions are
// removed and the event channel is closed before Run returns.
//
// A flag that is already set makes Run return immediately without
// subscribing.
func (l *Listener) Run(ctx context.Context, stop *StopFlag) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	log := l.log.With("run", uuid.NewString())

	l.setState(StateStarting)
	if stop.Stopped() {
		log.Info("stop requested before listening")
		l.events.Close()
		l.setState(StateStopped)
		return nil
	}

	matches, err := l.subscribe()
	if err != nil {
		l.events.Close()
		l.setState(StateStopped)
		return err
	}
	l.setState(StateListening)
	log.Info("listening for daemon signals", "signals", len(matches), "poll", l.poll)

	err = l.wait(ctx, stop)

	l.setState(StateStopping)
	for _, m := range matches {
		if rmErr := m.Remove(); rmErr != nil {
			log.Warn("removing subscription", "error", rmErr)
		}
	}
	l.events.Close()
	l.setState(StateStopped)

	if err != nil {
		return err
	}
	log.Info("listener stopped")
	return nil
}

// subscribe registers a handler for every decoded signal. On failure the
// subscriptions already made are removed.
func (l *Listener) subscribe() ([]bus.Match, error) {
	names := Signals()
	matches := make([]bus.Match, 0, len(names))
	for _, name := range names {
		m, err := l.conn.Subscribe(Interface, name, l.handler(name))
		if err != nil {
			for _, done := range matches {
				_ = done.Remove()
			}
			return nil, fmt.Errorf("subscribing to %s: %w", name, err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// handler decodes one signal and publishes the event. It runs on the bus
// reactor and never blocks.
func (l *Listener) handler(name string) bus.Handler {
	return func(body []any) {
		l.metrics.RecordSignal(name)
		ev, err := Decode(name, body)
		if err != nil {
			l.metrics.RecordContractViolation(name)
			select {
			case l.fatal <- err:
			default:
			}
			return
		}
		logger.Trace(l.log, "signal received", "signal", name)
		l.events.send(name, ev)
	}
}

// wait blocks until a stop condition.
func (l *Listener) wait(ctx context.Context, stop *StopFlag) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		if stop.Stopped() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		case <-l.conn.Done():
			err := l.conn.Err()
			if err == nil {
				err = bus.ErrConnectionLost
			}
			return fmt.Errorf("listening: %w", err)
		case err := <-l.fatal:
			return fmt.Errorf("decoding signal: %w", err)
		}
	}
}
