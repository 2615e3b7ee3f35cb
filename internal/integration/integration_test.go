// Package integration exercises the daemon pipeline end to end: signals
// emitted on a fake bus flow through the listener and event channel into the
// transfer manager, with metrics recorded along the way.
package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tools.zach/dev/jamibus/internal/bus"
	"tools.zach/dev/jamibus/internal/bus/bustest"
	"tools.zach/dev/jamibus/internal/jami"
	"tools.zach/dev/jamibus/internal/metrics"
	"tools.zach/dev/jamibus/internal/transfers"
)

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

const poll = 5 * time.Millisecond

// pipeline wires the same components the daemon does around a fake bus.
type pipeline struct {
	conn      *bustest.Fake
	events    *jami.EventChannel
	listener  *jami.Listener
	client    *jami.Client
	transfers *transfers.Manager
	metrics   *metrics.Manager
	stop      *jami.StopFlag
	dir       string

	runErr   chan error
	consumed chan []jami.Event
}

func newPipeline(t *testing.T, policy transfers.Policy) *pipeline {
	t.Helper()
	p := &pipeline{
		conn:     bustest.NewFake(),
		metrics:  metrics.NewManager(metrics.Config{Enabled: true}),
		stop:     jami.NewStopFlag(),
		dir:      filepath.Join(t.TempDir(), "downloads"),
		runErr:   make(chan error, 1),
		consumed: make(chan []jami.Event, 1),
	}
	p.events = jami.NewEventChannel(4, jami.WithChannelMetrics(p.metrics))
	p.client = jami.NewClient(p.conn, jami.WithClientMetrics(p.metrics))
	p.transfers = transfers.NewManager(p.client, p.dir,
		transfers.WithPolicy(policy),
		transfers.WithRecorder(p.metrics),
	)
	p.listener = jami.NewListener(p.conn, p.events,
		jami.WithPollInterval(poll),
		jami.WithMetrics(p.metrics),
	)
	return p
}

// start runs the listener and a consumer that feeds transfer events to the
// manager and keeps everything it saw.
func (p *pipeline) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	go func() { p.runErr <- p.listener.Run(ctx, p.stop) }()
	go func() {
		var seen []jami.Event
		for ev := range p.events.Events() {
			if dt, ok := ev.(jami.DataTransferEvent); ok {
				p.transfers.Handle(ctx, dt)
			}
			seen = append(seen, ev)
		}
		p.consumed <- seen
	}()

	deadline := time.Now().Add(time.Second)
	for p.listener.State() != jami.StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("listener state = %v, want listening", p.listener.State())
		}
		time.Sleep(time.Millisecond)
	}
}

// finish waits for Run and the consumer, returning the consumed events and
// Run's error.
func (p *pipeline) finish(t *testing.T) ([]jami.Event, error) {
	t.Helper()
	var err error
	select {
	case err = <-p.runErr:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	select {
	case seen := <-p.consumed:
		return seen, err
	case <-time.After(time.Second):
		t.Fatal("consumer did not finish")
		return nil, err
	}
}

// counter sums every sample of the named counter carrying label value v.
func counter(t *testing.T, m *metrics.Manager, name, v string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetValue() == v {
					sum += metric.GetCounter().GetValue()
				}
			}
		}
	}
	return sum
}

func offered(name, mime string, size int64) jami.TransferInfo {
	return jami.TransferInfo{
		AccountID:      "acc",
		LastEvent:      uint32(jami.TransferWaitHostAcceptance),
		TotalSize:      size,
		Author:         "peer",
		Peer:           "peer",
		ConversationID: "conv",
		DisplayName:    name,
		MimeType:       mime,
	}
}

// ///////////////////////////////////////////////
// Pipeline Tests
// ///////////////////////////////////////////////

func TestPipeline_AutoAcceptsAllowedOffer(t *testing.T) {
	p := newPipeline(t, transfers.Policy{Names: []string{"*.png"}, MaxBytes: 1 << 20})
	p.conn.Reply("dataTransferInfo", uint32(0), offered("cat.png", "image/png", 2048).Tuple())
	p.conn.Reply("acceptFileTransfer", uint32(0))
	p.start(t)

	if n := p.conn.Emit(jami.SignalDataTransferEvent, "acc", "conv", uint64(9), int32(jami.TransferWaitHostAcceptance)); n != 1 {
		t.Fatalf("Emit delivered to %d handlers, want 1", n)
	}
	deadline := time.Now().Add(time.Second)
	for {
		if rec, ok := p.transfers.Get(9); ok && rec.Destination != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transfer was not auto-accepted")
		}
		time.Sleep(time.Millisecond)
	}

	p.stop.Stop()
	seen, err := p.finish(t)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(seen) != 1 {
		t.Errorf("consumer saw %d events, want 1", len(seen))
	}

	rec, _ := p.transfers.Get(9)
	if want := filepath.Join(p.dir, "cat.png"); rec.Destination != want {
		t.Errorf("Destination = %q, want %q", rec.Destination, want)
	}
	if _, err := os.Stat(p.dir); err != nil {
		t.Errorf("download dir not created: %v", err)
	}

	var accepted bool
	for _, c := range p.conn.Calls() {
		if c.Method == "acceptFileTransfer" {
			accepted = true
			if c.Iface != jami.Interface {
				t.Errorf("acceptFileTransfer interface = %q, want %q", c.Iface, jami.Interface)
			}
		}
	}
	if !accepted {
		t.Error("acceptFileTransfer was never called")
	}
	if got := counter(t, p.metrics, "jamibus_transfers_total", "auto_accepted"); got != 1 {
		t.Errorf("auto_accepted transfers = %v, want 1", got)
	}
	if got := counter(t, p.metrics, "jamibus_calls_total", "ok"); got != 2 {
		t.Errorf("successful calls = %v, want 2", got)
	}
}

func TestPipeline_RejectedOfferIsOnlyTracked(t *testing.T) {
	p := newPipeline(t, transfers.Policy{Names: []string{"*.png"}})
	p.conn.Reply("dataTransferInfo", uint32(0), offered("setup.exe", "application/octet-stream", 10).Tuple())
	p.start(t)

	p.conn.Emit(jami.SignalDataTransferEvent, "acc", "conv", uint64(3), int32(jami.TransferWaitHostAcceptance))
	p.stop.Stop()
	if _, err := p.finish(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	rec, ok := p.transfers.Get(3)
	if !ok {
		t.Fatal("transfer not tracked")
	}
	if rec.Accepted || rec.Destination != "" {
		t.Errorf("record = %+v, want pending offer", rec)
	}
	for _, c := range p.conn.Calls() {
		if c.Method == "acceptFileTransfer" {
			t.Error("acceptFileTransfer called for a rejected offer")
		}
	}
}

func TestPipeline_ConnectionLossStopsEverything(t *testing.T) {
	p := newPipeline(t, transfers.Policy{})
	p.start(t)

	if got := p.metrics.ListenerState(); got != "listening" {
		t.Errorf("ListenerState() = %q, want listening", got)
	}
	p.conn.Emit(jami.SignalAccountsChanged)
	p.conn.Drop()

	seen, err := p.finish(t)
	if err == nil {
		t.Fatal("Run() returned nil after the connection dropped")
	}
	if !errors.Is(err, bus.ErrConnectionLost) {
		t.Errorf("Run() error = %v, want ErrConnectionLost", err)
	}
	if len(seen) != 1 {
		t.Errorf("consumer saw %d events, want the one emitted before the drop", len(seen))
	}
	if got := p.metrics.ListenerState(); got != "stopped" {
		t.Errorf("ListenerState() = %q, want stopped", got)
	}
	if n := len(p.conn.Removed()); n != len(jami.Signals()) {
		t.Errorf("removed %d subscriptions, want %d", n, len(jami.Signals()))
	}
}

func TestPipeline_ContractViolationIsFatal(t *testing.T) {
	p := newPipeline(t, transfers.Policy{})
	p.start(t)

	// Transfer id must be uint64.
	p.conn.Emit(jami.SignalDataTransferEvent, "acc", "conv", "nine", int32(1))

	seen, err := p.finish(t)
	var ce *jami.ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("Run() error = %v, want *jami.ContractError", err)
	}
	if ce.Signal != jami.SignalDataTransferEvent || ce.Index != 2 {
		t.Errorf("ContractError = %+v, want signal %s index 2", ce, jami.SignalDataTransferEvent)
	}
	if len(seen) != 0 {
		t.Errorf("consumer saw %d events, want none", len(seen))
	}
}
