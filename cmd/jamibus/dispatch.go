package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tools.zach/dev/jamibus/internal/jami"
	"tools.zach/dev/jamibus/internal/transfers"
)

// ///////////////////////////////////////////////
// Event Dispatch
// ///////////////////////////////////////////////

// transferHandler tracks file transfer progress. *transfers.Manager
// satisfies it.
type transferHandler interface {
	Handle(ctx context.Context, ev jami.DataTransferEvent) transfers.Record
}

// eventView shows events to the user and reports whether they asked to quit.
// *console.Console satisfies it.
type eventView interface {
	Handle(ctx context.Context, ev jami.Event) bool
}

// dispatcher is the single consumer of the event channel.
type dispatcher struct {
	transfers transferHandler
	// view is nil when running headless; events are then logged.
	view eventView
	stop *jami.StopFlag
	log  *slog.Logger
}

// consume dispatches events until the channel is closed.
func (d *dispatcher) consume(ctx context.Context, events <-chan jami.Event) {
	for ev := range events {
		d.dispatch(ctx, ev)
	}
}

func (d *dispatcher) dispatch(ctx context.Context, ev jami.Event) {
	if dt, ok := ev.(jami.DataTransferEvent); ok && d.transfers != nil {
		d.transfers.Handle(ctx, dt)
	}

	if d.view != nil {
		if d.view.Handle(ctx, ev) {
			d.log.Info("quit requested from console")
			d.stop.Stop()
		}
		return
	}

	switch ev.(type) {
	case jami.Input, jami.Resize:
		return
	}
	d.log.Info("daemon event", "type", eventType(ev), "event", fmt.Sprintf("%+v", ev))
}

// eventType returns the bare type name of ev, e.g. "Message".
func eventType(ev jami.Event) string {
	name := fmt.Sprintf("%T", ev)
	return name[strings.LastIndexByte(name, '.')+1:]
}
