package jami

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

var (
	// ErrContract marks a payload whose shape does not match the daemon's
	// documented signature. It indicates a client/daemon version mismatch.
	ErrContract = errors.New("payload contract violation")
	// ErrUnknownSignal is returned for a signal with no registered decoder.
	ErrUnknownSignal = errors.New("unknown signal")
)

// ContractError describes a payload field that failed to decode.
type ContractError struct {
	// Signal is the signal member or record name.
	Signal string
	// Index is the positional field, or -1 for an arity mismatch.
	Index int
	// Want and Got describe the expected and actual shape.
	Want string
	Got  string
}

func (e *ContractError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: want %s, got %s", e.Signal, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: field %d: want %s, got %s", e.Signal, e.Index, e.Want, e.Got)
}

// Unwrap lets errors.Is match [ErrContract].
func (e *ContractError) Unwrap() error { return ErrContract }

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// ///////////////////////////////////////////////
// Payload Access
// ///////////////////////////////////////////////

// payload reads positional fields from a signal body. The first failure is
// kept in err and later reads return zero values, so a decoder can read all
// of its fields and check err once.
type payload struct {
	signal string
	body   []any
	err    error
}

// arity fails unless the body has one of the given lengths.
func (p *payload) arity(n ...int) {
	if p.err != nil {
		return
	}
	for _, want := range n {
		if len(p.body) == want {
			return
		}
	}
	want := fmt.Sprint(n[0])
	if len(n) > 1 {
		want = fmt.Sprint(n)
	}
	p.err = &ContractError{
		Signal: p.signal,
		Index:  -1,
		Want:   want + " fields",
		Got:    fmt.Sprintf("%d fields", len(p.body)),
	}
}

// field returns body[i] as T.
func field[T any](p *payload, i int) T {
	var zero T
	if p.err != nil {
		return zero
	}
	if i >= len(p.body) {
		p.err = &ContractError{Signal: p.signal, Index: i, Want: fmt.Sprintf("%T", zero), Got: "missing"}
		return zero
	}
	v, ok := p.body[i].(T)
	if !ok {
		p.err = &ContractError{Signal: p.signal, Index: i, Want: fmt.Sprintf("%T", zero), Got: typeName(p.body[i])}
		return zero
	}
	return v
}

func (p *payload) str(i int) string                  { return field[string](p, i) }
func (p *payload) u32(i int) uint32                  { return field[uint32](p, i) }
func (p *payload) i32(i int) int32                   { return field[int32](p, i) }
func (p *payload) u64(i int) uint64                  { return field[uint64](p, i) }
func (p *payload) bytes(i int) []byte                { return field[[]byte](p, i) }
func (p *payload) strMap(i int) map[string]string    { return field[map[string]string](p, i) }
func (p *payload) strMaps(i int) []map[string]string { return field[[]map[string]string](p, i) }

// integer accepts any fixed-size integer. Used where daemon versions
// disagree on the width of a field the event does not carry.
func (p *payload) integer(i int) int64 {
	if p.err != nil {
		return 0
	}
	if i >= len(p.body) {
		p.err = &ContractError{Signal: p.signal, Index: i, Want: "integer", Got: "missing"}
		return 0
	}
	switch v := p.body[i].(type) {
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	}
	p.err = &ContractError{Signal: p.signal, Index: i, Want: "integer", Got: typeName(p.body[i])}
	return 0
}

// ///////////////////////////////////////////////
// Decoders
// ///////////////////////////////////////////////

type decodeFunc func(p *payload) Event

// decoders maps every daemon signal member to its decoder. The table is
// fixed at init; a signal missing here is a contract error.
var decoders = map[string]decodeFunc{
	SignalAccountsChanged: func(*payload) Event {
		return AccountsChanged{}
	},
	SignalMessageReceived: func(p *payload) Event {
		p.arity(3)
		return Message{AccountID: p.str(0), ConversationID: p.str(1), Payload: p.strMap(2)}
	},
	SignalRegistrationStateChanged: func(p *payload) Event {
		p.arity(4)
		ev := RegistrationStateChanged{AccountID: p.str(0), State: p.str(1)}
		p.integer(2)
		p.str(3)
		return ev
	},
	SignalConversationReady: func(p *payload) Event {
		p.arity(2)
		return ConversationReady{AccountID: p.str(0), ConversationID: p.str(1)}
	},
	SignalConversationRemoved: func(p *payload) Event {
		p.arity(2)
		return ConversationRemoved{AccountID: p.str(0), ConversationID: p.str(1)}
	},
	SignalConversationRequestReceived: func(p *payload) Event {
		// Newer daemons append the request metadata.
		p.arity(2, 3)
		ev := ConversationRequest{AccountID: p.str(0), ConversationID: p.str(1)}
		if len(p.body) == 3 {
			p.strMap(2)
		}
		return ev
	},
	SignalRegisteredNameFound: func(p *payload) Event {
		p.arity(4)
		return RegisteredNameFound{
			AccountID: p.str(0),
			Status:    uint64(int64(p.i32(1))),
			Address:   p.str(2),
			Name:      p.str(3),
		}
	},
	SignalProfileReceived: func(p *payload) Event {
		p.arity(3)
		return ProfileReceived{AccountID: p.str(0), From: p.str(1), Path: p.str(2)}
	},
	SignalIncomingTrustRequest: func(p *payload) Event {
		p.arity(4)
		return IncomingTrustRequest{
			AccountID:  p.str(0),
			From:       p.str(1),
			Payload:    p.bytes(2),
			ReceivedAt: p.u64(3),
		}
	},
	SignalConversationLoaded: func(p *payload) Event {
		p.arity(4)
		return ConversationLoaded{
			RequestID:      p.u32(0),
			AccountID:      p.str(1),
			ConversationID: p.str(2),
			Messages:       p.strMaps(3),
		}
	},
	SignalDataTransferEvent: func(p *payload) Event {
		p.arity(4)
		return DataTransferEvent{
			AccountID:      p.str(0),
			ConversationID: p.str(1),
			ID:             p.u64(2),
			Code:           p.i32(3),
		}
	},
}

// Decode converts the body of the named signal into its event. It returns
// an error wrapping [ErrUnknownSignal] for an unregistered name and a
// [*ContractError] for a body of the wrong shape.
func Decode(signal string, body []any) (Event, error) {
	d, ok := decoders[signal]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, signal)
	}
	p := &payload{signal: signal, body: body}
	ev := d(p)
	if p.err != nil {
		return nil, p.err
	}
	return ev, nil
}

// Signals returns the names of every decoded signal, sorted.
func Signals() []string {
	names := make([]string, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
