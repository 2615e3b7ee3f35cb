package bustest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tools.zach/dev/jamibus/internal/bus"
)

var _ bus.Conn = (*Fake)(nil)

func TestFakeCallReplies(t *testing.T) {
	f := NewFake()
	f.Reply("getAccountList", []string{"a1"})
	f.Fail("removeAccount", errors.New("boom"))

	body, err := f.Call(context.Background(), "iface", "getAccountList")
	require.NoError(t, err)
	assert.Equal(t, []any{[]string{"a1"}}, body)

	_, err = f.Call(context.Background(), "iface", "removeAccount", "a1")
	assert.EqualError(t, err, "boom")

	_, err = f.Call(context.Background(), "iface", "unknown")
	assert.Error(t, err)

	calls := f.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []any{"a1"}, calls[1].Args)
}

func TestFakeSubscribeEmitRemove(t *testing.T) {
	f := NewFake()
	var got []any
	m, err := f.Subscribe("iface", "conversationReady", func(body []any) { got = body })
	require.NoError(t, err)
	assert.Equal(t, 1, f.Subscribed())

	assert.Equal(t, 1, f.Emit("conversationReady", "acc", "conv"))
	assert.Equal(t, []any{"acc", "conv"}, got)

	require.NoError(t, m.Remove())
	require.NoError(t, m.Remove())
	assert.Equal(t, 0, f.Subscribed())
	assert.Equal(t, []string{"conversationReady"}, f.Removed())
	assert.Equal(t, 0, f.Emit("conversationReady", "acc", "conv"))
}

func TestFakeDrop(t *testing.T) {
	f := NewFake()
	f.Drop()
	<-f.Done()
	assert.ErrorIs(t, f.Err(), bus.ErrConnectionLost)

	_, err := f.Subscribe("iface", "x", func([]any) {})
	assert.ErrorIs(t, err, bus.ErrConnectionLost)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Err(), bus.ErrConnectionLost, "first reason wins")
}
