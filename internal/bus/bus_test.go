package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatchesByName(t *testing.T) {
	r := newRouter()

	var got [][]any
	r.add("cx.ring.Ring.ConfigurationManager.conversationReady", func(body []any) {
		got = append(got, body)
	})

	n := r.dispatch("cx.ring.Ring.ConfigurationManager.conversationReady", []any{"acc", "conv"})
	assert.Equal(t, 1, n)
	n = r.dispatch("cx.ring.Ring.ConfigurationManager.conversationRemoved", []any{"acc", "conv"})
	assert.Equal(t, 0, n)

	require.Len(t, got, 1)
	assert.Equal(t, []any{"acc", "conv"}, got[0])
}

func TestRouterRemove(t *testing.T) {
	r := newRouter()
	a := r.add("x.y", func([]any) {})
	b := r.add("x.y", func([]any) {})
	assert.Equal(t, 2, r.size())

	assert.False(t, r.remove("x.y", a), "one handler remains")
	assert.True(t, r.remove("x.y", b), "name is empty now")
	assert.True(t, r.remove("x.y", b), "removing twice is harmless")
	assert.Equal(t, 0, r.size())
	assert.Equal(t, 0, r.dispatch("x.y", nil))
}

func TestRouterMultipleHandlers(t *testing.T) {
	r := newRouter()
	count := 0
	r.add("a.b", func([]any) { count++ })
	r.add("a.b", func([]any) { count++ })

	assert.Equal(t, 2, r.dispatch("a.b", nil))
	assert.Equal(t, 2, count)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "session", cfg.Address)
	assert.Equal(t, DefaultDestination, cfg.Destination)
	assert.Equal(t, DefaultPath, cfg.Path)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)

	custom := Config{Address: "system", CallTimeout: time.Second}.withDefaults()
	assert.Equal(t, "system", custom.Address)
	assert.Equal(t, time.Second, custom.CallTimeout)
}
