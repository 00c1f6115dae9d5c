package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/bot/features"
)

func TestPingBuiltin(t *testing.T) {
	l := newTestLoader(t, WithBuiltins(DefaultBuiltins(nil)))
	h, err := l.Handler(context.Background(), "ping")
	require.NoError(t, err)

	conv := &fakeConv{}
	ok, err := h.HandleAction(context.Background(), conv, features.Action{ID: "ping"}, features.Feature{ID: "ping"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"Pong! 🏓"}, conv.texts())

	ok, err = h.HandleCallback(context.Background(), conv, "ping:x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEchoBuiltin(t *testing.T) {
	states := newFakeStates()
	l := newTestLoader(t, WithBuiltins(DefaultBuiltins(states)))
	ctx := context.Background()
	h, err := l.Handler(ctx, "echo")
	require.NoError(t, err)

	conv := &fakeConv{id: 5}
	ok, err := h.HandleAction(ctx, conv, features.Action{ID: "echo"}, features.Feature{ID: "echo"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, EchoPending, states.get(5))

	rx, ok := h.(TextReceiver)
	require.True(t, ok)
	require.NoError(t, rx.HandleText(ctx, conv, "hello there"))
	assert.Empty(t, states.get(5))

	require.NoError(t, rx.HandleText(ctx, conv, "   "))
	assert.Equal(t, []string{
		"Please send the text you want me to echo back.",
		"🔁 Echo: hello there",
		"❗ Please send some text to echo back.",
	}, conv.texts())
}
