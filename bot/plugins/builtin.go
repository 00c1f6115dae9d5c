package plugins

import (
	"context"
	"strings"

	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/core/telegram/state"
)

// EchoPending is the FSM state set while echo waits for the user's text.
const EchoPending state.State = "echo.pending"

// Factory builds a built-in handler.
type Factory func() Handler

// StateStore is the part of the FSM manager the built-ins need.
type StateStore interface {
	SetState(userID int64, st state.State)
	ClearState(userID int64)
}

// DefaultBuiltins returns the handlers compiled into the binary, keyed by feature id.
func DefaultBuiltins(states StateStore) map[string]Factory {
	return map[string]Factory{
		"ping": func() Handler { return pingHandler{} },
		"echo": func() Handler { return &echoHandler{states: states} },
	}
}

// BuiltinFeatures are the registry records seeded for the built-in handlers.
func BuiltinFeatures() []features.Draft {
	return []features.Draft{
		{
			ID:          "ping",
			Name:        "Ping",
			Description: "Check that the bot is alive",
			Emoji:       "🏓",
			Actions:     []features.Action{{ID: "ping", Name: "Ping", Description: "Send a ping", Emoji: "🏓"}},
		},
		{
			ID:          "echo",
			Name:        "Echo",
			Description: "Repeat back the next message you send",
			Emoji:       "🔁",
			Actions:     []features.Action{{ID: "echo", Name: "Echo", Description: "Echo a message", Emoji: "🔁"}},
		},
	}
}

type pingHandler struct{}

func (pingHandler) HandleAction(_ context.Context, conv Conversation, _ features.Action, _ features.Feature) (bool, error) {
	_ = conv.Answer("", false)
	return true, conv.Send("Pong! 🏓", nil)
}

func (pingHandler) HandleCallback(context.Context, Conversation, string) (bool, error) {
	return false, nil
}

type echoHandler struct {
	states StateStore
}

func (h *echoHandler) HandleAction(_ context.Context, conv Conversation, _ features.Action, _ features.Feature) (bool, error) {
	_ = conv.Answer("", false)
	if err := conv.Send("Please send the text you want me to echo back.", nil); err != nil {
		return true, err
	}
	if h.states != nil {
		h.states.SetState(conv.Identity(), EchoPending)
	}
	return true, nil
}

func (h *echoHandler) HandleCallback(context.Context, Conversation, string) (bool, error) {
	return false, nil
}

// HandleText consumes the pending echo. The state is cleared before replying.
func (h *echoHandler) HandleText(_ context.Context, conv Conversation, text string) error {
	if h.states != nil {
		h.states.ClearState(conv.Identity())
	}
	if strings.TrimSpace(text) == "" {
		return conv.Send("❗ Please send some text to echo back.", nil)
	}
	return conv.Send("🔁 Echo: "+text, nil)
}
