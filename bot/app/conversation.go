package app

import (
	"errors"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/bot/plugins"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
	"github.com/m3rciful/featurebot/core/telegram/keyboard"
)

var errNoMessage = errors.New("app: no message to edit")

// conversation adapts a tele.Context to plugins.Conversation.
// Only the first Answer reaches Telegram; a callback query can be answered once.
type conversation struct {
	c tele.Context

	mu       sync.Mutex
	answered bool
}

func newConversation(c tele.Context) *conversation {
	return &conversation{c: c}
}

func (v *conversation) Identity() int64 {
	if u := v.c.Sender(); u != nil {
		return u.ID
	}
	return 0
}

func (v *conversation) Send(text string, kb plugins.Keyboard) error {
	return tghelpers.SendMDOrPlain(v.c, text, markup(kb))
}

// Edit rewrites the message that carried the callback. Without one it fails
// with errNoMessage so callers fall back to Send.
func (v *conversation) Edit(text string, kb plugins.Keyboard) error {
	cb := v.c.Callback()
	if cb == nil || cb.Message == nil {
		return errNoMessage
	}
	return tghelpers.EditMDOrPlain(v.c, text, markup(kb))
}

func (v *conversation) Answer(text string, alert bool) error {
	if v.c.Callback() == nil {
		if text == "" {
			return nil
		}
		return v.Send(text, nil)
	}
	v.mu.Lock()
	if v.answered {
		v.mu.Unlock()
		return nil
	}
	v.answered = true
	v.mu.Unlock()
	return v.c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: alert})
}

// Answered reports whether the callback answer was already sent.
func (v *conversation) Answered() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.answered
}

func markup(kb plugins.Keyboard) *tele.ReplyMarkup {
	rows := make([][]keyboard.Button, len(kb))
	for i, row := range kb {
		for _, b := range row {
			rows[i] = append(rows[i], keyboard.Button{Text: b.Text, Data: b.Data})
		}
	}
	return keyboard.Inline(rows)
}

// present edits the current message when possible and sends a new one otherwise.
func present(conv plugins.Conversation, text string, kb plugins.Keyboard) error {
	if err := conv.Edit(text, kb); err == nil {
		return nil
	}
	return conv.Send(text, kb)
}
