package helpers

import (
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
)

// IsParseError reports a Telegram rejection of the message entities.
func IsParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "can't parse entities")
}

// IsNotModified reports an edit that would not change the message.
func IsNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// SendMDOrPlain sends text as Markdown and resends it without a parse mode
// when Telegram rejects the entities.
func SendMDOrPlain(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	err := c.Send(text, &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup})
	if !IsParseError(err) {
		return err
	}
	logger.Debug(BuildContext(c), "tg", "send.plain_retry", slog.String("err", err.Error()))
	return c.Send(text, &tele.SendOptions{ReplyMarkup: markup})
}

// EditMDOrPlain is SendMDOrPlain for edits. An unchanged message is not an error.
func EditMDOrPlain(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	err := c.Edit(text, &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup})
	if IsParseError(err) {
		err = c.Edit(text, &tele.SendOptions{ReplyMarkup: markup})
	}
	if IsNotModified(err) {
		return nil
	}
	return err
}
