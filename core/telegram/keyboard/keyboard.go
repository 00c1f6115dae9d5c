// Package keyboard builds inline keyboards whose callback data is sent as is,
// without telebot's "\f<unique>|" prefix.
package keyboard

import tele "gopkg.in/telebot.v4"

// Button is one inline button.
type Button struct {
	Text string
	Data string
}

// Inline lays rows out as an inline keyboard. Empty rows are dropped and no
// rows yields nil so the message carries no markup.
func Inline(rows [][]Button) *tele.ReplyMarkup {
	var kb [][]tele.InlineButton
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for i, b := range row {
			r[i] = tele.InlineButton{Text: b.Text, Data: b.Data}
		}
		kb = append(kb, r)
	}
	if len(kb) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}
