// Package ui holds small presentation helpers shared by bot handlers.
package ui

import tele "gopkg.in/telebot.v4"

// FallbackProvider answers updates no route claimed.
type FallbackProvider interface {
	UnknownText() tele.HandlerFunc
	UnknownDocument() tele.HandlerFunc
	UnknownCallback() tele.HandlerFunc
}

// Article builds an inline query article with Markdown text.
func Article(id, title, text, description string) *tele.ArticleResult {
	r := &tele.ArticleResult{
		Title:       title,
		Text:        text,
		Description: description,
	}
	r.ParseMode = tele.ModeMarkdown
	r.SetResultID(id)
	return r
}
