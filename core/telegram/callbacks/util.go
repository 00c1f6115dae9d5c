// Package callbacks reads callback query payloads.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Split separates callback data into its namespace and the rest at the first
// colon. Buttons built with a telebot Unique ("\f<unique>|<data>") split on
// the unique instead.
func Split(cb *tele.Callback) (ns, rest string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	if raw, ok := strings.CutPrefix(cb.Data, "\f"); ok {
		ns, rest, _ = strings.Cut(raw, "|")
		return ns, rest
	}
	ns, rest, _ = strings.Cut(cb.Data, ":")
	return strings.TrimSpace(ns), rest
}
