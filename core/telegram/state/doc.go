// Package state provides a lightweight FSM/session manager for Telegram bots.
package state
