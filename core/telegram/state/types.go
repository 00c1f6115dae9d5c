package state

import (
	"time"

	tele "gopkg.in/telebot.v4"
)

// State names a step of a multi-message conversation.
type State string

// StateIdle means the user is not inside any conversation.
const StateIdle State = "idle"

// Session is one user's conversation step plus the values collected so far.
type Session struct {
	State    State
	TempData map[string]any
	Touched  time.Time
}

// Manager keeps per-user sessions and routes their next message.
type Manager interface {
	RegisterHandler(st State, h tele.HandlerFunc)

	SetState(userID int64, st State)
	GetState(userID int64) State
	ClearState(userID int64)
	InProgress(userID int64) bool

	SetTemp(userID int64, key string, value any)
	GetTemp(userID int64, key string) (any, bool)
	ClearTemp(userID int64, key string)

	// Clear drops the session with its temp values.
	Clear(userID int64)
	// Sweep drops sessions idle for longer than the TTL and returns how many.
	Sweep(now time.Time) int

	ManagerHandler(c tele.Context) error
}
