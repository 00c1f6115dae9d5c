package state

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
)

// DefaultTTL bounds how long an untouched session survives.
const DefaultTTL = 30 * time.Minute

type memoryManager struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session

	handlersMu sync.RWMutex
	handlers   map[State]tele.HandlerFunc
}

// Option customizes the in-memory manager.
type Option func(*memoryManager)

// WithTTL sets the idle lifetime of a session. Zero or less keeps sessions forever.
func WithTTL(d time.Duration) Option {
	return func(m *memoryManager) { m.ttl = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *memoryManager) { m.now = now }
}

// NewMemoryManager builds a Manager that keeps sessions in process memory.
// Sessions do not survive restarts.
func NewMemoryManager(opts ...Option) Manager {
	m := &memoryManager{
		ttl:      DefaultTTL,
		now:      time.Now,
		sessions: make(map[int64]*Session),
		handlers: make(map[State]tele.HandlerFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *memoryManager) RegisterHandler(st State, h tele.HandlerFunc) {
	if h == nil {
		return
	}
	m.handlersMu.Lock()
	m.handlers[st] = h
	m.handlersMu.Unlock()
}

func (m *memoryManager) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.Touched) > m.ttl
}

// lookup returns a live session; expired ones are dropped. Callers hold mu.
func (m *memoryManager) lookup(userID int64) *Session {
	s, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if m.expired(s, m.now()) {
		delete(m.sessions, userID)
		return nil
	}
	return s
}

// touch returns the live session, creating an idle one. Callers hold mu.
func (m *memoryManager) touch(userID int64) *Session {
	s := m.lookup(userID)
	if s == nil {
		s = &Session{State: StateIdle, TempData: make(map[string]any)}
		m.sessions[userID] = s
	}
	s.Touched = m.now()
	return s
}

func (m *memoryManager) SetState(userID int64, st State) {
	m.mu.Lock()
	m.touch(userID).State = st
	m.mu.Unlock()
}

func (m *memoryManager) GetState(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.lookup(userID); s != nil {
		return s.State
	}
	return StateIdle
}

// ClearState returns the user to idle and keeps the temp values.
func (m *memoryManager) ClearState(userID int64) {
	m.mu.Lock()
	if s := m.lookup(userID); s != nil {
		s.State = StateIdle
	}
	m.mu.Unlock()
}

func (m *memoryManager) InProgress(userID int64) bool {
	return m.GetState(userID) != StateIdle
}

func (m *memoryManager) SetTemp(userID int64, key string, value any) {
	m.mu.Lock()
	m.touch(userID).TempData[key] = value
	m.mu.Unlock()
}

func (m *memoryManager) GetTemp(userID int64, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.lookup(userID)
	if s == nil {
		return nil, false
	}
	v, ok := s.TempData[key]
	return v, ok
}

func (m *memoryManager) ClearTemp(userID int64, key string) {
	m.mu.Lock()
	if s := m.lookup(userID); s != nil {
		delete(s.TempData, key)
	}
	m.mu.Unlock()
}

func (m *memoryManager) Clear(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

func (m *memoryManager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// ManagerHandler runs the handler registered for the sender's current state.
func (m *memoryManager) ManagerHandler(c tele.Context) error {
	userID := c.Sender().ID
	current := m.GetState(userID)
	ctx := tghelpers.BuildContext(c)

	m.handlersMu.RLock()
	handler, ok := m.handlers[current]
	m.handlersMu.RUnlock()
	if !ok {
		logger.Debug(ctx, "tg", "fsm.unhandled",
			slog.Int64("user_id", userID),
			slog.String("state", string(current)),
		)
		m.Clear(userID)
		return nil
	}
	logger.Debug(ctx, "tg", "fsm.step",
		slog.Int64("user_id", userID),
		slog.String("state", string(current)),
	)
	m.mu.Lock()
	if s := m.lookup(userID); s != nil {
		s.Touched = m.now()
	}
	m.mu.Unlock()
	return handler(c)
}
