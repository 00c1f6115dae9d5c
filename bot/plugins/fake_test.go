package plugins

import (
	"sync"

	"github.com/m3rciful/featurebot/core/telegram/state"
)

type sentMsg struct {
	Text string
	KB   Keyboard
	Edit bool
}

type fakeConv struct {
	id      int64
	mu      sync.Mutex
	sent    []sentMsg
	answers []string
	alerts  []bool
	editErr error
}

func (c *fakeConv) Identity() int64 { return c.id }

func (c *fakeConv) Send(text string, kb Keyboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMsg{Text: text, KB: kb})
	return nil
}

func (c *fakeConv) Edit(text string, kb Keyboard) error {
	if c.editErr != nil {
		return c.editErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMsg{Text: text, KB: kb, Edit: true})
	return nil
}

func (c *fakeConv) Answer(text string, alert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, text)
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *fakeConv) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, s := range c.sent {
		out = append(out, s.Text)
	}
	return out
}

type fakeStates struct {
	mu     sync.Mutex
	states map[int64]state.State
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: map[int64]state.State{}}
}

func (s *fakeStates) SetState(id int64, st state.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = st
}

func (s *fakeStates) ClearState(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
}

func (s *fakeStates) get(id int64) state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id]
}
