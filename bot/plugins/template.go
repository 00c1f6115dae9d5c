package plugins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/featurebot/bot/features"
)

const (
	templateFile  = "handler.yaml"
	noDescription = "No description provided."
	generatedTip  = "_Tip: this action was generated automatically. If you are the admin you can customize its behavior._"
)

// module is the on-disk schema of handler.yaml.
type module struct {
	Feature   string          `yaml:"feature"`
	Name      string          `yaml:"name"`
	Generated time.Time       `yaml:"generated"`
	Actions   []moduleAction  `yaml:"actions"`
	Submenus  []moduleSubmenu `yaml:"submenus,omitempty"`
}

type moduleAction struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label,omitempty"`
	Reply string `yaml:"reply"`
}

type moduleSubmenu struct {
	ID      string         `yaml:"id"`
	Text    string         `yaml:"text"`
	Actions []moduleAction `yaml:"actions"`
}

func describe(d string) string {
	if strings.TrimSpace(d) == "" {
		return noDescription
	}
	return d
}

func buttonLabel(emoji, name string) string {
	if emoji == "" {
		emoji = "⚙️"
	}
	return emoji + " " + name
}

// generateModule renders the declarative module for f.
func generateModule(f features.Feature, now time.Time) module {
	m := module{
		Feature:   f.ID,
		Name:      f.Name,
		Generated: now.UTC(),
		Actions:   make([]moduleAction, 0, len(f.Actions)),
	}
	for _, a := range f.Actions {
		m.Actions = append(m.Actions, moduleAction{
			ID:    a.ID,
			Reply: fmt.Sprintf("🎯 *%s*\n\n%s\n\n%s", a.Name, describe(a.Description), generatedTip),
		})
	}
	for _, s := range f.Submenus {
		ms := moduleSubmenu{
			ID:   s.ID,
			Text: fmt.Sprintf("🎯 *%s*\n\n%s\n\nSelect an option:", s.Name, describe(s.Description)),
		}
		for _, a := range s.Actions {
			ms.Actions = append(ms.Actions, moduleAction{
				ID:    a.ID,
				Label: buttonLabel(a.Emoji, a.Name),
				Reply: fmt.Sprintf("📋 *%s* > *%s*\n\n%s", s.Name, a.Name, describe(a.Description)),
			})
		}
		m.Submenus = append(m.Submenus, ms)
	}
	return m
}

func encodeModule(m module) ([]byte, error) {
	return yaml.Marshal(m)
}

func decodeModule(body []byte) (module, error) {
	var m module
	if err := yaml.Unmarshal(body, &m); err != nil {
		return module{}, err
	}
	if m.Feature == "" {
		return module{}, fmt.Errorf("handler.yaml: missing feature")
	}
	return m, nil
}

// templateHandler serves a generated module.
type templateHandler struct {
	m module
}

func newTemplateHandler(m module) *templateHandler {
	return &templateHandler{m: m}
}

func backToFeature(id string) Keyboard {
	return Keyboard{{{Text: "🔙 Back", Data: "feature:" + id}}}
}

func (h *templateHandler) HandleAction(_ context.Context, conv Conversation, action features.Action, _ features.Feature) (bool, error) {
	if len(h.m.Actions) == 0 && len(h.m.Submenus) == 0 {
		_ = conv.Answer("", false)
		return true, conv.Send("⚠️ Unknown action.", nil)
	}
	for _, a := range h.m.Actions {
		if a.ID == action.ID {
			_ = conv.Answer("", false)
			return true, conv.Send(a.Reply, backToFeature(h.m.Feature))
		}
	}
	for _, s := range h.m.Submenus {
		for _, a := range s.Actions {
			if a.ID == action.ID {
				_ = conv.Answer("", false)
				return true, conv.Send(a.Reply, backToFeature(h.m.Feature))
			}
		}
	}
	return false, nil
}

func (h *templateHandler) HandleCallback(_ context.Context, conv Conversation, token string) (bool, error) {
	prefix := h.m.Feature + ":"
	if !strings.HasPrefix(token, prefix) {
		return false, nil
	}
	parts := strings.Split(token, ":")
	switch len(parts) {
	case 2:
		for _, s := range h.m.Submenus {
			if s.ID != parts[1] {
				continue
			}
			_ = conv.Answer("", false)
			row := make([]Button, 0, len(s.Actions)+1)
			for _, a := range s.Actions {
				row = append(row, Button{Text: a.Label, Data: h.m.Feature + ":" + s.ID + ":" + a.ID})
			}
			row = append(row, Button{Text: "🔙 Back", Data: "feature:" + h.m.Feature})
			kb := Keyboard{row}
			if err := conv.Edit(s.Text, kb); err != nil {
				return true, conv.Send(s.Text, kb)
			}
			return true, nil
		}
	case 3:
		for _, s := range h.m.Submenus {
			if s.ID != parts[1] {
				continue
			}
			for _, a := range s.Actions {
				if a.ID == parts[2] {
					_ = conv.Answer("", false)
					return true, conv.Send(a.Reply, nil)
				}
			}
		}
	}
	_ = conv.Answer("Unknown action", false)
	return false, nil
}
