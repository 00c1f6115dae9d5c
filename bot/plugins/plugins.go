// Package plugins resolves feature ids to executable handlers.
//
// A handler is either built into the binary (ping, echo) or a module on disk
// under <dir>/<featureID>/: handler.yaml for generated declarative replies or
// handler.star for a sandboxed Starlark script. Modules are reloaded when
// their file changes.
package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3rciful/featurebot/bot/features"
)

// ErrHandlerLoad matches every *LoadError.
var ErrHandlerLoad = errors.New("plugins: handler load failed")

// LoadError reports why a feature's handler could not be built.
type LoadError struct {
	FeatureID string
	Path      string
	Err       error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load handler %s: %v", e.FeatureID, e.Err)
	}
	return fmt.Sprintf("load handler %s (%s): %v", e.FeatureID, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrHandlerLoad) match.
func (e *LoadError) Is(target error) bool { return target == ErrHandlerLoad }

// Button is an inline keyboard button carrying a raw callback token.
type Button struct {
	Text string
	Data string
}

// Keyboard is a list of button rows.
type Keyboard [][]Button

// Rows lays buttons out n per row.
func Rows(buttons []Button, n int) Keyboard {
	if n <= 0 {
		n = 1
	}
	var kb Keyboard
	for i := 0; i < len(buttons); i += n {
		end := i + n
		if end > len(buttons) {
			end = len(buttons)
		}
		kb = append(kb, append([]Button(nil), buttons[i:end]...))
	}
	return kb
}

// Conversation is the reply channel a handler gets for one update.
// Texts are Markdown.
type Conversation interface {
	Identity() int64
	Send(text string, kb Keyboard) error
	Edit(text string, kb Keyboard) error
	Answer(text string, alert bool) error
}

// AnswerTracker is implemented by conversations that deliver only the first
// Answer of a callback. Answered reports whether that answer is spent.
type AnswerTracker interface {
	Answered() bool
}

// Handler executes a feature's actions and callbacks.
// The bool result reports whether the handler took care of the input.
type Handler interface {
	HandleAction(ctx context.Context, conv Conversation, action features.Action, feature features.Feature) (bool, error)
	HandleCallback(ctx context.Context, conv Conversation, token string) (bool, error)
}

// Initializer is implemented by handlers that need setup after loading.
type Initializer interface {
	Init(ctx context.Context, feature features.Feature) error
}

// TextReceiver is implemented by handlers that wait for free text, such as echo.
type TextReceiver interface {
	HandleText(ctx context.Context, conv Conversation, text string) error
}

// FeatureSource resolves feature records for Init.
type FeatureSource interface {
	Get(ctx context.Context, id string) (features.Feature, error)
}

// Opener is implemented by handlers that draw their own feature screen.
// Returning false falls back to the default screen.
type Opener interface {
	OpenFeature(ctx context.Context, conv Conversation, feature features.Feature) (bool, error)
}
