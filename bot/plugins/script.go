package plugins

import (
	"context"
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/m3rciful/featurebot/bot/features"
)

const (
	scriptFile = "handler.star"

	// DefaultMaxSteps bounds the work of one script call.
	DefaultMaxSteps uint64 = 1_000_000

	localConversation = "conversation"
)

// scriptHandler runs a Starlark module. The module may define
// init(feature), open_feature(feature), handle_action(action, feature) and
// handle_callback(token).
// Scripts only reach the chat through the predeclared builtins.
type scriptHandler struct {
	id       string
	globals  starlark.StringDict
	maxSteps uint64
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"reply":   starlark.NewBuiltin("reply", starlarkReply),
		"answer":  starlark.NewBuiltin("answer", starlarkAnswer),
		"user_id": starlark.NewBuiltin("user_id", starlarkUserID),
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

// compileScript executes the module top level once and keeps its globals.
func compileScript(ctx context.Context, id, filename string, src []byte, maxSteps uint64) (*scriptHandler, error) {
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	thread := newThread(ctx, id, maxSteps, nil)
	defer releaseThread(thread)
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, filename, src, predeclared())
	if err != nil {
		return nil, scriptError(err)
	}
	globals.Freeze()
	return &scriptHandler{id: id, globals: globals, maxSteps: maxSteps}, nil
}

// ValidateScript reports whether src compiles and runs its top level within the step budget.
func ValidateScript(ctx context.Context, src []byte) error {
	_, err := compileScript(ctx, "validate", scriptFile, src, DefaultMaxSteps)
	return err
}

func newThread(ctx context.Context, id string, maxSteps uint64, conv Conversation) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  "feature:" + id,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxSteps)
	thread.SetLocal(localConversation, conv)
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { thread.Cancel("context cancelled") })
		thread.SetLocal("stop", stop)
	}
	return thread
}

func releaseThread(thread *starlark.Thread) {
	if stop, ok := thread.Local("stop").(func() bool); ok {
		stop()
	}
}

func scriptError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%s", evalErr.Backtrace())
	}
	return err
}

func (h *scriptHandler) call(ctx context.Context, conv Conversation, name string, args starlark.Tuple) (starlark.Value, bool, error) {
	fn, ok := h.globals[name]
	if !ok {
		return nil, false, nil
	}
	if _, callable := fn.(starlark.Callable); !callable {
		return nil, false, fmt.Errorf("%s is not a function", name)
	}
	thread := newThread(ctx, h.id, h.maxSteps, conv)
	defer releaseThread(thread)
	v, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, true, scriptError(err)
	}
	return v, true, nil
}

// handled treats None as handled; only an explicit False declines.
func handled(v starlark.Value) bool {
	if v == nil || v == starlark.None {
		return true
	}
	return bool(v.Truth())
}

func (h *scriptHandler) Init(ctx context.Context, f features.Feature) error {
	_, _, err := h.call(ctx, nil, "init", starlark.Tuple{featureValue(f)})
	return err
}

func (h *scriptHandler) HandleAction(ctx context.Context, conv Conversation, action features.Action, f features.Feature) (bool, error) {
	v, defined, err := h.call(ctx, conv, "handle_action", starlark.Tuple{actionValue(action), featureValue(f)})
	if err != nil || !defined {
		return false, err
	}
	return handled(v), nil
}

// OpenFeature runs open_feature(feature). An undefined hook keeps the default screen.
func (h *scriptHandler) OpenFeature(ctx context.Context, conv Conversation, f features.Feature) (bool, error) {
	v, defined, err := h.call(ctx, conv, "open_feature", starlark.Tuple{featureValue(f)})
	if err != nil || !defined {
		return false, err
	}
	return handled(v), nil
}

func (h *scriptHandler) HandleCallback(ctx context.Context, conv Conversation, token string) (bool, error) {
	v, defined, err := h.call(ctx, conv, "handle_callback", starlark.Tuple{starlark.String(token)})
	if err != nil || !defined {
		return false, err
	}
	return handled(v), nil
}

func actionValue(a features.Action) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":          starlark.String(a.ID),
		"name":        starlark.String(a.Name),
		"description": starlark.String(a.Description),
		"emoji":       starlark.String(a.Emoji),
	})
}

func featureValue(f features.Feature) starlark.Value {
	actions := make([]starlark.Value, 0, len(f.Actions))
	for _, a := range f.Actions {
		actions = append(actions, actionValue(a))
	}
	submenus := make([]starlark.Value, 0, len(f.Submenus))
	for _, s := range f.Submenus {
		sa := make([]starlark.Value, 0, len(s.Actions))
		for _, a := range s.Actions {
			sa = append(sa, actionValue(a))
		}
		submenus = append(submenus, starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"id":          starlark.String(s.ID),
			"name":        starlark.String(s.Name),
			"description": starlark.String(s.Description),
			"emoji":       starlark.String(s.Emoji),
			"actions":     starlark.NewList(sa),
		}))
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":          starlark.String(f.ID),
		"name":        starlark.String(f.Name),
		"description": starlark.String(f.Description),
		"emoji":       starlark.String(f.Emoji),
		"enabled":     starlark.Bool(f.Enabled),
		"actions":     starlark.NewList(actions),
		"submenus":    starlark.NewList(submenus),
	})
}

func conversationOf(thread *starlark.Thread, b *starlark.Builtin) (Conversation, error) {
	conv, _ := thread.Local(localConversation).(Conversation)
	if conv == nil {
		return nil, fmt.Errorf("%s: no conversation in this call", b.Name())
	}
	return conv, nil
}

// reply(text, buttons=None): buttons is a list of rows, each row a list of (label, data) pairs.
func starlarkReply(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		text    string
		buttons *starlark.List
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "buttons?", &buttons); err != nil {
		return nil, err
	}
	conv, err := conversationOf(thread, b)
	if err != nil {
		return nil, err
	}
	kb, err := keyboardFrom(b.Name(), buttons)
	if err != nil {
		return nil, err
	}
	if err := conv.Send(text, kb); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func keyboardFrom(fn string, rows *starlark.List) (Keyboard, error) {
	if rows == nil {
		return nil, nil
	}
	var kb Keyboard
	for i := 0; i < rows.Len(); i++ {
		row, ok := rows.Index(i).(starlark.Indexable)
		if !ok {
			return nil, fmt.Errorf("%s: row %d is not a list", fn, i)
		}
		var out []Button
		for j := 0; j < row.Len(); j++ {
			pair, ok := row.Index(j).(starlark.Indexable)
			if !ok || pair.Len() != 2 {
				return nil, fmt.Errorf("%s: button %d/%d must be a (label, data) pair", fn, i, j)
			}
			label, ok1 := starlark.AsString(pair.Index(0))
			data, ok2 := starlark.AsString(pair.Index(1))
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("%s: button %d/%d must hold strings", fn, i, j)
			}
			out = append(out, Button{Text: label, Data: data})
		}
		kb = append(kb, out)
	}
	return kb, nil
}

// answer(text, alert=False) answers the pending callback query.
func starlarkAnswer(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		text  string
		alert bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "alert?", &alert); err != nil {
		return nil, err
	}
	conv, err := conversationOf(thread, b)
	if err != nil {
		return nil, err
	}
	if err := conv.Answer(text, alert); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func starlarkUserID(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	conv, err := conversationOf(thread, b)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt64(conv.Identity()), nil
}
