package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/m3rciful/featurebot/bot/features"
)

// ErrMalformedToken reports a callback token outside the grammar.
var ErrMalformedToken = errors.New("dispatch: malformed token")

// Kind tags a parsed Token.
type Kind int

const (
	KindMainMenu Kind = iota + 1
	KindNoFeatures
	KindSettings
	KindPreference
	KindAdmin
	KindFeatureGen
	KindFeature
	KindSubmenu
	KindAction
	KindDynamic
)

var kindNames = map[Kind]string{
	KindMainMenu:   "main_menu",
	KindNoFeatures: "no_features",
	KindSettings:   "settings",
	KindPreference: "preference",
	KindAdmin:      "admin",
	KindFeatureGen: "feature_gen",
	KindFeature:    "feature",
	KindSubmenu:    "submenu",
	KindAction:     "action",
	KindDynamic:    "dynamic",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Preference kinds carried by set_<kind>:<value> tokens.
const (
	PrefKeyboardStyle     = "keyboard_style"
	PrefNotificationStyle = "notification_style"
	PrefLanguage          = "language"
)

// Feature generator modes.
const (
	GenTemplate = "template"
	GenAI       = "ai"
	GenImport   = "import"
	GenCustom   = "custom"
)

// Token is the parsed form of a callback payload. Only the fields of its Kind are set.
type Token struct {
	Kind Kind
	Raw  string

	// Settings, Admin and Preference.
	Option string
	Arg    string

	// Feature, Submenu and Action.
	FeatureID string
	SubmenuID string
	ActionID  string

	// Dynamic.
	Namespace string
}

var prefPrefixes = map[string]string{
	"set_keyboard_style":     PrefKeyboardStyle,
	"set_notification_style": PrefNotificationStyle,
	"set_language":           PrefLanguage,
}

func malformed(raw, why string) error {
	return fmt.Errorf("%w: %q: %s", ErrMalformedToken, raw, why)
}

// ParseToken classifies raw into one of the Token kinds.
func ParseToken(raw string) (Token, error) {
	t := Token{Raw: raw}
	if raw == "" {
		return t, malformed(raw, "empty")
	}
	parts := strings.Split(raw, ":")
	head, args := parts[0], parts[1:]

	switch head {
	case "main_menu":
		if len(args) != 0 {
			return t, malformed(raw, "main_menu takes no arguments")
		}
		t.Kind = KindMainMenu
	case "no_features":
		if len(args) != 0 {
			return t, malformed(raw, "no_features takes no arguments")
		}
		t.Kind = KindNoFeatures
	case "settings":
		if len(args) > 1 || (len(args) == 1 && !features.ValidID(args[0])) {
			return t, malformed(raw, "settings takes one option")
		}
		t.Kind = KindSettings
		if len(args) == 1 {
			t.Option = args[0]
		}
	case "admin":
		if len(args) > 2 {
			return t, malformed(raw, "admin takes an option and one argument")
		}
		if len(args) >= 1 && !features.ValidID(args[0]) {
			return t, malformed(raw, "bad admin option")
		}
		t.Kind = KindAdmin
		if len(args) >= 1 {
			t.Option = args[0]
		}
		if len(args) == 2 {
			if args[1] == "" {
				return t, malformed(raw, "empty admin argument")
			}
			t.Arg = args[1]
		}
	case "set_keyboard_style", "set_notification_style", "set_language":
		if len(args) != 1 || args[0] == "" {
			return t, malformed(raw, "preference takes one value")
		}
		t.Kind = KindPreference
		t.Option = prefPrefixes[head]
		t.Arg = args[0]
	case "feature_gen":
		if len(args) != 1 {
			return t, malformed(raw, "feature_gen takes one mode")
		}
		switch args[0] {
		case GenTemplate, GenAI, GenImport, GenCustom:
		default:
			return t, malformed(raw, "unknown generator mode")
		}
		t.Kind = KindFeatureGen
		t.Option = args[0]
	case "feature":
		if len(args) != 1 || !features.ValidID(args[0]) {
			return t, malformed(raw, "feature takes one id")
		}
		t.Kind = KindFeature
		t.FeatureID = args[0]
	case "submenu":
		if len(args) != 2 || !features.ValidID(args[0]) || !features.ValidID(args[1]) {
			return t, malformed(raw, "submenu takes a feature id and a submenu id")
		}
		t.Kind = KindSubmenu
		t.FeatureID, t.SubmenuID = args[0], args[1]
	case "action":
		if len(args) != 2 || !features.ValidID(args[0]) || !features.ValidID(args[1]) {
			return t, malformed(raw, "action takes a feature id and an action id")
		}
		t.Kind = KindAction
		t.FeatureID, t.ActionID = args[0], args[1]
	default:
		if len(args) == 0 || !features.ValidID(head) {
			return t, malformed(raw, "dynamic tokens need an id namespace")
		}
		t.Kind = KindDynamic
		t.Namespace = head
	}
	return t, nil
}

// String renders the token back to its wire form.
func (t Token) String() string {
	switch t.Kind {
	case KindMainMenu:
		return "main_menu"
	case KindNoFeatures:
		return "no_features"
	case KindSettings:
		return join("settings", t.Option)
	case KindAdmin:
		return join("admin", t.Option, t.Arg)
	case KindPreference:
		return "set_" + t.Option + ":" + t.Arg
	case KindFeatureGen:
		return "feature_gen:" + t.Option
	case KindFeature:
		return FeatureToken(t.FeatureID)
	case KindSubmenu:
		return SubmenuToken(t.FeatureID, t.SubmenuID)
	case KindAction:
		return ActionToken(t.FeatureID, t.ActionID)
	}
	return t.Raw
}

func join(parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		if p == "" {
			break
		}
		out += ":" + p
	}
	return out
}

// FeatureToken builds feature:<id>.
func FeatureToken(id string) string { return "feature:" + id }

// SubmenuToken builds submenu:<featureId>:<submenuId>.
func SubmenuToken(featureID, submenuID string) string {
	return "submenu:" + featureID + ":" + submenuID
}

// ActionToken builds action:<featureId>:<actionId>.
func ActionToken(featureID, actionID string) string {
	return "action:" + featureID + ":" + actionID
}
