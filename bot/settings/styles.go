// Package settings defines per-user presentation preferences.
package settings

import "slices"

// KeyboardStyle controls how menus are laid out.
type KeyboardStyle struct {
	Name         string
	MainMenuRows int // buttons per row in the main menu
	SubMenuRows  int // buttons per row in feature screens
	UseEmojis    bool
}

// Default values for new users.
const (
	DefaultKeyboardStyle     = "modern"
	DefaultNotificationStyle = "standard"
	DefaultLanguage          = "en"
)

var keyboardStyles = []KeyboardStyle{
	{Name: "classic", MainMenuRows: 2, SubMenuRows: 3, UseEmojis: true},
	{Name: "compact", MainMenuRows: 3, SubMenuRows: 4, UseEmojis: true},
	{Name: "modern", MainMenuRows: 2, SubMenuRows: 2, UseEmojis: true},
	{Name: "elegant", MainMenuRows: 1, SubMenuRows: 2, UseEmojis: false},
	{Name: "minimalist", MainMenuRows: 4, SubMenuRows: 4, UseEmojis: false},
}

var notificationStyles = []string{"standard", "detailed", "minimal", "emoji-rich"}

// Language is a selectable interface language.
type Language struct {
	Code string
	Name string
}

var languages = []Language{
	{Code: "en", Name: "English 🇬🇧"},
	{Code: "id", Name: "Indonesia 🇮🇩"},
}

// KeyboardStyles lists the styles in display order.
func KeyboardStyles() []KeyboardStyle { return slices.Clone(keyboardStyles) }

// NotificationStyles lists the notification styles in display order.
func NotificationStyles() []string { return slices.Clone(notificationStyles) }

// Languages lists the supported languages.
func Languages() []Language { return slices.Clone(languages) }

// Style returns the named keyboard style, or the default one for unknown names.
func Style(name string) KeyboardStyle {
	for _, s := range keyboardStyles {
		if s.Name == name {
			return s
		}
	}
	return Style(DefaultKeyboardStyle)
}

// ValidKeyboardStyle reports whether name is a known keyboard style.
func ValidKeyboardStyle(name string) bool {
	return slices.ContainsFunc(keyboardStyles, func(s KeyboardStyle) bool { return s.Name == name })
}

// ValidNotificationStyle reports whether name is a known notification style.
func ValidNotificationStyle(name string) bool {
	return slices.Contains(notificationStyles, name)
}

// ValidLanguage reports whether code is a supported language.
func ValidLanguage(code string) bool {
	return slices.ContainsFunc(languages, func(l Language) bool { return l.Code == code })
}

// Preferences are one user's settings.
type Preferences struct {
	KeyboardStyle     string `json:"keyboardStyle"`
	NotificationStyle string `json:"notificationStyle"`
	Language          string `json:"language"`
}

// Defaults returns the preferences of a new user.
func Defaults() Preferences {
	return Preferences{
		KeyboardStyle:     DefaultKeyboardStyle,
		NotificationStyle: DefaultNotificationStyle,
		Language:          DefaultLanguage,
	}
}

// Normalize replaces unknown or empty values with defaults.
func (p Preferences) Normalize() Preferences {
	if !ValidKeyboardStyle(p.KeyboardStyle) {
		p.KeyboardStyle = DefaultKeyboardStyle
	}
	if !ValidNotificationStyle(p.NotificationStyle) {
		p.NotificationStyle = DefaultNotificationStyle
	}
	if !ValidLanguage(p.Language) {
		p.Language = DefaultLanguage
	}
	return p
}

// Label renders a button label, dropping the emoji when the style hides them.
func (s KeyboardStyle) Label(emoji, name string) string {
	if !s.UseEmojis || emoji == "" {
		return name
	}
	return emoji + " " + name
}
