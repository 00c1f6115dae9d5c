package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStyleLookup(t *testing.T) {
	assert.Equal(t, KeyboardStyle{Name: "elegant", MainMenuRows: 1, SubMenuRows: 2}, Style("elegant"))
	assert.Equal(t, "modern", Style("neon").Name)
	assert.Equal(t, 3, Style("compact").MainMenuRows)
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidKeyboardStyle("minimalist"))
	assert.False(t, ValidKeyboardStyle("Modern"))
	assert.True(t, ValidNotificationStyle("emoji-rich"))
	assert.False(t, ValidNotificationStyle("loud"))
	assert.True(t, ValidLanguage("id"))
	assert.False(t, ValidLanguage("fr"))
}

func TestNormalize(t *testing.T) {
	got := Preferences{KeyboardStyle: "compact", Language: "xx"}.Normalize()
	assert.Equal(t, Preferences{KeyboardStyle: "compact", NotificationStyle: "standard", Language: "en"}, got)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "🌤 Weather", Style("modern").Label("🌤", "Weather"))
	assert.Equal(t, "Weather", Style("elegant").Label("🌤", "Weather"))
	assert.Equal(t, "Weather", Style("modern").Label("", "Weather"))
}

func TestListsAreCopies(t *testing.T) {
	s := KeyboardStyles()
	s[0].Name = "changed"
	assert.Equal(t, "classic", KeyboardStyles()[0].Name)
}
