// Package i18n translates the bot's built-in screens.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// Base is the fallback language.
var Base = language.English

//go:embed locales/*.yaml
var localesFS embed.FS

type localeFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Translator renders message keys in a user's language.
type Translator struct {
	cat     *catalog.Builder
	tags    []language.Tag
	matcher language.Matcher
	keys    map[string]struct{}
}

// Load reads the embedded locales.
func Load() (*Translator, error) {
	return LoadFS(localesFS)
}

// LoadFS reads locales/*.yaml from fsys. The base language must be present.
func LoadFS(fsys fs.FS) (*Translator, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("i18n: glob locales: %w", err)
	}
	sort.Strings(paths)

	t := &Translator{
		cat:  catalog.NewBuilder(catalog.Fallback(Base)),
		keys: make(map[string]struct{}),
	}
	haveBase := false
	for _, p := range paths {
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", p, err)
		}
		var f localeFile
		if err := yaml.Unmarshal(body, &f); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", p, err)
		}
		want := strings.TrimSuffix(path.Base(p), ".yaml")
		if f.Locale != want {
			return nil, fmt.Errorf("i18n: %s declares locale %q", p, f.Locale)
		}
		tag, err := language.Parse(f.Locale)
		if err != nil {
			return nil, fmt.Errorf("i18n: %s: %w", p, err)
		}
		for key, msg := range f.Messages {
			if err := t.cat.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("i18n: %s %s: %w", p, key, err)
			}
			t.keys[key] = struct{}{}
		}
		if tag == Base {
			haveBase = true
			t.tags = append([]language.Tag{tag}, t.tags...)
		} else {
			t.tags = append(t.tags, tag)
		}
	}
	if !haveBase {
		return nil, fmt.Errorf("i18n: base locale %s missing", Base)
	}
	t.matcher = language.NewMatcher(t.tags)
	return t, nil
}

// Languages lists the loaded language tags, base first.
func (t *Translator) Languages() []language.Tag {
	return append([]language.Tag(nil), t.tags...)
}

// Has reports whether key is defined in any locale.
func (t *Translator) Has(key string) bool {
	_, ok := t.keys[key]
	return ok
}

// Printer returns a printer for lang, falling back to the base language.
func (t *Translator) Printer(lang string) *message.Printer {
	tag := Base
	if parsed, err := language.Parse(lang); err == nil {
		_, idx, conf := t.matcher.Match(parsed)
		if conf != language.No {
			tag = t.tags[idx]
		}
	}
	return message.NewPrinter(tag, message.Catalog(t.cat))
}

// T renders key in lang.
func (t *Translator) T(lang, key string, args ...any) string {
	return t.Printer(lang).Sprintf(key, args...)
}
