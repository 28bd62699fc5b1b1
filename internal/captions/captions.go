// Package captions holds caption-text utilities shared by the watcher,
// renderer and dispatcher: normalization (the cache key form) and
// informational language detection.
package captions

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// Normalize produces the canonical form of a caption: trimmed, internal
// newlines and whitespace runs collapsed to single spaces. Normalized text is
// the identity key for the translation cache, so both capture and rendering
// must use it.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// DetectText guesses the language of a single caption line.
func DetectText(text string) language.Tag {
	if strings.TrimSpace(text) == "" {
		return language.Und
	}
	return language.All.Make(whatlanggo.DetectLang(text).Iso6391())
}

// DetectLanguage picks the majority language across a set of caption lines.
func DetectLanguage(texts []string) language.Tag {
	if len(texts) == 0 {
		return language.Und
	}

	langMap := make(map[string]int)

	for _, text := range texts {
		lang := whatlanggo.DetectLang(text).Iso6391()
		if _, ok := langMap[lang]; !ok {
			langMap[lang] = 0
		}

		langMap[lang]++
	}

	var topLang string
	var topCount int
	for lang, count := range langMap {
		if count > topCount {
			topLang = lang
			topCount = count
		}
	}

	return language.All.Make(topLang)
}

// MatchesLanguage reports whether an element's language attribute value names
// the same base language as want. Region subtags are ignored, so "nl-NL"
// matches Dutch. An empty or unparsable attribute never matches.
func MatchesLanguage(attrValue string, want language.Tag) bool {
	attrValue = strings.TrimSpace(attrValue)
	if attrValue == "" {
		return false
	}

	got, err := language.Parse(attrValue)
	if err != nil {
		return false
	}

	gotBase, _ := got.Base()
	wantBase, _ := want.Base()
	return gotBase == wantBase
}
