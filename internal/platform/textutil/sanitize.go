// Package textutil cleans free text coming from portal users before it is stored.
package textutil

import (
	"html"
	"path"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

const (
	maxRemarksRunes  = 2000
	maxFileNameRunes = 120
	fallbackFileName = "document"
)

var strict = bluemonday.StrictPolicy()

// Remarks strips markup from evaluator remarks and returns plain NFC text. Line breaks survive;
// other control characters do not.
func Remarks(raw string) string {
	text := html.UnescapeString(strict.Sanitize(raw))
	text = norm.NFC.String(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	return truncate(strings.TrimSpace(text), maxRemarksRunes)
}

// FileName reduces an uploaded file name to a safe object name segment: directory parts dropped,
// markup removed, NFC normalised, anything outside letters, digits, dot, dash and underscore
// replaced with an underscore. The extension is kept when the name is shortened.
func FileName(raw string) string {
	name := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	name = path.Base(name)
	name = html.UnescapeString(strict.Sanitize(name))
	name = norm.NFC.String(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	name = strings.Trim(b.String(), "._")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	if name == "" {
		return fallbackFileName
	}

	runes := []rune(name)
	if len(runes) <= maxFileNameRunes {
		return name
	}
	ext := path.Ext(name)
	if len([]rune(ext)) >= maxFileNameRunes {
		return string(runes[:maxFileNameRunes])
	}
	stem := []rune(strings.TrimSuffix(name, ext))
	return string(stem[:maxFileNameRunes-len([]rune(ext))]) + ext
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}
