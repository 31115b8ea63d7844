package media

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeTitle collapses whitespace and filler separators in a catalog title.
// Titles that arrive fully lowercased (common for items synced from scrapers)
// are re-cased; mixed-case titles are left alone.
func NormalizeTitle(title string) string {
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range strings.TrimSpace(title) {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		default:
			cleaned.WriteRune(r)
			prevSpace = false
		}
	}
	normalized := cleaned.String()
	if normalized == "" {
		return ""
	}
	if normalized == strings.ToLower(normalized) {
		return cases.Title(language.Und).String(normalized)
	}
	return normalized
}

// SanitizeFilename strips characters that are unsafe in transfer file names.
func SanitizeFilename(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "download"
	}
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
		"\n", " ",
		"\t", " ",
	)
	cleaned := replacer.Replace(value)
	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return "download"
	}
	return strings.Join(fields, " ")
}
