package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ToSentenceCase capitalizes the first word of every sentence. Words that
// already carry capitals (Dusty Gulch, McCoy) are left as they are.
func ToSentenceCase(text string) string {
	if text == "" {
		return ""
	}
	// Casers are stateful, so one per call.
	titler := cases.Title(language.English, cases.NoLower)

	var sb strings.Builder
	sb.Grow(len(text))
	atStart := true
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if atStart && unicode.IsLetter(r) {
			j := i
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if !unicode.IsLetter(r2) {
					break
				}
				j += s2
			}
			word := text[i:j]
			if unicode.IsLower(r) {
				word = titler.String(word)
			}
			sb.WriteString(word)
			atStart = false
			i = j
			continue
		}

		switch {
		case r == '.' || r == '!' || r == '?' || r == '\n':
			atStart = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			atStart = false
		}
		sb.WriteRune(r)
		i += size
	}
	return sb.String()
}
