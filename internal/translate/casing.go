package translate

import (
	"strings"
	"unicode"
)

// SentenceCase normalizes translated text: the whole string is lowercased,
// then the first letter and the first letter after each sentence-terminal
// period (a period followed by whitespace) are uppercased. The transform is
// deterministic and idempotent, and downstream output parity depends on it
// staying exactly this.
func SentenceCase(s string) string {
	runes := []rune(strings.ToLower(s))

	capitalizeNext := true
	periodSeen := false
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			if capitalizeNext {
				runes[i] = unicode.ToUpper(r)
			}
			capitalizeNext = false
			periodSeen = false
		case r == '.':
			periodSeen = true
		case unicode.IsSpace(r):
			if periodSeen {
				capitalizeNext = true
				periodSeen = false
			}
		default:
			periodSeen = false
		}
	}
	return string(runes)
}

// joinFragments glues the service's response fragments together with single
// spaces. Fragments arrive with their own leading/trailing whitespace, so
// runs are collapsed after joining.
func joinFragments(fragments []string) string {
	joined := strings.Join(fragments, " ")
	return strings.Join(strings.Fields(joined), " ")
}
