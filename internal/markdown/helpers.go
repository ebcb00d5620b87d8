package markdown

import "strings"

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const v2SpecialChars = `._[](){}#|!+-=*~>` + "`"

//nolint:gochecknoglobals // Immutable lookup table.
var v2SpecialCharLookup = func() [256]bool {
	var m [256]bool
	for _, c := range []byte(v2SpecialChars) {
		m[c] = true
	}
	return m
}()

func EscapeV2(input string) string {
	charsToEscape := 0

	for i := range input {
		if v2SpecialCharLookup[input[i]] {
			charsToEscape++
		}
	}
	if charsToEscape == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + charsToEscape)

	for i := range input {
		c := input[i]
		if v2SpecialCharLookup[c] {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}
