package database

import "strings"

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(n * 3)

	for i := range n {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}

	return b.String()
}
