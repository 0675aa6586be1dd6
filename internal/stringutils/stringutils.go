package stringutils

import "strings"

// IndentString prefixes each line of the string with indent.
func IndentString(str, indent string) string {
	spl := strings.SplitAfter(str, "\n")
	return strings.Join(append([]string{""}, spl...), indent)
}

// Tail returns the last maxLen bytes of str.
// If str is truncated, the result is prefixed with "...".
// The result is extended to the start of the next valid UTF-8 rune.
func Tail(str string, maxLen int) string {
	if len(str) <= maxLen {
		return str
	}

	start := len(str) - maxLen
	for start < len(str) && !utf8RuneStart(str[start]) {
		start++
	}

	return "..." + str[start:]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
