// File: internal/harness/text.go
package harness

import (
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// EscapeHTML escapes &, <, > and double quotes for display in log output.
// Single quotes are left alone.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// TrimAndRemoveLineBreaks collapses every whitespace run into a single space
// and trims the result.
func TrimAndRemoveLineBreaks(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// HexEncode encodes the UTF-8 bytes of s as lowercase hex.
func HexEncode(s string) string {
	return hex.EncodeToString([]byte(s))
}

// HexDecode reverses HexEncode.
func HexDecode(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
