package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// normalizeText prepares user text for storage and prompting:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two,
//   - applies Unicode NFC so equal strings compare equal,
//   - trims surrounding whitespace.
func normalizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(norm.NFC.String(s))
}
