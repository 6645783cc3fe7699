// Package utils holds query-string helpers shared by the HTTP handlers and
// the services behind them.
package utils

import "strconv"

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads raw page and page_size values. Missing or malformed values
// fall back to page 1 and defSize; Size is clamped to [1, maxSize].
func ParsePage(number, size string, defSize, maxSize int) Page {
	p := Page{Number: intOr(number, 1), Size: intOr(size, defSize)}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if maxSize > 0 && p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	if p.Number < 1 || p.Size < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// TotalPages returns how many pages of size hold total rows.
func TotalPages(total int64, size int) int {
	if size < 1 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// BoolDefault parses s with strconv.ParseBool, returning def when s is empty
// or not a boolean. Used for query flags such as ?onlyStarred=true.
func BoolDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return def
}

func intOr(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
