// Package blob stores uploaded audio and returns a URL clients can fetch it from.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Store persists one object and returns its public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (url string, err error)
}

// AudioKey builds the object key for a user's upload:
// audio/<user>/<unix millis>-<sanitized name>.
func AudioKey(userID, filename string, now time.Time) string {
	name := sanitize(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." || name == "_" {
		name = "recording"
	}
	return fmt.Sprintf("audio/%s/%d-%s", sanitize(userID), now.UnixMilli(), name)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
