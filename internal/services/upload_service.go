package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-journal-backend/internal/blob"
	"github.com/tbourn/go-journal-backend/internal/common"
)

// UploadService stores audio recordings attached to journal answers.
type UploadService struct {
	Store blob.Store
	Now   func() time.Time
}

// Upload stores r under the user's audio prefix and returns its URL.
func (s *UploadService) Upload(ctx context.Context, userID, filename, contentType string, r io.Reader, size int64) (string, error) {
	ctx, span := otel.Tracer("services/UploadService").Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("size", size),
		))
	defer span.End()

	if s.Store == nil {
		return "", fmt.Errorf("%w: no blob store configured", common.ErrConfiguration)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	key := blob.AudioKey(userID, filename, now().UTC())
	url, err := s.Store.Put(ctx, key, contentType, r, size)
	if err != nil {
		return "", common.Store(err)
	}
	return url, nil
}
