package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIdempotency_CreateGetExpireDuplicate(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	now := time.Now().UTC()

	if _, err := GetIdempotency(ctx, db, "u1", "", "k", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank session should be ErrNotFound, got %v", err)
	}
	rec, err := CreateIdempotency(ctx, db, "u1", "s1", "k", "m1", 200, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	got, err := GetIdempotency(ctx, db, "u1", "s1", "k", now)
	if err != nil || got.ResourceID != "m1" || got.ID != rec.ID {
		t.Fatalf("GetIdempotency: %v %+v", err, got)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "s1", "k", "m2", 200, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "s1", "k", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be ErrNotFound, got %v", err)
	}

	if ok, err := HasIdempotencyKey(ctx, db, "u1", "k", now); err != nil || !ok {
		t.Fatalf("HasIdempotencyKey live: ok=%v err=%v", ok, err)
	}
	if ok, _ := HasIdempotencyKey(ctx, db, "u2", "k", now); ok {
		t.Fatalf("key must be scoped to its user")
	}

	n, err := PurgeExpiredIdempotency(ctx, db, now.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredIdempotency n=%d err=%v", n, err)
	}
}
