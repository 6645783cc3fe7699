package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/repo"
)

func newMsgSvc(t *testing.T) (*MessageService, *domain.Session) {
	t.Helper()
	db := newSvcDB(t)
	s, err := repo.CreateSession(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return &MessageService{DB: db, MaxContentRunes: 50}, s
}

func TestMessageService_Save_Validation(t *testing.T) {
	ctx := context.Background()
	svc, s := newMsgSvc(t)

	cases := []struct {
		name string
		in   SaveMessageInput
		want error
	}{
		{"bad role", SaveMessageInput{SessionID: s.ID, Role: "system", Content: "x"}, ErrInvalidRole},
		{"empty", SaveMessageInput{SessionID: s.ID, Role: "user", Content: " \r\n "}, ErrEmptyContent},
		{"too long", SaveMessageInput{SessionID: s.ID, Role: "user", Content: strings.Repeat("a", 51)}, ErrTooLong},
		{"negative index", SaveMessageInput{SessionID: s.ID, Role: "user", Content: "x", QuestionIndex: -1}, common.ErrValidation},
		{"no session", SaveMessageInput{Role: "user", Content: "x"}, common.ErrValidation},
		{"missing session", SaveMessageInput{SessionID: "nope", Role: "user", Content: "x"}, ErrSessionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Save(ctx, "u1", tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	if _, _, err := svc.Save(ctx, "u2", SaveMessageInput{SessionID: s.ID, Role: "user", Content: "x"}); !errors.Is(err, ErrSessionForbidden) {
		t.Fatalf("foreign session: want forbidden, got %v", err)
	}
}

func TestMessageService_Save_ClientIDDedup(t *testing.T) {
	ctx := context.Background()
	svc, s := newMsgSvc(t)

	in := SaveMessageInput{SessionID: s.ID, ClientID: "m-1", Role: "User", Content: "I slept well", QuestionIndex: 0}
	first, replayed, err := svc.Save(ctx, "u1", in)
	if err != nil || replayed {
		t.Fatalf("first save: %v replayed=%v", err, replayed)
	}
	if first.Role != domain.RoleUser {
		t.Fatalf("role not normalized: %q", first.Role)
	}

	second, replayed, err := svc.Save(ctx, "u1", in)
	if err != nil || !replayed || second.ID != first.ID {
		t.Fatalf("retry must replay: %v replayed=%v %+v", err, replayed, second)
	}

	list, err := svc.List(ctx, "u1", s.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("exactly one turn expected: %v len=%d", err, len(list))
	}
}

func TestMessageService_Save_IdempotencyKeyReplay(t *testing.T) {
	ctx := context.Background()
	svc, s := newMsgSvc(t)

	in := SaveMessageInput{SessionID: s.ID, Role: "assistant", Content: "Tell me more.", IdempotencyKey: "idem-1"}
	first, _, err := svc.Save(ctx, "u1", in)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, replayed, err := svc.Save(ctx, "u1", in)
	if err != nil || !replayed || again.ID != first.ID {
		t.Fatalf("idempotent replay expected: %v %v %+v", err, replayed, again)
	}
}

func TestMessageService_Save_LostIdempotencyRecordIsLogged(t *testing.T) {
	svc, s := newMsgSvc(t)
	if err := svc.DB.Migrator().DropTable(&domain.Idempotency{}); err != nil {
		t.Fatalf("drop idempotency: %v", err)
	}
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())

	m, replayed, err := svc.Save(ctx, "u1", SaveMessageInput{SessionID: s.ID, Role: "user", Content: "hi", IdempotencyKey: "idem-lost"})
	if err != nil || replayed || m == nil {
		t.Fatalf("save must still succeed: %v replayed=%v", err, replayed)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "record idempotency key") || !strings.Contains(out, m.ID) {
		t.Fatalf("expected a warn entry for the lost record, got %q", out)
	}
}

func TestMessageService_ListAndStats(t *testing.T) {
	ctx := context.Background()
	svc, s := newMsgSvc(t)

	for i, c := range []string{"q", "a", "q2"} {
		role := domain.RoleAssistant
		if i%2 == 1 {
			role = domain.RoleUser
		}
		if _, _, err := svc.Save(ctx, "u1", SaveMessageInput{SessionID: s.ID, Role: role, Content: c, QuestionIndex: i / 2}); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	list, err := svc.List(ctx, "u1", s.ID)
	if err != nil || len(list) != 3 {
		t.Fatalf("List: %v len=%d", err, len(list))
	}
	if list[0].Content != "q" || list[2].Content != "q2" || list[2].QuestionIndex != 1 {
		t.Fatalf("unexpected order: %+v", list)
	}
	if _, err := svc.List(ctx, "u2", s.ID); !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("foreign list: want forbidden, got %v", err)
	}

	n, ts, err := svc.Stats(ctx, "u1", s.ID)
	if err != nil || n != 3 || ts == nil {
		t.Fatalf("Stats: %v n=%d", err, n)
	}
	if _, _, err := svc.Stats(ctx, "u2", s.ID); !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("foreign stats: want forbidden, got %v", err)
	}
}
