package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/events"
	"github.com/tbourn/go-journal-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// gormSessionRepo forwards to the repo package, as the router's shim does.
type gormSessionRepo struct{}

func (gormSessionRepo) CreateSession(ctx context.Context, db *gorm.DB, userID string) (*domain.Session, error) {
	return repo.CreateSession(ctx, db, userID)
}
func (gormSessionRepo) GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	return repo.GetSession(ctx, db, id)
}
func (gormSessionRepo) DeleteSession(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteSession(ctx, db, id)
}
func (gormSessionRepo) SetSessionStarred(ctx context.Context, db *gorm.DB, id, userID string, starred bool) error {
	return repo.SetSessionStarred(ctx, db, id, userID, starred)
}
func (gormSessionRepo) UpdateSessionCompleted(ctx context.Context, db *gorm.DB, id string, completed int) error {
	return repo.UpdateSessionCompleted(ctx, db, id, completed)
}
func (gormSessionRepo) CountSessions(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (int64, error) {
	return repo.CountSessions(ctx, db, userID, onlyStarred)
}
func (gormSessionRepo) ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool, offset, limit int) ([]domain.Session, error) {
	return repo.ListSessionsPage(ctx, db, userID, onlyStarred, offset, limit)
}
func (gormSessionRepo) CreateEntries(ctx context.Context, db *gorm.DB, sessionID string, entries []domain.Entry) error {
	return repo.CreateEntries(ctx, db, sessionID, entries)
}
func (gormSessionRepo) ListEntriesBySessions(ctx context.Context, db *gorm.DB, ids []string) (map[string][]domain.Entry, error) {
	return repo.ListEntriesBySessions(ctx, db, ids)
}
func (gormSessionRepo) SessionsStats(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (int64, *time.Time, error) {
	return repo.SessionsStats(ctx, db, userID, onlyStarred)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// fixedCatalog is an ActiveCatalog of n questions.
type fixedCatalog struct {
	n   int
	err error
}

func (f fixedCatalog) ListActive(context.Context, string) ([]domain.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Question, f.n)
	for i := range out {
		out[i] = domain.Question{ID: fmt.Sprintf("q%d", i), Text: fmt.Sprintf("question %d", i), Order: i + 1, IsActive: true}
	}
	return out, nil
}
