// Package services – QuestionService
//
// This file implements QuestionService, which manages per-user question
// catalogs. A user without questions receives a copy of the template owner's
// active catalog on first load. Seeding runs in one transaction and inserts
// rows with ids derived from (user, template question), so concurrent first
// loads converge on the same rows instead of duplicating them.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/repo"
)

// DefaultTemplateOwner owns the catalog new users are seeded from.
const DefaultTemplateOwner = "template"

// DefaultQuestion is a built-in catalog prompt.
type DefaultQuestion struct {
	Key  string
	Text string
}

// DefaultQuestions is the built-in catalog installed for the template owner.
var DefaultQuestions = []DefaultQuestion{
	{Key: "mood", Text: "How are you feeling today? What is your overall mood?"},
	{Key: "stress", Text: "What is your stress level today? What is contributing to it?"},
	{Key: "activity", Text: "What physical activities did you do today?"},
	{Key: "diet", Text: "How did your eating go today? What did you eat?"},
	{Key: "leisure", Text: "What did you do for fun or relaxation today?"},
	{Key: "relationships", Text: "How were your interactions with others today?"},
	{Key: "work", Text: "How did your work or productivity go today?"},
	{Key: "other", Text: "Is there anything else you would like to share about your day?"},
}

// seedNamespace scopes the UUIDv5 ids of seeded questions.
var seedNamespace = uuid.MustParse("6f1c1a52-3f0e-4b8e-9a57-1d2b6c0f8e41")

// seedID derives a stable question id for userID from a source id.
func seedID(userID, sourceID string) string {
	return uuid.NewSHA1(seedNamespace, []byte(userID+"/"+sourceID)).String()
}

// ReorderItem assigns a new order to one question.
type ReorderItem struct {
	ID    string
	Order int
}

// QuestionService manages question catalogs.
type QuestionService struct {
	DB *gorm.DB
	// TemplateOwner is the user whose active questions seed new catalogs.
	TemplateOwner string
}

// NewQuestionService constructs a QuestionService; an empty owner falls back
// to DefaultTemplateOwner.
func NewQuestionService(db *gorm.DB, templateOwner string) *QuestionService {
	if strings.TrimSpace(templateOwner) == "" {
		templateOwner = DefaultTemplateOwner
	}
	return &QuestionService{DB: db, TemplateOwner: templateOwner}
}

func (s *QuestionService) tracer() trace.Tracer { return otel.Tracer("services/QuestionService") }

// EnsureTemplate installs DefaultQuestions for the template owner when the
// owner has no questions. It returns how many rows were inserted.
func (s *QuestionService) EnsureTemplate(ctx context.Context) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "EnsureTemplate")
	defer span.End()

	var inserted int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := repo.CountQuestions(ctx, tx, s.TemplateOwner, false)
		if err != nil || n > 0 {
			return err
		}
		inserted, err = repo.InsertQuestionsIgnoreConflicts(ctx, tx, builtinRows(s.TemplateOwner))
		return err
	})
	return inserted, common.Store(err)
}

func builtinRows(userID string) []domain.Question {
	rows := make([]domain.Question, len(DefaultQuestions))
	for i, d := range DefaultQuestions {
		rows[i] = domain.Question{
			ID:       seedID(userID, "default/"+d.Key),
			UserID:   userID,
			Text:     d.Text,
			Order:    i + 1,
			IsActive: true,
		}
	}
	return rows
}

// ListActive returns userID's active questions ordered by (order, createdAt),
// seeding the catalog first when the user has no questions at all.
func (s *QuestionService) ListActive(ctx context.Context, userID string) ([]domain.Question, error) {
	ctx, span := s.tracer().Start(ctx, "ListActive",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	qs, err := repo.ListQuestions(ctx, s.DB, userID, true)
	if err != nil {
		return nil, common.Store(err)
	}
	if len(qs) > 0 {
		return qs, nil
	}

	seeded, err := s.SeedDefaults(ctx, userID)
	if err != nil {
		return nil, err
	}
	if seeded == 0 {
		return []domain.Question{}, nil
	}
	qs, err = repo.ListQuestions(ctx, s.DB, userID, true)
	if err != nil {
		return nil, common.Store(err)
	}
	return qs, nil
}

// SeedDefaults copies the template owner's active questions to userID when
// userID has none. Text and order are preserved. If the template is empty the
// built-in defaults are used. Safe to run concurrently for the same user.
func (s *QuestionService) SeedDefaults(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "SeedDefaults",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	var inserted int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := repo.CountQuestions(ctx, tx, userID, false)
		if err != nil || n > 0 {
			return err
		}

		var rows []domain.Question
		if userID != s.TemplateOwner {
			tmpl, err := repo.ListQuestions(ctx, tx, s.TemplateOwner, true)
			if err != nil {
				return err
			}
			for _, q := range tmpl {
				rows = append(rows, domain.Question{
					ID:       seedID(userID, q.ID),
					UserID:   userID,
					Text:     q.Text,
					Order:    q.Order,
					IsActive: true,
				})
			}
		}
		if len(rows) == 0 {
			rows = builtinRows(userID)
		}

		inserted, err = repo.InsertQuestionsIgnoreConflicts(ctx, tx, rows)
		return err
	})
	if err != nil {
		return 0, common.Store(err)
	}
	span.SetAttributes(attribute.Int64("inserted", inserted))
	return inserted, nil
}

// ListAll returns every question of userID, active or not, ordered by order.
func (s *QuestionService) ListAll(ctx context.Context, userID string) ([]domain.Question, error) {
	ctx, span := s.tracer().Start(ctx, "ListAll",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	qs, err := repo.ListQuestions(ctx, s.DB, userID, false)
	if err != nil {
		return nil, common.Store(err)
	}
	if qs == nil {
		qs = []domain.Question{}
	}
	return qs, nil
}

// Add appends an active question after the user's current last one.
func (s *QuestionService) Add(ctx context.Context, userID, text string) (*domain.Question, error) {
	ctx, span := s.tracer().Start(ctx, "Add",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	text = normalizeText(text)
	if text == "" {
		return nil, ErrEmptyQuestion
	}

	var out *domain.Question
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		top, err := repo.MaxQuestionOrder(ctx, tx, userID)
		if err != nil {
			return err
		}
		out, err = repo.CreateQuestion(ctx, tx, userID, text, top+1)
		return err
	})
	if err != nil {
		return nil, common.Store(err)
	}
	return out, nil
}

// Edit replaces the text of a question and, when order > 0, its order.
func (s *QuestionService) Edit(ctx context.Context, userID, id, text string, order int) (*domain.Question, error) {
	ctx, span := s.tracer().Start(ctx, "Edit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("question.id", id),
		))
	defer span.End()

	text = normalizeText(text)
	if text == "" {
		return nil, ErrEmptyQuestion
	}
	updates := map[string]any{"question": text}
	if order > 0 {
		updates["sort_order"] = order
	}
	if err := repo.UpdateQuestion(ctx, s.DB, id, userID, updates); err != nil {
		return nil, storeErr(err, ErrQuestionNotFound)
	}
	q, err := repo.GetQuestion(ctx, s.DB, id, userID)
	if err != nil {
		return nil, storeErr(err, ErrQuestionNotFound)
	}
	return q, nil
}

// SetActive switches a question on or off without deleting it.
func (s *QuestionService) SetActive(ctx context.Context, userID, id string, active bool) (*domain.Question, error) {
	ctx, span := s.tracer().Start(ctx, "SetActive",
		trace.WithAttributes(
			attribute.String("question.id", id),
			attribute.Bool("active", active),
		))
	defer span.End()

	if err := repo.UpdateQuestion(ctx, s.DB, id, userID, map[string]any{"is_active": active}); err != nil {
		return nil, storeErr(err, ErrQuestionNotFound)
	}
	q, err := repo.GetQuestion(ctx, s.DB, id, userID)
	if err != nil {
		return nil, storeErr(err, ErrQuestionNotFound)
	}
	return q, nil
}

// Delete removes a question owned by userID.
func (s *QuestionService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := s.tracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("question.id", id)))
	defer span.End()

	return storeErr(repo.DeleteQuestion(ctx, s.DB, id, userID), ErrQuestionNotFound)
}

// errUnknownQuestion aborts a reorder transaction.
var errUnknownQuestion = errors.New("unknown question")

// Reorder applies every (id, order) pair in one transaction. If any id is not
// one of userID's questions nothing is changed.
func (s *QuestionService) Reorder(ctx context.Context, userID string, items []ReorderItem) error {
	ctx, span := s.tracer().Start(ctx, "Reorder",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("items", len(items)),
		))
	defer span.End()

	if len(items) == 0 {
		return common.Validation("questions list is empty")
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return common.Validation("question id is required")
		}
		if it.Order < 1 {
			return common.Validation("order must be >= 1")
		}
		if _, dup := seen[it.ID]; dup {
			return common.Validation("question %s listed twice", it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	var unknown string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			err := repo.UpdateQuestion(ctx, tx, it.ID, userID, map[string]any{"sort_order": it.Order})
			if errors.Is(err, repo.ErrNotFound) {
				unknown = it.ID
				return errUnknownQuestion
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errUnknownQuestion) {
		return common.Validation("question %s does not belong to the user", unknown)
	}
	if err != nil {
		return fmt.Errorf("reorder: %w", common.Store(err))
	}
	return nil
}
