// Package orchestrator drives one guided journaling conversation: it walks
// the user's question catalog, streams the companion's replies, and persists
// every turn through a Backend.
//
// States:
//
//	NoSession → AwaitingInput ⇄ Streaming → AwaitingInput … → Completed
//
// A session is created by the first Send. Moving to the next question is an
// explicit Next call, never a side effect of a reply. Delete and Reset return
// to NoSession from any state.
//
// Turns are persisted once, after they are complete. Persistence failures are
// logged and do not interrupt the conversation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-journal-backend/internal/client"
	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/domain"
)

// State is the conversation's position in its lifecycle.
type State int

const (
	NoSession State = iota
	AwaitingInput
	Streaming
	Completed
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case AwaitingInput:
		return "awaiting_input"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Completion is the acknowledgement turn appended after the last question.
const Completion = "Thank you for sharing your day with me. Your journal entry is saved. Take care, and see you tomorrow!"

var (
	// ErrBusy is returned while a reply is streaming or a session is being
	// created.
	ErrBusy = errors.New("orchestrator: a reply is in progress")
	// ErrCompleted is returned for input to a completed session.
	ErrCompleted = errors.New("orchestrator: session is completed")
	// ErrNoSession is returned by Next before the first Send.
	ErrNoSession = errors.New("orchestrator: no active session")
	// ErrReset is returned by a Send overtaken by Delete or Reset. Its
	// reply, if any, is discarded.
	ErrReset = errors.New("orchestrator: conversation was reset")

	ErrEmptyInput = fmt.Errorf("%w: message is empty", common.ErrValidation)
	ErrNoCatalog  = fmt.Errorf("%w: question catalog is empty", common.ErrValidation)
)

// Backend is the journal API as seen by a conversation. *client.Client
// implements it.
type Backend interface {
	CreateSession(ctx context.Context) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListQuestions(ctx context.Context) ([]domain.Question, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	SaveMessage(ctx context.Context, sessionID string, m client.Message, questionIndex int) error
	SaveProgress(ctx context.Context, sessionID string, completed int, entries []client.Entry) error
	StreamChat(ctx context.Context, req client.ChatRequest, onToken func(string)) (string, error)
}

var _ Backend = (*client.Client)(nil)

// Turn is one entry of the conversation's turn log.
type Turn struct {
	ID      string
	Role    string
	Content string
}

// Snapshot is a consistent copy of the conversation's state.
type Snapshot struct {
	State     State
	SessionID string
	Index     int    // current question, 0-based
	Question  string // text of the current question, "" without a catalog
	Total     int    // active questions in the catalog
	Turns     []Turn
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithLogger sets the logger used for swallowed persistence failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conversation) { c.log = l }
}

// WithIDFunc replaces the turn id generator.
func WithIDFunc(fn func() string) Option {
	return func(c *Conversation) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Conversation is safe for concurrent use. Calls that would overlap a
// running reply fail with ErrBusy instead of waiting.
type Conversation struct {
	backend Backend
	log     zerolog.Logger
	newID   func() string

	mu        sync.Mutex
	state     State
	busy      bool // a session is being created or a reply is streaming
	gen       uint64
	sessionID string
	index     int
	questions []domain.Question
	turns     []Turn
}

// New returns a conversation in NoSession. Call Load or Resume before Send.
func New(b Backend, opts ...Option) *Conversation {
	c := &Conversation{
		backend: b,
		log:     log.Logger.With().Str("component", "orchestrator").Logger(),
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load fetches the active question catalog. An empty catalog is stored but
// reported as ErrNoCatalog.
func (c *Conversation) Load(ctx context.Context) error {
	qs, err := c.backend.ListQuestions(ctx)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	c.mu.Lock()
	c.questions = qs
	c.mu.Unlock()
	if len(qs) == 0 {
		return ErrNoCatalog
	}
	return nil
}

// Resume restores an existing session: its turns, its question index
// (session.completed), and Completed when every question was answered.
// The catalog is loaded first when needed.
func (c *Conversation) Resume(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	needCatalog := len(c.questions) == 0
	c.mu.Unlock()

	if needCatalog {
		if err := c.Load(ctx); err != nil {
			return err
		}
	}
	sess, err := c.backend.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	msgs, err := c.backend.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resume messages: %w", err)
	}

	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		id := m.ID
		if m.ClientID != nil && *m.ClientID != "" {
			id = *m.ClientID
		}
		turns = append(turns, Turn{ID: id, Role: m.Role, Content: m.Content})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.gen++
	c.sessionID = sess.ID
	c.turns = turns
	total := len(c.questions)
	switch {
	case total > 0 && sess.Completed >= total:
		c.state = Completed
		c.index = total - 1
	default:
		c.state = AwaitingInput
		c.index = max(sess.Completed, 0)
	}
	return nil
}

// Send submits the user's message and streams the companion's reply,
// forwarding each token to onToken (which may be nil). The first Send of a
// conversation creates its session; if that fails the send is aborted and
// nothing changes.
//
// If the reply fails, the partial text is discarded and the conversation
// returns to AwaitingInput on the same question so the user can retry. The
// user's turn stays in the log.
func (c *Conversation) Send(ctx context.Context, text string, onToken func(string)) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	c.mu.Lock()
	if err := c.checkSendable(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.busy = true
	gen := c.gen
	needSession := c.state == NoSession
	prev := c.state
	c.state = Streaming
	c.mu.Unlock()

	var sess *domain.Session
	var createErr error
	if needSession {
		sess, createErr = c.backend.CreateSession(ctx)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return "", ErrReset
	}
	if needSession {
		if createErr != nil {
			c.state, c.busy = prev, false
			c.mu.Unlock()
			return "", fmt.Errorf("create session: %w", createErr)
		}
		c.sessionID, c.index, c.turns = sess.ID, 0, nil
	}
	user := Turn{ID: c.newID(), Role: domain.RoleUser, Content: text}
	c.turns = append(c.turns, user)
	sessionID, index := c.sessionID, c.index
	history := make([]client.Turn, 0, len(c.turns))
	for _, t := range c.turns {
		history = append(history, client.Turn{Role: t.Role, Content: t.Content})
	}
	c.mu.Unlock()

	c.persist(ctx, sessionID, user, index)

	reply, err := c.backend.StreamChat(ctx, client.ChatRequest{
		Messages:             history,
		SessionID:            sessionID,
		CurrentQuestionIndex: index,
	}, onToken)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return "", ErrReset
	}
	c.busy = false
	c.state = AwaitingInput
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	assistant := Turn{ID: c.newID(), Role: domain.RoleAssistant, Content: reply}
	c.turns = append(c.turns, assistant)
	c.mu.Unlock()

	c.persist(ctx, sessionID, assistant, index)
	return reply, nil
}

func (c *Conversation) checkSendable() error {
	switch {
	case c.busy || c.state == Streaming:
		return ErrBusy
	case c.state == Completed:
		return ErrCompleted
	case len(c.questions) == 0:
		return ErrNoCatalog
	}
	return nil
}

// Next moves to the next question and returns the assistant turn it added:
// the next question's text, or Completion after the last question, which
// also marks the session completed.
func (c *Conversation) Next(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch {
	case c.busy || c.state == Streaming:
		c.mu.Unlock()
		return "", ErrBusy
	case c.state == Completed:
		c.mu.Unlock()
		return "", ErrCompleted
	case c.state == NoSession || c.sessionID == "":
		c.mu.Unlock()
		return "", ErrNoSession
	}

	total := len(c.questions)
	var (
		completed int
		content   string
	)
	if c.index < total-1 {
		c.index++
		completed = c.index
		content = c.questions[c.index].Text
	} else {
		c.state = Completed
		completed = total
		content = Completion
	}
	turn := Turn{ID: c.newID(), Role: domain.RoleAssistant, Content: content}
	c.turns = append(c.turns, turn)
	sessionID, index := c.sessionID, c.index
	c.mu.Unlock()

	if err := c.backend.SaveProgress(ctx, sessionID, completed, nil); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Int("completed", completed).Msg("save progress failed")
	}
	c.persist(ctx, sessionID, turn, index)
	return content, nil
}

// Delete removes the session remotely and then discards local state. With
// no session it only resets. A failed remote delete leaves everything as it
// was.
func (c *Conversation) Delete(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()

	if id != "" {
		if err := c.backend.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	c.Reset()
	return nil
}

// Reset starts over in NoSession, keeping the loaded catalog. A reply still
// streaming is discarded when it ends.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.state = NoSession
	c.busy = false
	c.sessionID = ""
	c.index = 0
	c.turns = nil
}

// State returns the current state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the conversation's state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:     c.state,
		SessionID: c.sessionID,
		Index:     c.index,
		Total:     len(c.questions),
		Turns:     append([]Turn(nil), c.turns...),
	}
	if c.index >= 0 && c.index < len(c.questions) {
		s.Question = c.questions[c.index].Text
	}
	return s
}

// persist saves a finished turn. Failures are logged and swallowed.
func (c *Conversation) persist(ctx context.Context, sessionID string, t Turn, index int) {
	err := c.backend.SaveMessage(ctx, sessionID, client.Message{ID: t.ID, Role: t.Role, Content: t.Content}, index)
	if err != nil {
		c.log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("role", t.Role).
			Int("question_index", index).
			Msg("save message failed")
	}
}
