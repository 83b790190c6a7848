package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/usecase/orchestrator"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Session runs chat turns against the continuous conversation
type Session struct {
	orch      *orchestrator.Orchestrator
	store     *memory.Store
	responder interfaces.Responder
	clock     func() time.Time
	history   int

	mu       sync.Mutex
	lastUser *model.Message
}

// Reply is the outcome of one turn
type Reply struct {
	Text   string
	Prompt *model.EnhancedPrompt
}

type Option func(*Session)

func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithHistoryMessages passes the latest n messages to the responder as chat turns in
// addition to the conversation tail embedded in the prompt
func WithHistoryMessages(n int) Option {
	return func(s *Session) {
		s.history = n
	}
}

func New(orch *orchestrator.Orchestrator, responder interfaces.Responder, opts ...Option) *Session {
	s := &Session{
		orch:      orch,
		store:     orch.Store(),
		responder: responder,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send answers message and appends both sides of the turn to the conversation. A
// failure to persist the turn is logged and does not fail the reply.
func (s *Session) Send(ctx context.Context, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "message is empty")
	}

	user := &model.Message{
		ID:        model.NewMessageID(),
		Role:      model.RoleUser,
		Content:   message,
		Timestamp: s.clock(),
	}

	var history []*model.Message
	if s.history > 0 {
		history = s.store.GetRecentMessages(ctx, s.history)
	}

	prompt, err := s.orch.Process(ctx, message, nil)
	if err != nil {
		return nil, err
	}

	text, err := s.responder.Respond(ctx, prompt.Prompt, history, message)
	if err != nil {
		s.save(ctx, user)
		return nil, goerr.Wrap(err, "failed to get response", goerr.V("message_id", user.ID))
	}

	ts := s.clock()
	if !ts.After(user.Timestamp) {
		ts = user.Timestamp.Add(time.Nanosecond)
	}
	assistant := &model.Message{
		ID:        model.NewMessageID(),
		Role:      model.RoleAssistant,
		Content:   text,
		Timestamp: ts,
	}
	s.save(ctx, user, assistant)

	return &Reply{Text: text, Prompt: prompt}, nil
}

func (s *Session) save(ctx context.Context, messages ...*model.Message) {
	s.mu.Lock()
	s.lastUser = messages[0]
	s.mu.Unlock()

	if err := s.store.SaveConversation(ctx, messages); err != nil {
		logging.From(ctx).Warn("failed to save chat turn", "error", err)
	}
}

// Remember marks the last user message of this session as important
func (s *Session) Remember(ctx context.Context, contextTag string) (*model.Memory, error) {
	s.mu.Lock()
	last := s.lastUser
	s.mu.Unlock()

	if last == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "no message to remember yet")
	}
	return s.orch.MarkAsImportant(ctx, last.ID, last.Content, contextTag)
}
