package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/workflow"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
)

const (
	// DefaultTTL is how long a thread's conversation context is kept after its last message
	DefaultTTL = 15 * time.Minute

	defaultMaxTurns = 20
)

// Reply is what the session answers in the thread
type Reply struct {
	Text         string
	Intent       port.IntentAction
	Mutated      bool
	Transitioned bool
	Workflow     *entity.Workflow
}

type conversation struct {
	turns     []port.ConversationTurn
	expiresAt time.Time
}

// Session turns free text sent into an open edit thread into edits of the
// booking order, or into the edit_complete transition.
type Session struct {
	engine     workflow.Engine
	classifier port.IntentClassifier
	logger     *zap.Logger
	ttl        time.Duration
	maxTurns   int
	now        func() time.Time

	mu            sync.Mutex
	conversations map[string]*conversation
}

// Option configures a Session
type Option func(*Session)

// WithTTL sets the conversation expiry
func WithTTL(ttl time.Duration) Option {
	return func(s *Session) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the session clock
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New creates a thread-edit session handler
func New(engine workflow.Engine, classifier port.IntentClassifier, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		engine:        engine,
		classifier:    classifier,
		logger:        logger,
		ttl:           DefaultTTL,
		maxTurns:      defaultMaxTurns,
		now:           time.Now,
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage processes one message posted in threadRef. A reply is
// returned whenever there is something to tell the actor, including
// alongside an error.
func (s *Session) HandleMessage(ctx context.Context, workflowID, actorID, threadRef, text string) (*Reply, error) {
	wf, err := s.engine.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !s.engine.IsThreadActiveForEdit(wf, threadRef) {
		return &Reply{
			Text:     "This booking order is not open for edits here. Please use the Approve, Reject or Cancel buttons instead of typing.",
			Workflow: wf,
		}, nil
	}

	key := workflowID + ":" + threadRef
	history := s.history(key)

	intent, err := s.classifier.ClassifyIntent(ctx, text, wf.Data, history)
	if err == nil && intent == nil {
		err = errors.New("classifier returned no intent")
	}
	if err != nil {
		s.logger.Warn("Intent classification failed",
			zap.String("workflow_id", workflowID),
			zap.String("actor_id", actorID),
			zap.Error(err))
		return &Reply{
			Text:     "Sorry, I couldn't understand that. Nothing was changed. Please rephrase the change you want.",
			Workflow: wf,
		}, fmt.Errorf("%w: %w", workflow.ErrExtractionFailure, err)
	}

	var reply *Reply
	switch intent.Action {
	case port.IntentView:
		reply = &Reply{Text: workflow.FormatData(wf.Data), Workflow: wf}

	case port.IntentEdit:
		reply, err = s.edit(ctx, wf, threadRef, intent)

	case port.IntentExecute:
		reply, err = s.execute(ctx, wf, actorID)
		if reply.Transitioned {
			s.forget(key)
			return reply, err
		}

	default:
		return &Reply{
			Text:     "Sorry, I couldn't understand that. Nothing was changed.",
			Workflow: wf,
		}, fmt.Errorf("%w: unknown intent %q", workflow.ErrExtractionFailure, intent.Action)
	}

	reply.Intent = intent.Action
	s.remember(key, text, reply.Text)
	return reply, err
}

func (s *Session) edit(ctx context.Context, wf *entity.Workflow, threadRef string, intent *port.Intent) (*Reply, error) {
	if len(intent.Fields) == 0 {
		text := strings.TrimSpace(intent.Message)
		if text == "" {
			text = "I didn't find any field to change. Try something like \"client is Acme\"."
		}
		return &Reply{Text: text, Workflow: wf}, nil
	}

	updated, summary, err := s.engine.EditData(ctx, wf.WorkflowID, threadRef, intent.Fields)
	switch {
	case errors.Is(err, workflow.ErrThreadNotActive):
		return &Reply{Text: "This booking order has moved on and can no longer be edited here.", Workflow: wf}, err
	case errors.Is(err, workflow.ErrInvalidInput):
		return &Reply{Text: "I couldn't apply that change: " + unwrapMessage(err) + ". Nothing was changed.", Workflow: wf}, err
	case err != nil:
		return &Reply{Text: "Saving the change failed. Nothing was changed, please try again.", Workflow: wf}, err
	}

	var b strings.Builder
	if len(summary.Applied) > 0 {
		fmt.Fprintf(&b, "Updated %s.", strings.Join(summary.Applied, ", "))
	}
	if len(summary.Ignored) > 0 {
		fmt.Fprintf(&b, " Ignored %s (calculated from the net amount).", strings.Join(summary.Ignored, ", "))
	}
	b.WriteString("\n\n")
	b.WriteString(workflow.FormatData(updated.Data))
	b.WriteString("\n\nSay \"execute\" when you are done.")

	return &Reply{Text: strings.TrimSpace(b.String()), Mutated: true, Workflow: updated}, nil
}

func (s *Session) execute(ctx context.Context, wf *entity.Workflow, actorID string) (*Reply, error) {
	res, err := s.engine.Transition(ctx, wf.WorkflowID, actorID, domainwf.TriggerEditComplete)
	if res == nil {
		if errors.Is(err, workflow.ErrIllegalTransition) {
			return &Reply{Text: "This booking order can no longer be resubmitted from here.", Workflow: wf}, err
		}
		return &Reply{Text: "Resubmitting failed, nothing was changed. Please try again.", Workflow: wf}, err
	}

	text := "Done. The updated booking order was sent for approval again."
	if err != nil {
		text = "The booking order was resubmitted, but regenerating or posting the document failed. An admin can retry it."
	}
	return &Reply{Text: text, Transitioned: true, Workflow: res.Workflow}, err
}

// history returns the conversation for key, dropping it if expired
func (s *Session) history(key string) []port.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[key]
	if !ok {
		return nil
	}
	if !s.now().Before(c.expiresAt) {
		delete(s.conversations, key)
		return nil
	}
	return append([]port.ConversationTurn(nil), c.turns...)
}

func (s *Session) remember(key, userText, replyText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.conversations[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &conversation{}
		s.conversations[key] = c
	}
	c.turns = append(c.turns,
		port.ConversationTurn{Role: "user", Content: userText},
		port.ConversationTurn{Role: "assistant", Content: replyText})
	if len(c.turns) > s.maxTurns {
		c.turns = c.turns[len(c.turns)-s.maxTurns:]
	}
	c.expiresAt = now.Add(s.ttl)

	// opportunistic sweep of abandoned threads
	for k, other := range s.conversations {
		if !now.Before(other.expiresAt) {
			delete(s.conversations, k)
		}
	}
}

func (s *Session) forget(key string) {
	s.mu.Lock()
	delete(s.conversations, key)
	s.mu.Unlock()
}

// unwrapMessage strips the sentinel prefix from an input error
func unwrapMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, workflow.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(workflow.ErrInvalidInput.Error())+2:]
	}
	return msg
}
