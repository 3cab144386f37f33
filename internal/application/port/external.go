package port

import (
	"context"

	"github.com/garyjia/booking-approval/internal/domain/entity"
	"github.com/garyjia/booking-approval/internal/domain/event"
)

// Button is an action control attached to an outbound message
type Button struct {
	Label      string
	Action     string
	WorkflowID string
	Style      string // primary, danger or default
}

// OutboundMessage is the transport-neutral content of a message
type OutboundMessage struct {
	Content   string
	Buttons   []Button
	ThreadRef string // empty posts at top level
}

// Notifier delivers messages to humans. Destinations and message
// references are opaque tokens owned by the implementation.
type Notifier interface {
	Send(ctx context.Context, destination string, msg OutboundMessage) (messageRef string, err error)
	Update(ctx context.Context, destination, messageRef, content string) error
	Upload(ctx context.Context, destination, filePath, caption, threadRef string) (fileRef string, err error)
	OpenDirectChannel(ctx context.Context, actorID string) (destination string, err error)
}

// IntentAction is the classified meaning of a thread message
type IntentAction string

const (
	IntentExecute IntentAction = "execute"
	IntentEdit    IntentAction = "edit"
	IntentView    IntentAction = "view"
)

// Intent is the classifier's answer for one message
type Intent struct {
	Action  IntentAction   `json:"action" yaml:"action"`
	Fields  map[string]any `json:"fields" yaml:"fields"`
	Message string         `json:"message" yaml:"message"`
}

// ConversationTurn is one exchange kept as context for the classifier
type ConversationTurn struct {
	Role    string
	Content string
}

// IntentClassifier turns free text into a structured edit command
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, text string, current entity.BookingOrderData, history []ConversationTurn) (*Intent, error)
}

// Renderer produces the booking-order artifact and returns its path
type Renderer interface {
	Render(ctx context.Context, data entity.BookingOrderData, referenceID string, applyApprovalStamp bool) (string, error)
}

// FileArchive copies a source document into permanent storage
type FileArchive interface {
	Archive(ctx context.Context, srcPath, workflowID string) (entity.OriginalFile, error)
}

// Stakeholders are the actor ids responsible for each stage of one company
type Stakeholders struct {
	Coordinator string
	HoS         string
	Finance     string
}

// StakeholderDirectory resolves the contacts of a company at notification time
type StakeholderDirectory interface {
	Lookup(company string) (Stakeholders, error)
}

// EventPublisher forwards domain events to an external bus
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
	Close() error
}
