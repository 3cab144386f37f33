// Package websocket receives Lark events over the long connection and
// routes them to the booking service.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/service"
	"github.com/garyjia/booking-approval/internal/infrastructure/external/lark"
)

const cardActionEvent = "card.action.trigger"

// LarkAdapter wraps the Lark WebSocket SDK client and turns card button
// clicks and thread replies into booking service calls.
type LarkAdapter struct {
	appID     string
	appSecret string
	bookings  service.BookingService
	notifier  port.Notifier
	logger    *zap.Logger

	wsClient *larkws.Client
	mu       sync.RWMutex
	started  bool
}

// LarkAdapterConfig holds configuration for the Lark WebSocket adapter.
type LarkAdapterConfig struct {
	AppID     string
	AppSecret string
}

// NewLarkAdapter creates a new Lark WebSocket adapter.
func NewLarkAdapter(cfg LarkAdapterConfig, bookings service.BookingService, notifier port.Notifier, logger *zap.Logger) *LarkAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LarkAdapter{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		bookings:  bookings,
		notifier:  notifier,
		logger:    logger,
	}
}

// Start connects and blocks until the context is cancelled or the client fails.
func (a *LarkAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("adapter already started")
	}

	// no verification token or encrypt key in long connection mode
	sdkDispatcher := larkdispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(a.handleMessage).
		OnCustomizedEvent(cardActionEvent, a.handleCardAction)

	a.wsClient = larkws.NewClient(
		a.appID,
		a.appSecret,
		larkws.WithEventHandler(sdkDispatcher),
	)

	a.started = true
	a.mu.Unlock()

	a.logger.Info("Starting Lark WebSocket adapter", zap.String("app_id", a.appID))

	if err := a.wsClient.Start(ctx); err != nil {
		a.logger.Error("Lark WebSocket client error", zap.Error(err))
		return fmt.Errorf("websocket client error: %w", err)
	}
	return nil
}

// Stop marks the adapter stopped. The SDK client itself stops with the Start context.
func (a *LarkAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false
	a.logger.Info("Lark WebSocket adapter stopped")
	return nil
}

// IsRunning returns whether the adapter is currently running.
func (a *LarkAdapter) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

type cardActionPayload struct {
	Event struct {
		Operator struct {
			OpenID string `json:"open_id"`
		} `json:"operator"`
		Action struct {
			Value      lark.ActionValue `json:"value"`
			InputValue string           `json:"input_value"`
			FormValue  struct {
				Reason string `json:"reason"`
			} `json:"form_value"`
		} `json:"action"`
		Context struct {
			OpenMessageID string `json:"open_message_id"`
			OpenChatID    string `json:"open_chat_id"`
		} `json:"context"`
	} `json:"event"`
}

// handleCardAction runs the transition behind a button and answers in the same chat
func (a *LarkAdapter) handleCardAction(ctx context.Context, evt *larkevent.EventReq) error {
	var payload cardActionPayload
	if err := json.Unmarshal(evt.Body, &payload); err != nil {
		a.logger.Error("Failed to parse card action", zap.Error(err))
		return fmt.Errorf("failed to parse card action: %w", err)
	}

	value := payload.Event.Action.Value
	actor := payload.Event.Operator.OpenID
	if value.Action == "" || value.WorkflowID == "" || actor == "" {
		a.logger.Debug("Ignoring card action without booking payload")
		return nil
	}

	reason := payload.Event.Action.FormValue.Reason
	if reason == "" {
		reason = payload.Event.Action.InputValue
	}

	outcome, err := a.bookings.HandleAction(ctx, value.WorkflowID, actor, value.Action, strings.TrimSpace(reason))
	if err != nil {
		a.logger.Warn("Card action finished with error",
			zap.String("workflow_id", value.WorkflowID),
			zap.String("action", value.Action),
			zap.Error(err))
	}
	if outcome == nil || outcome.Duplicate || outcome.Message == "" {
		return nil
	}

	dest := "open_id:" + actor
	if chat := payload.Event.Context.OpenChatID; chat != "" {
		dest = "chat_id:" + chat
	}
	if _, sendErr := a.notifier.Send(ctx, dest, port.OutboundMessage{Content: outcome.Message}); sendErr != nil {
		a.logger.Error("Failed to answer card action", zap.String("workflow_id", value.WorkflowID), zap.Error(sendErr))
	}
	return nil
}

// handleMessage routes a reply posted inside a thread to the edit session
func (a *LarkAdapter) handleMessage(ctx context.Context, evt *larkim.P2MessageReceiveV1) error {
	if evt == nil || evt.Event == nil || evt.Event.Message == nil {
		return nil
	}
	msg := evt.Event.Message

	if evt.Event.Sender != nil && deref(evt.Event.Sender.SenderType) == "app" {
		return nil
	}

	rootID := deref(msg.RootId)
	if rootID == "" || deref(msg.MessageType) != "text" {
		return nil
	}

	text, err := extractText(deref(msg.Content))
	if err != nil {
		a.logger.Warn("Failed to parse message content", zap.String("message_id", deref(msg.MessageId)), zap.Error(err))
		return nil
	}

	var actor string
	if evt.Event.Sender != nil && evt.Event.Sender.SenderId != nil {
		actor = deref(evt.Event.Sender.SenderId.OpenId)
	}

	reply, err := a.bookings.HandleThreadMessage(ctx, rootID, actor, text)
	if err != nil {
		a.logger.Warn("Thread message finished with error",
			zap.String("thread_ref", rootID),
			zap.String("actor_id", actor),
			zap.Error(err))
	}
	if reply == nil || reply.Text == "" {
		return nil
	}

	dest := "chat_id:" + deref(msg.ChatId)
	if _, sendErr := a.notifier.Send(ctx, dest, port.OutboundMessage{Content: reply.Text, ThreadRef: rootID}); sendErr != nil {
		a.logger.Error("Failed to answer thread message", zap.String("thread_ref", rootID), zap.Error(sendErr))
	}
	return nil
}

func extractText(content string) (string, error) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &body); err != nil {
		return "", err
	}
	return strings.TrimSpace(body.Text), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
