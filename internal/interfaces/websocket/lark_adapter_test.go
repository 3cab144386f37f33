package websocket

import (
	"context"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/service"
	"github.com/garyjia/booking-approval/internal/application/session"
	"github.com/garyjia/booking-approval/internal/application/workflow"
)

type actionCall struct {
	workflowID, actor, action, reason string
}

type threadCall struct {
	threadRef, actor, text string
}

type mockBookings struct {
	service.BookingService

	actions  []actionCall
	threads  []threadCall
	outcome  *service.ActionOutcome
	reply    *session.Reply
	replyErr error
}

func (m *mockBookings) HandleAction(ctx context.Context, workflowID, actorID, action, reason string) (*service.ActionOutcome, error) {
	m.actions = append(m.actions, actionCall{workflowID, actorID, action, reason})
	return m.outcome, nil
}

func (m *mockBookings) HandleThreadMessage(ctx context.Context, threadRef, actorID, text string) (*session.Reply, error) {
	m.threads = append(m.threads, threadCall{threadRef, actorID, text})
	return m.reply, m.replyErr
}

type sent struct {
	dest string
	msg  port.OutboundMessage
}

type recordingNotifier struct {
	port.Notifier
	sent []sent
}

func (n *recordingNotifier) Send(ctx context.Context, dest string, msg port.OutboundMessage) (string, error) {
	n.sent = append(n.sent, sent{dest, msg})
	return "om_x", nil
}

func cardEvent(body string) *larkevent.EventReq {
	return &larkevent.EventReq{Body: []byte(body)}
}

func TestLarkAdapter_CardAction(t *testing.T) {
	bookings := &mockBookings{outcome: &service.ActionOutcome{Message: "Approved. Sent to Head of Sales"}}
	notifier := &recordingNotifier{}
	a := NewLarkAdapter(LarkAdapterConfig{}, bookings, notifier, nil)

	err := a.handleCardAction(context.Background(), cardEvent(`{
		"schema": "2.0",
		"header": {"event_type": "card.action.trigger"},
		"event": {
			"operator": {"open_id": "ou_coord"},
			"action": {"tag": "button", "value": {"action": "coordinator_approve", "workflow_id": "bo-1"}},
			"context": {"open_message_id": "om_prompt", "open_chat_id": "oc_dm"}
		}
	}`))
	require.NoError(t, err)

	require.Len(t, bookings.actions, 1)
	assert.Equal(t, actionCall{"bo-1", "ou_coord", "coordinator_approve", ""}, bookings.actions[0])
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "chat_id:oc_dm", notifier.sent[0].dest)
	assert.Equal(t, "Approved. Sent to Head of Sales", notifier.sent[0].msg.Content)
}

func TestLarkAdapter_CardActionReasonAndDuplicates(t *testing.T) {
	bookings := &mockBookings{outcome: &service.ActionOutcome{Duplicate: true}}
	notifier := &recordingNotifier{}
	a := NewLarkAdapter(LarkAdapterConfig{}, bookings, notifier, nil)

	err := a.handleCardAction(context.Background(), cardEvent(`{
		"event": {
			"operator": {"open_id": "ou_hos"},
			"action": {"value": {"action": "hos_reject", "workflow_id": "bo-1"}, "form_value": {"reason": " wrong client "}}
		}
	}`))
	require.NoError(t, err)

	require.Len(t, bookings.actions, 1)
	assert.Equal(t, "wrong client", bookings.actions[0].reason)
	assert.Empty(t, notifier.sent)
}

func TestLarkAdapter_CardActionIgnoresForeignPayloads(t *testing.T) {
	bookings := &mockBookings{}
	a := NewLarkAdapter(LarkAdapterConfig{}, bookings, &recordingNotifier{}, nil)

	require.NoError(t, a.handleCardAction(context.Background(), cardEvent(`{"event": {"action": {"value": {"foo": "bar"}}}}`)))
	assert.Empty(t, bookings.actions)

	assert.Error(t, a.handleCardAction(context.Background(), cardEvent(`not json`)))
}

func messageEvent(rootID, msgType, content, senderType string) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Sender: &larkim.EventSender{
				SenderId:   &larkim.UserId{OpenId: larkcore.StringPtr("ou_coord")},
				SenderType: larkcore.StringPtr(senderType),
			},
			Message: &larkim.EventMessage{
				MessageId:   larkcore.StringPtr("om_msg"),
				RootId:      larkcore.StringPtr(rootID),
				ChatId:      larkcore.StringPtr("oc_dm"),
				MessageType: larkcore.StringPtr(msgType),
				Content:     larkcore.StringPtr(content),
			},
		},
	}
}

func TestLarkAdapter_ThreadMessage(t *testing.T) {
	bookings := &mockBookings{reply: &session.Reply{Text: "Updated client to Acme"}}
	notifier := &recordingNotifier{}
	a := NewLarkAdapter(LarkAdapterConfig{}, bookings, notifier, nil)

	err := a.handleMessage(context.Background(), messageEvent("om_root", "text", `{"text":" client is Acme "}`, "user"))
	require.NoError(t, err)

	require.Len(t, bookings.threads, 1)
	assert.Equal(t, threadCall{"om_root", "ou_coord", "client is Acme"}, bookings.threads[0])
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "chat_id:oc_dm", notifier.sent[0].dest)
	assert.Equal(t, "om_root", notifier.sent[0].msg.ThreadRef)
}

func TestLarkAdapter_ThreadMessageErrorStillAnswers(t *testing.T) {
	bookings := &mockBookings{
		reply:    &session.Reply{Text: "Sorry, I couldn't understand that. Nothing was changed."},
		replyErr: workflow.ErrExtractionFailure,
	}
	notifier := &recordingNotifier{}
	a := NewLarkAdapter(LarkAdapterConfig{}, bookings, notifier, nil)

	require.NoError(t, a.handleMessage(context.Background(), messageEvent("om_root", "text", `{"text":"???"}`, "user")))
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0].msg.Content, "Nothing was changed")
}

func TestLarkAdapter_IgnoredMessages(t *testing.T) {
	tests := []struct {
		name string
		evt  *larkim.P2MessageReceiveV1
	}{
		{"top level message", messageEvent("", "text", `{"text":"hi"}`, "user")},
		{"non text message", messageEvent("om_root", "image", `{"image_key":"k"}`, "user")},
		{"bot's own message", messageEvent("om_root", "text", `{"text":"hi"}`, "app")},
		{"empty event", &larkim.P2MessageReceiveV1{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := &mockBookings{}
			a := NewLarkAdapter(LarkAdapterConfig{}, bookings, &recordingNotifier{}, nil)

			require.NoError(t, a.handleMessage(context.Background(), tt.evt))
			assert.Empty(t, bookings.threads)
		})
	}
}

func TestLarkAdapter_UnrelatedThreadGetsNoAnswer(t *testing.T) {
	bookings := &mockBookings{}
	notifier := &recordingNotifier{}
	a := NewLarkAdapter(LarkAdapterConfig{}, bookings, notifier, nil)

	require.NoError(t, a.handleMessage(context.Background(), messageEvent("om_other", "text", `{"text":"lunch?"}`, "user")))
	assert.Len(t, bookings.threads, 1)
	assert.Empty(t, notifier.sent)
}
