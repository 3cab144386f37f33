package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
)

// Destinations are "<receive_id_type>:<id>", e.g. "open_id:ou_x" or "chat_id:oc_x".
// A bare id is treated as an open_id.
const defaultReceiveIDType = "open_id"

const (
	msgTypeInteractive = "interactive"
	msgTypeFile        = "file"
)

type messageService interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
	Reply(ctx context.Context, req *larkim.ReplyMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error)
	Patch(ctx context.Context, req *larkim.PatchMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.PatchMessageResp, error)
}

type fileService interface {
	Create(ctx context.Context, req *larkim.CreateFileReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateFileResp, error)
}

// Notifier implements port.Notifier with Lark interactive cards
type Notifier struct {
	messages messageService
	files    fileService
	logger   *zap.Logger
}

// NewNotifier creates a Lark notifier
func NewNotifier(client *SDKClient, logger *zap.Logger) *Notifier {
	return newNotifier(client.GetClient().Im.Message, client.GetClient().Im.File, logger)
}

func newNotifier(messages messageService, files fileService, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{messages: messages, files: files, logger: logger}
}

// Send posts a card to destination, or into the thread rooted at msg.ThreadRef
func (n *Notifier) Send(ctx context.Context, destination string, msg port.OutboundMessage) (string, error) {
	card, err := buildCard(msg.Content, msg.Buttons)
	if err != nil {
		return "", err
	}
	return n.post(ctx, destination, msg.ThreadRef, msgTypeInteractive, card)
}

// Update replaces the content of a previously sent card and drops its buttons
func (n *Notifier) Update(ctx context.Context, destination, messageRef, content string) error {
	if messageRef == "" {
		return fmt.Errorf("message reference cannot be empty")
	}

	card, err := buildCard(content, nil)
	if err != nil {
		return err
	}

	req := larkim.NewPatchMessageReqBuilder().
		MessageId(messageRef).
		Body(larkim.NewPatchMessageReqBodyBuilder().
			Content(card).
			Build()).
		Build()

	resp, err := n.messages.Patch(ctx, req)
	if err != nil {
		n.logger.Error("Failed to update message", zap.String("message_id", messageRef), zap.Error(err))
		return fmt.Errorf("failed to update message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// Upload sends a file with an optional caption posted before it
func (n *Notifier) Upload(ctx context.Context, destination, filePath, caption, threadRef string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	req := larkim.NewCreateFileReqBuilder().
		Body(larkim.NewCreateFileReqBodyBuilder().
			FileType(fileTypeFor(filePath)).
			FileName(filepath.Base(filePath)).
			File(f).
			Build()).
		Build()

	resp, err := n.files.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to upload file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.FileKey == nil {
		return "", fmt.Errorf("upload returned no file key")
	}

	if caption != "" {
		if _, err := n.Send(ctx, destination, port.OutboundMessage{Content: caption, ThreadRef: threadRef}); err != nil {
			return "", err
		}
	}

	content, err := json.Marshal(map[string]string{"file_key": *resp.Data.FileKey})
	if err != nil {
		return "", fmt.Errorf("failed to encode file message: %w", err)
	}
	return n.post(ctx, destination, threadRef, msgTypeFile, string(content))
}

// OpenDirectChannel returns the destination for a direct message to actorID
func (n *Notifier) OpenDirectChannel(ctx context.Context, actorID string) (string, error) {
	if actorID == "" {
		return "", fmt.Errorf("actor id cannot be empty")
	}
	if strings.Contains(actorID, ":") {
		return actorID, nil
	}
	return defaultReceiveIDType + ":" + actorID, nil
}

func (n *Notifier) post(ctx context.Context, destination, threadRef, msgType, content string) (string, error) {
	if threadRef != "" {
		return n.reply(ctx, threadRef, msgType, content)
	}

	idType, id := parseDestination(destination)
	if id == "" {
		return "", fmt.Errorf("destination cannot be empty")
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(idType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(id).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := n.messages.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send message", zap.String("receive_id", id), zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		n.logger.Error("API returned failure",
			zap.String("receive_id", id),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", fmt.Errorf("send returned no message id")
	}
	return *resp.Data.MessageId, nil
}

func (n *Notifier) reply(ctx context.Context, threadRef, msgType, content string) (string, error) {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(threadRef).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			ReplyInThread(true).
			Build()).
		Build()

	resp, err := n.messages.Reply(ctx, req)
	if err != nil {
		n.logger.Error("Failed to reply in thread", zap.String("thread_ref", threadRef), zap.Error(err))
		return "", fmt.Errorf("failed to reply in thread: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", fmt.Errorf("reply returned no message id")
	}
	return *resp.Data.MessageId, nil
}

func parseDestination(destination string) (idType, id string) {
	if t, rest, ok := strings.Cut(destination, ":"); ok {
		return t, rest
	}
	return defaultReceiveIDType, destination
}

func fileTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf"
	case ".xls", ".xlsx":
		return "xls"
	case ".doc", ".docx":
		return "doc"
	default:
		return "stream"
	}
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
