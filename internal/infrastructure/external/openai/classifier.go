package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/workflow"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the intent classifier
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Classifier implements port.IntentClassifier with a chat completion model
type Classifier struct {
	client  chatClient
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewClassifier creates a classifier backed by the OpenAI API
func NewClassifier(cfg Config, prompts *PromptConfig, logger *zap.Logger) *Classifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return newClassifier(openai.NewClientWithConfig(clientCfg), model, prompts, logger)
}

func newClassifier(client chatClient, model string, prompts *PromptConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{client: client, model: model, prompts: prompts, logger: logger}
}

// ClassifyIntent asks the model what the message means for the current booking order
func (c *Classifier) ClassifyIntent(ctx context.Context, text string, current entity.BookingOrderData, history []port.ConversationTurn) (*port.Intent, error) {
	p := c.prompts.IntentClassification

	userPrompt, err := renderTemplate(p.UserTemplate, map[string]interface{}{
		"Current": workflow.FormatData(current),
		"Text":    text,
	})
	if err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Messages:    messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	intent, err := parseIntent(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", resp.Choices[0].Message.Content))
		return nil, err
	}

	c.logger.Debug("Intent classified",
		zap.String("action", string(intent.Action)),
		zap.Int("fields", len(intent.Fields)))
	return intent, nil
}

func parseIntent(content string) (*port.Intent, error) {
	var intent port.Intent
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		// models sometimes wrap the JSON in prose or code fences
		jsonStr := extractJSON(content)
		if jsonStr == "" {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if err := json.Unmarshal([]byte(jsonStr), &intent); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	intent.Action = port.IntentAction(strings.ToLower(strings.TrimSpace(string(intent.Action))))
	switch intent.Action {
	case port.IntentEdit, port.IntentView, port.IntentExecute:
	default:
		return nil, fmt.Errorf("unknown action %q in response", intent.Action)
	}
	return &intent, nil
}

// extractJSON returns the first balanced JSON object in content
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// Verify interface compliance
var _ port.IntentClassifier = (*Classifier)(nil)
