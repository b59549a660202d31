package describe

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

// claudeMaxTokens bounds the reply; 1500 characters is well under this.
const claudeMaxTokens = 1024

// MessageCreator is the subset of the Anthropic Messages service used here.
// *anthropic.MessageService satisfies it.
type MessageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ClaudeDescriber asks a Claude vision model for alt-text.
type ClaudeDescriber struct {
	messages MessageCreator
	model    string
}

// NewClaudeMessages creates the Messages service for an API key.
func NewClaudeMessages(apiKey string) *anthropic.MessageService {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &client.Messages
}

// NewClaudeDescriber creates the Claude strategy.
func NewClaudeDescriber(messages MessageCreator, model string) *ClaudeDescriber {
	return &ClaudeDescriber{messages: messages, model: model}
}

func (c *ClaudeDescriber) Name() string { return "claude" }

func (c *ClaudeDescriber) Caption(ctx context.Context, img Image, lang Language) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(img.Data)

	log.Debug().Str("model", c.model).Str("language", string(lang)).Int("bytes", len(img.Data)).Msg("Starting Claude API call for alt-text")
	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: claudeMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(img.ContentType(), encoded),
				anthropic.NewTextBlock(lang.Instruction()),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude create message: %w", err)
	}
	if msg == nil || len(msg.Content) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
