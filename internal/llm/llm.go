package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client wraps the Anthropic API for drafting issue descriptions.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildDraftPrompt constructs the system and user prompts for description drafting.
func buildDraftPrompt(title, description string) (system string, user string) {
	system = `You draft descriptions for issues in an issue tracker. Given an issue's title and optional existing description, return a description of 2-5 sentences.

Rules:
- Return plain text only, no markdown fencing, no headings, no preamble
- State what the work is and what "done" looks like
- If a description already exists, improve it for clarity and keep anything specific it contains
- If only the title exists, infer as much as possible from it without inventing requirements`

	var sb strings.Builder
	sb.WriteString("Issue title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nExisting description:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// DraftDescription asks the LLM for a description of the issue. It returns
// plain text suitable for storing directly on the issue.
func (c *Client) DraftDescription(ctx context.Context, title, description string) (string, error) {
	systemPrompt, userPrompt := buildDraftPrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text, nil
}
