package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/duvallglobal/listapp-sub000/internal/inference"
)

const (
	defaultModel = "gpt-4o-mini"
	maxTokens    = 2048
)

// Client implements inference.Client using OpenAI Chat Completions.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient constructs a new OpenAI client.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return newWithConfig(openai.DefaultConfig(apiKey), model), nil
}

func newWithConfig(cfg openai.ClientConfig, model string) *Client {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// AnalyzeItem sends the photo and listing instructions to OpenAI and returns
// the raw JSON listing.
func (c *Client) AnalyzeItem(ctx context.Context, req inference.Request) (json.RawMessage, error) {
	if len(req.ImageData) == 0 {
		return nil, fmt.Errorf("image data is empty")
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", req.MimeType, base64.StdEncoding.EncodeToString(req.ImageData))
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: inference.SystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: inference.BuildUserPrompt(req)},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}
	// Reasoning models reject max_tokens and want max_completion_tokens.
	if isReasoningModel(c.model) {
		chatReq.MaxCompletionTokens = maxTokens
	} else {
		chatReq.MaxTokens = maxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response missing choices")
	}

	cleaned := inference.StripFences(resp.Choices[0].Message.Content)
	if cleaned == "" {
		return nil, fmt.Errorf("openai response empty content")
	}
	if !json.Valid([]byte(cleaned)) {
		return nil, fmt.Errorf("invalid JSON from openai")
	}
	return json.RawMessage(cleaned), nil
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "gpt-5")
}

var _ inference.Client = (*Client)(nil)
