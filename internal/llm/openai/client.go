package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"healthrecords-backend/internal/llm"
	"healthrecords-backend/internal/shared/telemetry"
)

// Client implements llm.Provider using OpenAI Chat Completions with strict
// structured outputs.
type Client struct {
	api       openai.Client
	model     string
	chatModel string
}

// Options configures the client.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	ChatModel string
	Timeout   time.Duration
}

// NewClient constructs a new OpenAI client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(timeout),
		// Retries belong to the job dispatcher.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = opts.Model
	}
	return &Client{
		api:       openai.NewClient(reqOpts...),
		model:     opts.Model,
		chatModel: chatModel,
	}, nil
}

func (c *Client) Classify(ctx context.Context, req llm.ClassifyRequest) (json.RawMessage, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, toContentPart(p))
	}
	name := req.SchemaName
	if name == "" {
		name = "result"
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.Instructions),
			openai.UserMessage(parts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}
	if !isReasoningModel(c.model) {
		params.Temperature = openai.Float(0)
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	logUsage("classify", c.model, resp, time.Since(start))
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response missing choices")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, &llm.RejectedError{Provider: "openai", Status: 200, Message: "refused: " + msg.Refusal}
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, fmt.Errorf("openai response empty content")
	}
	return json.RawMessage(content), nil
}

func (c *Client) Reply(ctx context.Context, instructions string, history []llm.ChatMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(instructions))
	for _, m := range history {
		if m.Role == llm.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(m.Content))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.chatModel),
		Messages: messages,
	})
	if err != nil {
		return "", mapError(err)
	}
	logUsage("chat", c.chatModel, resp, time.Since(start))
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response missing choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai response empty content")
	}
	return content, nil
}

func toContentPart(p llm.Part) openai.ChatCompletionContentPartUnionParam {
	switch p.Kind {
	case llm.PartImage:
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(p.MIMEType, p.Data),
		})
	case llm.PartFile:
		return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(dataURL(p.MIMEType, p.Data)),
			Filename: openai.String(p.FileName),
		})
	default:
		return openai.TextContentPart(p.Text)
	}
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && !llm.Retryable(apiErr.StatusCode) {
		return &llm.RejectedError{Provider: "openai", Status: apiErr.StatusCode, Message: apiErr.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("openai request timeout: %w", err)
	}
	return fmt.Errorf("openai: %w", err)
}

func logUsage(op, model string, resp *openai.ChatCompletion, elapsed time.Duration) {
	telemetry.Info("llm.response", map[string]any{
		"provider":          "openai",
		"op":                op,
		"model":             model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
		"elapsed_ms":        elapsed.Milliseconds(),
	})
}

// isReasoningModel reports whether model rejects a temperature override.
func isReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "gpt-5") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}

var _ llm.Provider = (*Client)(nil)
