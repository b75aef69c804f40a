package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"healthrecords-backend/internal/llm"
	"healthrecords-backend/internal/shared/telemetry"
)

// Client implements llm.Provider on the Gemini API.
type Client struct {
	client    *genai.Client
	model     string
	chatModel string
	timeout   time.Duration
}

// Options configures the client.
type Options struct {
	APIKey    string
	Model     string
	ChatModel string
	Timeout   time.Duration
}

// NewClient constructs a Gemini client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for Gemini")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = opts.Model
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{client: c, model: opts.Model, chatModel: chatModel, timeout: timeout}, nil
}

func (c *Client) Classify(ctx context.Context, req llm.ClassifyRequest) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch p.Kind {
		case llm.PartFile, llm.PartImage:
			parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
		default:
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
	}
	schema := req.FlatSchema
	if schema == nil {
		schema = req.Schema
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    SchemaFromJSON(schema),
		Temperature:       genai.Ptr[float32](0),
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, mapError(err)
	}
	logUsage("classify", c.model, resp, time.Since(start))
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini response empty content")
	}
	return json.RawMessage(text), nil
}

func (c *Client) Reply(ctx context.Context, instructions string, history []llm.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.chatModel, contents, cfg)
	if err != nil {
		return "", mapError(err)
	}
	logUsage("chat", c.chatModel, resp, time.Since(start))
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini response empty content")
	}
	return text, nil
}

// SchemaFromJSON converts the subset of JSON schema used here (object,
// string, enum, required, description) to a Gemini response schema.
func SchemaFromJSON(in map[string]any) *genai.Schema {
	if in == nil {
		return nil
	}
	out := &genai.Schema{}
	if d, ok := in["description"].(string); ok {
		out.Description = d
	}
	switch in["type"] {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if enum, ok := in["enum"].([]string); ok {
		out.Enum = append([]string(nil), enum...)
	}
	if req, ok := in["required"].([]string); ok {
		out.Required = append([]string(nil), req...)
	}
	if props, ok := in["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = SchemaFromJSON(sub)
			}
		}
	}
	if items, ok := in["items"].(map[string]any); ok {
		out.Items = SchemaFromJSON(items)
	}
	return out
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && !llm.Retryable(apiErr.Code) {
		return &llm.RejectedError{Provider: "gemini", Status: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}

func logUsage(op, model string, resp *genai.GenerateContentResponse, elapsed time.Duration) {
	fields := map[string]any{
		"provider":   "gemini",
		"op":         op,
		"model":      model,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if u := resp.UsageMetadata; u != nil {
		fields["prompt_tokens"] = u.PromptTokenCount
		fields["completion_tokens"] = u.CandidatesTokenCount
		fields["total_tokens"] = u.TotalTokenCount
	}
	telemetry.Info("llm.response", fields)
}

var _ llm.Provider = (*Client)(nil)
