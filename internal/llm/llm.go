package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// PartKind identifies the payload of a Part.
type PartKind string

const (
	PartText  PartKind = "text"
	PartFile  PartKind = "file"
	PartImage PartKind = "image"
)

// Part is one piece of model input.
type Part struct {
	Kind     PartKind
	Text     string
	Data     []byte
	MIMEType string
	FileName string
}

// ClassifyRequest asks a provider for a structured answer. Schema is a strict
// JSON schema with an object root; FlatSchema is a single-object fallback for
// providers without union support.
type ClassifyRequest struct {
	Instructions string
	Parts        []Part
	SchemaName   string
	Schema       map[string]any
	FlatSchema   map[string]any
}

// Classifier returns the raw JSON produced for a ClassifyRequest.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (json.RawMessage, error)
}

// Role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    Role
	Content string
}

// Chatter produces the next assistant turn for a conversation.
type Chatter interface {
	Reply(ctx context.Context, instructions string, history []ChatMessage) (string, error)
}

// Provider is a model backend able to classify and chat.
type Provider interface {
	Classifier
	Chatter
}

// ErrNotConfigured is returned by the placeholder provider.
var ErrNotConfigured = errors.New("LLM provider not configured")

// RejectedError is a provider refusal that retrying will not fix, such as an
// invalid request or bad credentials.
type RejectedError struct {
	Provider string
	Status   int
	Message  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected request (%d): %s", e.Provider, e.Status, e.Message)
}

// IsRejected reports whether err carries a RejectedError.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// Retryable reports whether an HTTP status from a provider is worth retrying.
func Retryable(status int) bool {
	return status == 408 || status == 409 || status == 429 || status >= 500
}

// PlaceholderClient stands in when no provider credentials are configured.
type PlaceholderClient struct{}

func (PlaceholderClient) Classify(ctx context.Context, req ClassifyRequest) (json.RawMessage, error) {
	return nil, ErrNotConfigured
}

func (PlaceholderClient) Reply(ctx context.Context, instructions string, history []ChatMessage) (string, error) {
	return "", ErrNotConfigured
}

var _ Provider = PlaceholderClient{}
