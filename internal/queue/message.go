package queue

import (
	"encoding/json"
	"errors"
	"strings"
)

const messageVersion = 1

// Message asks a worker to classify one document.
type Message struct {
	DocumentID string `json:"documentId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

var ErrMissingDocumentID = errors.New("missing document id")

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = messageVersion
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(msg.DocumentID) == "" {
		return msg, ErrMissingDocumentID
	}
	return msg, nil
}
