// Package chat implements assistant conversations: threads owned by one
// identity, user prompts, and replies generated off the request path.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/workpool"
)

const (
	maxPromptChars = 8000
	maxTitleChars  = 120
)

// Scheduler runs reply generation jobs.
type Scheduler interface {
	Submit(ctx context.Context, job workpool.Job) (*workpool.Ticket, error)
}

type Service struct {
	Repo    Repo
	Replies Scheduler
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateThread starts a conversation owned by identity.
func (s *Service) CreateThread(ctx context.Context, identity, title string) (Thread, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Thread{}, ErrUnauthorized
	}
	t := Thread{
		ID:            uuid.NewString(),
		OwnerIdentity: identity,
		Title:         truncate(strings.TrimSpace(title), maxTitleChars),
		CreatedAt:     s.now(),
	}
	if err := s.Repo.CreateThread(ctx, t); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	telemetry.Info("chat.thread_created", map[string]any{"thread_id": t.ID})
	return t, nil
}

// SendMessage stores prompt as a pending user message and schedules the
// assistant reply.
func (s *Service) SendMessage(ctx context.Context, identity, threadID, prompt, requestID string) (Message, error) {
	thread, err := s.authorize(ctx, identity, threadID)
	if err != nil {
		return Message{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Message{}, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(prompt) > maxPromptChars {
		return Message{}, fmt.Errorf("%w: prompt longer than %d characters", ErrInvalidInput, maxPromptChars)
	}

	msg := Message{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		Role:      RoleUser,
		Content:   prompt,
		Status:    MessagePending,
		CreatedAt: s.now(),
	}
	if err := s.Repo.AddMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}

	if s.Replies == nil {
		return s.failMessage(ctx, msg, "reply generation not configured")
	}
	if _, err := s.Replies.Submit(ctx, workpool.Job{Key: msg.ID, RequestID: requestID}); err != nil {
		telemetry.Error("chat.reply_dispatch_failed", map[string]any{
			"thread_id":  thread.ID,
			"message_id": msg.ID,
			"error":      err,
		})
		return s.failMessage(ctx, msg, "reply dispatch failed: "+err.Error())
	}
	return msg, nil
}

func (s *Service) failMessage(ctx context.Context, msg Message, reason string) (Message, error) {
	if _, err := s.Repo.SetMessageStatus(ctx, msg.ID, MessageFailed, &reason); err != nil {
		return Message{}, fmt.Errorf("mark message failed: %w", err)
	}
	msg.Status = MessageFailed
	msg.Error = &reason
	return msg, nil
}

// ListMessages returns a page of the thread's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, identity, threadID string, limit, offset int) ([]Message, error) {
	if _, err := s.authorize(ctx, identity, threadID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.Repo.ListMessages(ctx, threadID, limit, offset)
}

func (s *Service) authorize(ctx context.Context, identity, threadID string) (Thread, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Thread{}, ErrUnauthorized
	}
	if _, err := uuid.Parse(strings.TrimSpace(threadID)); err != nil {
		return Thread{}, ErrNotFound
	}
	t, err := s.Repo.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Thread{}, ErrNotFound
		}
		return Thread{}, fmt.Errorf("load thread: %w", err)
	}
	if t.OwnerIdentity != identity {
		telemetry.Warn("chat.unauthorized", map[string]any{"thread_id": threadID})
		return Thread{}, ErrUnauthorized
	}
	return t, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
