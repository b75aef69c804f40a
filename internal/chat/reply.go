package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"healthrecords-backend/internal/llm"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/shared/util"
	"healthrecords-backend/internal/workpool"
)

// PoolName labels the reply pool in metrics, logs and job state.
const PoolName = "chat"

const (
	defaultHistoryLimit = 30
	historyScan         = 500
)

// Replier generates the assistant answer to one pending user message.
type Replier struct {
	Repo         Repo
	Model        llm.Chatter
	HistoryLimit int
	Now          func() time.Time
}

// Run is the pool job handler; job.Key is the prompt message id.
func (r *Replier) Run(ctx context.Context, job workpool.Job, attempt int) (any, error) {
	prompt, err := r.Repo.GetMessage(ctx, job.Key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, workpool.Permanent(err)
		}
		return nil, fmt.Errorf("load prompt: %w", err)
	}
	if prompt.Status != MessagePending {
		return nil, workpool.Permanent(fmt.Errorf("message %s already %s", prompt.ID, prompt.Status))
	}

	history, err := r.history(ctx, prompt)
	if err != nil {
		return nil, err
	}
	reply, err := r.Model.Reply(ctx, llm.ChatInstructions(), history)
	if err != nil {
		if llm.IsRejected(err) {
			return nil, workpool.Permanent(err)
		}
		return nil, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, errors.New("empty reply")
	}
	return reply, nil
}

// history returns the completed turns preceding prompt followed by prompt.
func (r *Replier) history(ctx context.Context, prompt Message) ([]llm.ChatMessage, error) {
	msgs, err := r.Repo.ListMessages(ctx, prompt.ThreadID, historyScan, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var out []llm.ChatMessage
	for _, m := range msgs {
		if m.ID == prompt.ID {
			break
		}
		if m.Status != MessageComplete {
			continue
		}
		out = append(out, llm.ChatMessage{Role: llm.Role(m.Role), Content: m.Content})
	}
	limit := r.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append(out, llm.ChatMessage{Role: llm.RoleUser, Content: prompt.Content}), nil
}

// Complete stores the reply, or marks the prompt failed. A prompt that is no
// longer pending is left alone.
func (r *Replier) Complete(ctx context.Context, job workpool.Job, outcome workpool.Outcome) error {
	prompt, err := r.Repo.GetMessage(ctx, job.Key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if prompt.Status != MessagePending {
		return nil
	}

	if outcome.Kind != workpool.OutcomeSuccess {
		reason := ""
		if outcome.Err != "" {
			reason = util.SanitizeError(errors.New(outcome.Err))
		}
		if reason == "" {
			reason = "reply generation failed"
		}
		_, err := r.Repo.SetMessageStatus(ctx, prompt.ID, MessageFailed, &reason)
		return err
	}

	text, _ := outcome.Value.(string)
	replyTo := prompt.ID
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	if !now.After(prompt.CreatedAt) {
		now = prompt.CreatedAt.Add(time.Microsecond)
	}
	answer := Message{
		// Derived from the prompt so a retried callback writes the same row.
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("chat-reply:"+prompt.ID)).String(),
		ThreadID:  prompt.ThreadID,
		Role:      RoleAssistant,
		Content:   text,
		Status:    MessageComplete,
		ReplyTo:   &replyTo,
		CreatedAt: now,
	}
	if err := r.Repo.AddMessage(ctx, answer); err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	if _, err := r.Repo.SetMessageStatus(ctx, prompt.ID, MessageComplete, nil); err != nil {
		return fmt.Errorf("complete prompt: %w", err)
	}
	telemetry.Info("chat.reply_saved", map[string]any{
		"thread_id":  prompt.ThreadID,
		"message_id": prompt.ID,
		"attempts":   outcome.Attempts,
		"request_id": job.RequestID,
	})
	return nil
}

// NewReplyPool builds the reply pool: three attempts with the usual backoff.
func NewReplyPool(r *Replier, parallelism int, store workpool.StateStore) *workpool.Pool {
	retry := workpool.DefaultRetryPolicy()
	retry.MaxAttempts = 3
	return workpool.New(workpool.Options{
		Name:           PoolName,
		MaxParallelism: parallelism,
		Retry:          retry,
		Run:            r.Run,
		OnComplete:     r.Complete,
		Store:          store,
	})
}
