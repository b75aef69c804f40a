package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthrecords-backend/internal/documents"
	"healthrecords-backend/internal/users"
)

// DocumentCounter reports per-status document counts for a caller.
type DocumentCounter interface {
	CountByStatus(ctx context.Context, identity string) (map[documents.Status]int, error)
}

// UserResolver finds a registered user by identity.
type UserResolver interface {
	Resolve(ctx context.Context, identity string) (users.User, error)
}

type Service struct {
	Users UserResolver
	Docs  DocumentCounter
}

// Summary is the caller's account overview.
type Summary struct {
	UserID      string         `json:"userId"`
	DisplayName string         `json:"displayName"`
	MemberSince time.Time      `json:"memberSince"`
	Documents   map[string]int `json:"documents"`
	Total       int            `json:"totalDocuments"`
	InProgress  int            `json:"inProgress"`
}

var ErrUnauthorized = errors.New("unauthorized")

func NewService(resolver UserResolver, docs DocumentCounter) *Service {
	return &Service{Users: resolver, Docs: docs}
}

// Summary resolves the caller and counts their documents by status. Every
// status appears in the result, zero when absent.
func (s *Service) Summary(ctx context.Context, identity string) (Summary, error) {
	if strings.TrimSpace(identity) == "" {
		return Summary{}, ErrUnauthorized
	}
	user, err := s.Users.Resolve(ctx, identity)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) || errors.Is(err, users.ErrUnauthorized) {
			return Summary{}, ErrUnauthorized
		}
		return Summary{}, fmt.Errorf("resolve user: %w", err)
	}
	counts, err := s.Docs.CountByStatus(ctx, identity)
	if err != nil {
		return Summary{}, fmt.Errorf("count documents: %w", err)
	}

	out := Summary{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		MemberSince: user.CreatedAt,
		Documents:   make(map[string]int, len(documents.AllStatuses)),
	}
	for _, st := range documents.AllStatuses {
		n := counts[st]
		out.Documents[string(st)] = n
		out.Total += n
		if !st.IsTerminal() {
			out.InProgress += n
		}
	}
	return out, nil
}
