package users

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"healthrecords-backend/internal/shared/telemetry"
)

type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// EnsureUser returns the user for identity, creating it on first sight.
func (s *Service) EnsureUser(ctx context.Context, identity, displayName string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return User{}, ErrUnauthorized
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	candidate := User{ID: uuid.NewString(), Identity: identity, DisplayName: displayName}
	user, err := s.Repo.EnsureByIdentity(ctx, candidate)
	if err != nil {
		return User{}, err
	}
	if user.ID == candidate.ID {
		telemetry.Info("user.created", map[string]any{"userId": user.ID})
	}
	return user, nil
}

// Resolve looks up the user for identity without creating one.
func (s *Service) Resolve(ctx context.Context, identity string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return User{}, ErrUnauthorized
	}
	return s.Repo.GetByIdentity(ctx, identity)
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is required")
	}
	return s.Repo.GetByID(ctx, userID)
}
