package uploads

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/shared/server/middleware"
	"healthrecords-backend/internal/shared/server/respond"
	"healthrecords-backend/internal/shared/storage/object"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/users"
)

// UserResolver maps the caller identity to a user record.
type UserResolver interface {
	Resolve(ctx context.Context, identity string) (users.User, error)
}

type Handler struct {
	Blobs object.Gateway
	Users UserResolver
	now   func() time.Time
}

func NewHandler(blobs object.Gateway, resolver UserResolver) *Handler {
	return &Handler{Blobs: blobs, Users: resolver, now: time.Now}
}

type uploadURLResponse struct {
	UploadURL        string    `json:"uploadUrl"`
	Method           string    `json:"method"`
	StorageID        string    `json:"storageId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExpiresInSeconds int64     `json:"expiresInSeconds"`
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/uploads/url", h.generateUploadURL)
}

// generateUploadURL issues a single-use write location in the caller's
// blob namespace. The request has no body.
func (h *Handler) generateUploadURL(c *gin.Context) {
	if h.Blobs == nil || h.Users == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "uploads not configured", nil)
		return
	}
	user, err := h.Users.Resolve(c.Request.Context(), middleware.IdentityFromContext(c))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) || errors.Is(err, users.ErrUnauthorized) {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "unknown user; call /users/ensure first", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve user", nil)
		return
	}

	ticket, err := h.Blobs.GenerateUploadURL(c.Request.Context(), user.ID)
	if err != nil {
		telemetry.Error("uploads.url.failed", map[string]any{
			"err":        err.Error(),
			"user_id":    user.ID,
			"request_id": c.GetString("requestId"),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to generate upload url", nil)
		return
	}

	expiresIn := ticket.ExpiresAt.Sub(h.now()).Round(time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}
	respond.OK(c, uploadURLResponse{
		UploadURL:        ticket.URL,
		Method:           ticket.Method,
		StorageID:        ticket.Handle,
		ExpiresAt:        ticket.ExpiresAt,
		ExpiresInSeconds: int64(expiresIn.Seconds()),
	})
}
