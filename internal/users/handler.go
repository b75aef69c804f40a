package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/shared/server/middleware"
	"healthrecords-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/users/ensure", h.ensure)
	rg.GET("/me", h.me)
}

func (h *Handler) ensure(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	user, err := h.Svc.EnsureUser(c.Request.Context(), middleware.IdentityFromContext(c), middleware.UserNameFromContext(c))
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to ensure user", nil)
		return
	}
	respond.OK(c, user)
}

func (h *Handler) me(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	user, err := h.Svc.Resolve(c.Request.Context(), middleware.IdentityFromContext(c))
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "user not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		}
		return
	}

	response := gin.H{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"createdAt":   user.CreatedAt,
	}
	if email := middleware.UserEmailFromContext(c); email != "" {
		response["email"] = email
	}
	if picture := middleware.UserPictureFromContext(c); picture != "" {
		response["picture"] = picture
	}
	respond.OK(c, response)
}
