package account

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
	rg.GET("/account/summary", h.summary)
}

func (h *Handler) summary(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	summary, err := h.Svc.Summary(c.Request.Context(), middleware.IdentityFromContext(c))
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "login required", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load account summary", nil)
		return
	}
	respond.OK(c, summary)
}
