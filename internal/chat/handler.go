package chat

import (
	"errors"
	"net/http"
	"strconv"

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
	rg.POST("/threads", h.createThread)
	rg.POST("/threads/:id/messages", h.sendMessage)
	rg.GET("/threads/:id/messages", h.listMessages)
}

type createThreadRequest struct {
	Title string `json:"title" binding:"max=120"`
}

type sendMessageRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (h *Handler) createThread(c *gin.Context) {
	var req createThreadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid thread request", nil)
			return
		}
	}
	t, err := h.Svc.CreateThread(c.Request.Context(), middleware.IdentityFromContext(c), req.Title)
	if err != nil {
		fail(c, err, "failed to create thread")
		return
	}
	respond.Created(c, gin.H{"threadId": t.ID, "title": t.Title, "createdAt": t.CreatedAt})
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "prompt is required", nil)
		return
	}
	msg, err := h.Svc.SendMessage(c.Request.Context(), middleware.IdentityFromContext(c), c.Param("id"), req.Prompt, middleware.RequestIDFromContext(c))
	if err != nil {
		fail(c, err, "failed to send message")
		return
	}
	respond.JSON(c, http.StatusAccepted, msg)
}

func (h *Handler) listMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	msgs, err := h.Svc.ListMessages(c.Request.Context(), middleware.IdentityFromContext(c), c.Param("id"), limit, offset)
	if err != nil {
		fail(c, err, "failed to list messages")
		return
	}
	respond.OK(c, gin.H{"messages": msgs, "limit": limit, "offset": offset})
}

func fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "not allowed to access this thread", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "thread not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
