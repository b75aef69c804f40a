package documents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/classification"
	"healthrecords-backend/internal/shared/server/middleware"
	"healthrecords-backend/internal/shared/server/respond"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/workpool"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.register)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
	rg.POST("/documents/:id/cancel", h.cancel)
	rg.GET("/documents/:id/job", h.job)
	rg.GET("/exports/documents.xlsx", h.export)
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "storageId, fileName and type (pdf, image, text) are required", nil)
		return
	}
	doc, err := h.Svc.Register(c.Request.Context(), middleware.IdentityFromContext(c), RegisterInput{
		FileName:   req.FileName,
		BlobHandle: req.StorageID,
		MediaType:  MediaType(req.Type),
		RequestID:  middleware.RequestIDFromContext(c),
	})
	if err != nil {
		h.fail(c, err, "failed to register document")
		return
	}
	respond.Created(c, h.response(c, doc))
}

func (h *Handler) list(c *gin.Context) {
	docs, err := h.Svc.List(c.Request.Context(), middleware.IdentityFromContext(c))
	if err != nil {
		h.fail(c, err, "failed to list documents")
		return
	}
	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, h.response(c, doc))
	}
	respond.OK(c, gin.H{"documents": resp})
}

func (h *Handler) get(c *gin.Context) {
	doc, err := h.Svc.Get(c.Request.Context(), middleware.IdentityFromContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to fetch document")
		return
	}
	respond.OK(c, h.response(c, doc))
}

func (h *Handler) cancel(c *gin.Context) {
	doc, err := h.Svc.Cancel(c.Request.Context(), middleware.IdentityFromContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to cancel document")
		return
	}
	status := http.StatusOK
	if !doc.Status.IsTerminal() {
		status = http.StatusAccepted
	}
	respond.JSON(c, status, h.response(c, doc))
}

func (h *Handler) job(c *gin.Context) {
	st, err := h.Svc.JobState(c.Request.Context(), middleware.IdentityFromContext(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, workpool.ErrStateNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "no job state recorded", nil)
			return
		}
		h.fail(c, err, "failed to fetch job state")
		return
	}
	respond.OK(c, st)
}

func (h *Handler) export(c *gin.Context) {
	data, err := h.Svc.Export(c.Request.Context(), middleware.IdentityFromContext(c))
	if err != nil {
		h.fail(c, err, "failed to export documents")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="documents.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// response attaches a download URL. A gateway error leaves the URL empty
// rather than failing the request.
func (h *Handler) response(c *gin.Context, doc Document) DocumentResponse {
	resp := toResponse(doc)
	if h.Svc.Blobs == nil {
		return resp
	}
	u, err := h.Svc.Blobs.GetURL(c.Request.Context(), doc.BlobHandle)
	if err != nil {
		telemetry.Warn("document.url_failed", map[string]any{
			"document_id": doc.ID,
			"error":       err.Error(),
		})
		return resp
	}
	resp.URL = u
	return resp
}

func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "unknown user; call /users/ensure first", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, classification.ErrInvalid):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
