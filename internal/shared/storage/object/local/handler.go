package local

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/shared/server/respond"
	"healthrecords-backend/internal/shared/storage/object"
	"healthrecords-backend/internal/shared/telemetry"
)

// RegisterRoutes mounts the upload and signed download endpoints that back the
// URLs this store hands out.
func RegisterRoutes(rg *gin.RouterGroup, s *Store) {
	rg.PUT("/blobs/upload/:token", s.upload)
	rg.POST("/blobs/upload/:token", s.upload)
	rg.GET("/blobs/object", s.download)
}

func (s *Store) upload(c *gin.Context) {
	body := c.Request.Body
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable upload", nil)
			return
		}
		defer f.Close()
		body = f
	}

	handle, size, err := s.Accept(c.Request.Context(), c.Param("token"), body)
	switch {
	case errors.Is(err, ErrUnknownToken):
		respond.Error(c, http.StatusNotFound, "not_found", "upload url expired or already used", nil)
		return
	case errors.Is(err, object.ErrTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "too_large", "blob exceeds size limit", map[string]any{"maxBytes": s.maxBytes})
		return
	case err != nil:
		telemetry.Error("blobs.upload.failed", map[string]any{"err": err.Error(), "request_id": c.GetString("requestId")})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store blob", nil)
		return
	}
	respond.OK(c, gin.H{"handle": handle, "sizeBytes": size})
}

func (s *Store) download(c *gin.Context) {
	handle := c.Query("handle")
	if err := s.VerifyDownload(handle, c.Query("expires"), c.Query("sig")); err != nil {
		respond.Error(c, http.StatusForbidden, "forbidden", "invalid or expired download url", nil)
		return
	}
	rc, err := s.Open(c.Request.Context(), handle)
	if errors.Is(err, object.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", "blob not found", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to open blob", nil)
		return
	}
	defer rc.Close()

	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/octet-stream")
	if _, err := io.Copy(c.Writer, rc); err != nil {
		telemetry.Warn("blobs.download.aborted", map[string]any{"err": err.Error()})
	}
}
