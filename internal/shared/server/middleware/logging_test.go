package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"healthrecords-backend/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	telemetry.SetLogger(zap.New(core))
	defer telemetry.SetLogger(nil)

	router := gin.New()
	router.Use(RequestID(), func(c *gin.Context) {
		c.Set(identityKey, "iss|user-1")
		c.Next()
	}, Logging())
	router.GET("/api/v1/documents/:id", func(c *gin.Context) {
		c.Set(DocumentIDKey, "doc-1")
		c.Set(StatusTransitionKey, "pending->canceled")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1", nil)
	req.Header.Set("X-Request-Id", "req-123")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	entries := logs.FilterMessage("request.complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	payload := entries[0].ContextMap()

	required := []string{"request_id", "identity", "document_id", "duration_ms", "status", "status_transition", "route"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["request_id"] != "req-123" {
		t.Fatalf("unexpected request_id: %v", payload["request_id"])
	}
	if payload["identity"] != "iss|user-1" {
		t.Fatalf("unexpected identity: %v", payload["identity"])
	}
	if payload["document_id"] != "doc-1" {
		t.Fatalf("unexpected document_id: %v", payload["document_id"])
	}
	if payload["route"] != "/api/v1/documents/:id" {
		t.Fatalf("unexpected route: %v", payload["route"])
	}
	if payload["status_transition"] != "pending->canceled" {
		t.Fatalf("unexpected status_transition: %v", payload["status_transition"])
	}
}
