package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestStatusAggregatesChecks(t *testing.T) {
	svc := NewService(50 * time.Millisecond)
	svc.Register("db", func(ctx context.Context) error { return nil })
	svc.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	svc.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc.Register("none", nil)

	report := svc.Status(context.Background())
	if report.OK {
		t.Fatalf("expected not ok")
	}
	if len(report.Checks) != 3 || report.Checks["db"] != "ok" || report.Checks["redis"] != "connection refused" {
		t.Fatalf("unexpected checks %v", report.Checks)
	}
	if report.Checks["slow"] != context.DeadlineExceeded.Error() {
		t.Fatalf("expected slow check to time out, got %q", report.Checks["slow"])
	}
}

func TestReadyRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"healthy", nil, http.StatusOK},
		{"degraded", errors.New("down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(time.Second)
			svc.Register("db", func(context.Context) error { return tt.err })
			r := gin.New()
			NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))

			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.Code)
			}
			var report Report
			if err := json.Unmarshal(resp.Body.Bytes(), &report); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if report.OK != (tt.err == nil) {
				t.Fatalf("unexpected report %+v", report)
			}
		})
	}
}

func TestStatusIncludesDetails(t *testing.T) {
	svc := NewService(time.Second)
	svc.Register("db", func(ctx context.Context) error { return nil })
	svc.Describe("pool.classify", func() any { return map[string]int{"running": 3, "capacity": 10} })
	svc.Describe("ignored", nil)

	report := svc.Status(context.Background())
	if !report.OK {
		t.Fatalf("details must not affect readiness")
	}
	if len(report.Details) != 1 {
		t.Fatalf("unexpected details %v", report.Details)
	}
	pool, ok := report.Details["pool.classify"].(map[string]int)
	if !ok || pool["running"] != 3 {
		t.Fatalf("unexpected pool details %v", report.Details["pool.classify"])
	}
}
