package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/chat"
	"healthrecords-backend/internal/processing"
	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/workpool"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:                 "dev",
		PublicBaseURL:       "http://localhost:8080",
		BlobStore:           "local",
		LocalStoreDir:       t.TempDir(),
		BlobSigningKey:      "test-signing-key",
		DispatchMode:        "inline",
		WorkerConcurrency:   2,
		RetryMaxAttempts:    5,
		RetryInitialBackoff: 250 * time.Millisecond,
		RetryBase:           2,
		JobStateTTL:         time.Hour,
		ShutdownTimeout:     time.Second,
	}
}

func closeApp(t *testing.T, app *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuildInMemory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app, err := Build(context.Background(), devConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeApp(t, app)

	if app.DB != nil {
		t.Fatalf("expected in-memory repositories")
	}
	if app.LocalBlobs == nil {
		t.Fatalf("expected local blob store")
	}
	if _, ok := app.JobStore.(*workpool.MemoryStore); !ok {
		t.Fatalf("expected memory job store, got %T", app.JobStore)
	}
	if _, ok := app.DocumentsService.Dispatcher.(processing.PoolDispatcher); !ok {
		t.Fatalf("expected inline dispatcher, got %T", app.DocumentsService.Dispatcher)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	app.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d: %s", w.Code, w.Body.String())
	}

	var ready struct {
		Details map[string]workpool.Stats `json:"details"`
	}
	if err := json.NewDecoder(w.Body).Decode(&ready); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	classify := ready.Details["pool."+processing.PoolName]
	if classify.Name != processing.PoolName || classify.Capacity != 2 || classify.Running != 0 {
		t.Fatalf("unexpected classify pool stats %+v", classify)
	}
	if _, ok := ready.Details["pool."+chat.PoolName]; !ok {
		t.Fatalf("expected chat pool stats, got %+v", ready.Details)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	app.Router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestBuildWithRedisJobStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	cfg := devConfig(t)
	cfg.RedisAddr = mr.Addr()

	app, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeApp(t, app)

	if _, ok := app.JobStore.(*workpool.RedisStore); !ok {
		t.Fatalf("expected redis job store, got %T", app.JobStore)
	}
	report := app.Health.Status(context.Background())
	if !report.OK {
		t.Fatalf("expected healthy report, got %+v", report)
	}
	if _, ok := report.Checks["redis"]; !ok {
		t.Fatalf("expected redis check, got %+v", report.Checks)
	}

	mr.Close()
	if report := app.Health.Status(context.Background()); report.OK {
		t.Fatalf("expected unhealthy report after redis stopped")
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"
	cfg.JWTSecret = "secret"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}
