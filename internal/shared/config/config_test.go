package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.Env != "dev" || !cfg.IsDevLike() {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Fatalf("expected 10 workers, got %d", cfg.WorkerConcurrency)
	}
	if cfg.RetryMaxAttempts != 5 || cfg.RetryInitialBackoff != 250*time.Millisecond || cfg.RetryBase != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
	if cfg.DispatchMode != "inline" || cfg.BlobStore != "local" {
		t.Fatalf("unexpected modes: dispatch=%s blob=%s", cfg.DispatchMode, cfg.BlobStore)
	}
	if cfg.LLMModel == "" || cfg.LLMChatModel != cfg.LLMModel {
		t.Fatalf("expected default model to be filled, got %q/%q", cfg.LLMModel, cfg.LLMChatModel)
	}
	if cfg.RateLimitDefault.Rate != 5 || cfg.RateLimitDefault.Burst != 20 {
		t.Fatalf("unexpected default rate limit: %+v", cfg.RateLimitDefault)
	}
}

func TestLoadNormalizesValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "Development")
	t.Setenv("BLOB_STORE", "MinIO")
	t.Setenv("DISPATCH_MODE", "bogus")
	t.Setenv("CORS_ALLOW_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("PUBLIC_BASE_URL", "http://api.test/")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("RATE_LIMIT_UPLOAD", "0.25:3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected dev, got %q", cfg.Env)
	}
	if cfg.BlobStore != "minio" {
		t.Fatalf("expected minio, got %q", cfg.BlobStore)
	}
	if cfg.DispatchMode != "inline" {
		t.Fatalf("expected inline fallback, got %q", cfg.DispatchMode)
	}
	if len(cfg.CORSAllowOrigin) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORSAllowOrigin)
	}
	if cfg.PublicBaseURL != "http://api.test" {
		t.Fatalf("expected trimmed base url, got %q", cfg.PublicBaseURL)
	}
	if cfg.LLMModel != "gemini-2.5-flash" {
		t.Fatalf("expected gemini default model, got %q", cfg.LLMModel)
	}
	if cfg.RateLimitUpload.Rate != 0.25 || cfg.RateLimitUpload.Burst != 3 {
		t.Fatalf("unexpected upload limit: %+v", cfg.RateLimitUpload)
	}
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "prod")
	if _, err := Load(); err == nil {
		t.Fatalf("expected production validation error")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("BLOB_SIGNING_KEY", "k")
	if _, err := Load(); err != nil {
		t.Fatalf("expected valid production config: %v", err)
	}
}

func TestLoadRejectsMalformedRateLimit(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RATE_LIMIT_DEFAULT", "fast")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed rate limit")
	}
}

func TestDotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := "# comment\nexport PORT=9999\nLOG_LEVEL=\"debug\"\nbroken-line\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("PORT", "7000")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7000" {
		t.Fatalf("expected env to win, got %q", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected dotenv value, got %q", cfg.LogLevel)
	}
}
