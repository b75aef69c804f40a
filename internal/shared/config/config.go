package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration.
type Config struct {
	Port            string   `envconfig:"PORT" default:"8080"`
	Env             string   `envconfig:"ENV" default:"dev"`
	LogLevel        string   `envconfig:"LOG_LEVEL" default:"info"`
	PublicBaseURL   string   `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	CORSAllowOrigin []string `envconfig:"CORS_ALLOW_ORIGINS" default:"http://localhost:5173"`
	DatabaseURL     string   `envconfig:"DATABASE_URL"`
	AutoMigrate     bool     `envconfig:"AUTO_MIGRATE" default:"true"`

	BlobStore      string        `envconfig:"BLOB_STORE" default:"local"`
	LocalStoreDir  string        `envconfig:"LOCAL_STORE_DIR" default:"./data"`
	BlobSigningKey string        `envconfig:"BLOB_SIGNING_KEY"`
	UploadURLTTL   time.Duration `envconfig:"UPLOAD_URL_TTL" default:"15m"`
	DownloadURLTTL time.Duration `envconfig:"DOWNLOAD_URL_TTL" default:"10m"`
	MaxBlobBytes   int64         `envconfig:"MAX_BLOB_BYTES" default:"20971520"`
	AWSRegion      string        `envconfig:"AWS_REGION" default:"us-east-1"`
	S3Bucket       string        `envconfig:"S3_BUCKET"`
	S3Prefix       string        `envconfig:"S3_PREFIX"`
	MinioEndpoint  string        `envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string        `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `envconfig:"MINIO_SECRET_KEY"`
	MinioBucket    string        `envconfig:"MINIO_BUCKET" default:"documents"`
	MinioUseSSL    bool          `envconfig:"MINIO_USE_SSL" default:"false"`

	LLMProvider     string        `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMModel        string        `envconfig:"LLM_MODEL"`
	LLMChatModel    string        `envconfig:"LLM_CHAT_MODEL"`
	LLMTimeout      time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	OpenAIAPIKey    string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `envconfig:"OPENAI_BASE_URL"`
	GeminiAPIKey    string        `envconfig:"GEMINI_API_KEY"`
	BreakerFailures uint32        `envconfig:"LLM_BREAKER_FAILURES" default:"5"`
	BreakerCooldown time.Duration `envconfig:"LLM_BREAKER_COOLDOWN" default:"30s"`

	DispatchMode        string        `envconfig:"DISPATCH_MODE" default:"inline"`
	WorkerConcurrency   int           `envconfig:"WORKER_CONCURRENCY" default:"10"`
	RetryMaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryInitialBackoff time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"250ms"`
	RetryBase           float64       `envconfig:"RETRY_BASE" default:"2"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	SQSQueueURL         string        `envconfig:"SQS_QUEUE_URL"`
	SQSVisibility       time.Duration `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"20m"`
	NATSURL             string        `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	NATSSubject         string        `envconfig:"NATS_SUBJECT" default:"documents.classify"`
	NATSQueueGroup      string        `envconfig:"NATS_QUEUE_GROUP" default:"classifiers"`
	RedisAddr           string        `envconfig:"REDIS_ADDR"`
	RedisPassword       string        `envconfig:"REDIS_PASSWORD"`
	RedisDB             int           `envconfig:"REDIS_DB" default:"0"`
	JobStateTTL         time.Duration `envconfig:"JOB_STATE_TTL" default:"24h"`

	JWTSecret          string `envconfig:"JWT_SECRET"`
	AuthJWKSURL        string `envconfig:"AUTH_JWKS_URL"`
	AuthIssuer         string `envconfig:"AUTH_ISSUER" default:"healthrecords"`
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `envconfig:"GOOGLE_REDIRECT_URL"`
	UIRedirectURL      string `envconfig:"UI_REDIRECT_URL"`

	RateLimitDefault RateLimit `envconfig:"RATE_LIMIT_DEFAULT" default:"5:20"`
	RateLimitPolling RateLimit `envconfig:"RATE_LIMIT_POLLING" default:"10:30"`
	RateLimitUpload  RateLimit `envconfig:"RATE_LIMIT_UPLOAD" default:"0.5:5"`
}

// RateLimit is a "rate:burst" pair, e.g. "5:20".
type RateLimit struct {
	Rate  float64
	Burst int
}

// Decode implements envconfig.Decoder.
func (r *RateLimit) Decode(value string) error {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("rate limit %q: want rate:burst", value)
	}
	var rl RateLimit
	if _, err := fmt.Sscanf(parts[0], "%g", &rl.Rate); err != nil {
		return fmt.Errorf("rate limit %q: %w", value, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &rl.Burst); err != nil {
		return fmt.Errorf("rate limit %q: %w", value, err)
	}
	*r = rl
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = normalizeEnv(c.Env)
	c.BlobStore = normalizeStoreType(c.BlobStore)
	c.DispatchMode = normalizeDispatchMode(c.DispatchMode)
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.CORSAllowOrigin = splitAndTrim(c.CORSAllowOrigin)
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 10
	}
	if c.LLMModel == "" {
		c.LLMModel = defaultModel(c.LLMProvider)
	}
	if c.LLMChatModel == "" {
		c.LLMChatModel = c.LLMModel
	}
}

func (c Config) validate() error {
	if c.Env != "production" {
		return nil
	}
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" && c.AuthJWKSURL == "" {
		missing = append(missing, "JWT_SECRET or AUTH_JWKS_URL")
	}
	if c.BlobStore == "local" && c.BlobSigningKey == "" {
		missing = append(missing, "BLOB_SIGNING_KEY")
	}
	if c.DispatchMode == "sqs" && c.SQSQueueURL == "" {
		missing = append(missing, "SQS_QUEUE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: required in production: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsDevLike reports whether the environment tolerates in-memory fallbacks.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func splitAndTrim(raw []string) []string {
	var out []string
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

func normalizeDispatchMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "nats":
		return "nats"
	default:
		return "inline"
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "gemini":
		return "gemini-2.5-flash"
	default:
		return "gpt-4.1-mini"
	}
}
