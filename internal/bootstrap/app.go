// Package bootstrap assembles the application from configuration. The API and
// the worker build the same App; each starts the pools it hosts.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"healthrecords-backend/internal/account"
	googleauth "healthrecords-backend/internal/auth"
	"healthrecords-backend/internal/chat"
	"healthrecords-backend/internal/classification"
	"healthrecords-backend/internal/documents"
	"healthrecords-backend/internal/llm"
	"healthrecords-backend/internal/llm/gemini"
	openai "healthrecords-backend/internal/llm/openai"
	"healthrecords-backend/internal/processing"
	"healthrecords-backend/internal/queue"
	"healthrecords-backend/internal/services/health"
	sharedauth "healthrecords-backend/internal/shared/auth"
	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/shared/server"
	"healthrecords-backend/internal/shared/storage/db"
	"healthrecords-backend/internal/shared/storage/object"
	localstore "healthrecords-backend/internal/shared/storage/object/local"
	miniostore "healthrecords-backend/internal/shared/storage/object/minio"
	s3store "healthrecords-backend/internal/shared/storage/object/s3"
	"healthrecords-backend/internal/uploads"
	"healthrecords-backend/internal/users"
	"healthrecords-backend/internal/workpool"
)

const chatParallelism = 4

// App holds shared dependencies.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Redis      *redis.Client
	NATS       *queue.NATSQueue
	Blobs      object.Gateway
	LocalBlobs *localstore.Store
	Model      llm.Provider
	JobStore   workpool.StateStore
	Auth       *sharedauth.Service

	UsersService     *users.Service
	DocumentsService *documents.Service
	Processor        *processing.Processor
	// Pool runs classification jobs. The API starts it in inline mode; the
	// worker always does.
	Pool        *workpool.Pool
	ChatService *chat.Service
	ChatPool    *workpool.Pool
	Health      *health.Service
}

// Build prepares every dependency and the HTTP router. Pools are created but
// not started.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg, Health: health.NewService(2 * time.Second)}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB

	if err := app.buildBlobs(ctx); err != nil {
		return nil, err
	}
	if err := app.buildModel(ctx); err != nil {
		return nil, err
	}
	app.buildJobStore()

	authSvc, err := sharedauth.NewService(ctx, sharedauth.Options{
		Secret:  cfg.JWTSecret,
		Issuer:  cfg.AuthIssuer,
		JWKSURL: cfg.AuthJWKSURL,
		Env:     cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	app.Auth = authSvc

	if err := app.buildServices(ctx); err != nil {
		return nil, err
	}
	app.registerHealthChecks()
	app.Router = app.buildRouter()
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			zap.S().Infof("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	if db.IsLambdaRuntime() {
		defaults = db.DefaultLambdaOptions()
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err != nil {
		if cfg.IsDevLike() {
			zap.S().Warnf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return sqlDB, nil
}

func (a *App) buildBlobs(ctx context.Context) error {
	cfg := a.Config
	switch cfg.BlobStore {
	case "s3":
		store, err := s3store.New(ctx, s3store.Options{
			Region:      cfg.AWSRegion,
			Bucket:      cfg.S3Bucket,
			Prefix:      cfg.S3Prefix,
			UploadTTL:   cfg.UploadURLTTL,
			DownloadTTL: cfg.DownloadURLTTL,
		})
		if err != nil {
			return fmt.Errorf("s3 blob store: %w", err)
		}
		a.Blobs = store
	case "minio":
		store, err := miniostore.New(ctx, miniostore.Options{
			Endpoint:    cfg.MinioEndpoint,
			AccessKey:   cfg.MinioAccessKey,
			SecretKey:   cfg.MinioSecretKey,
			Bucket:      cfg.MinioBucket,
			UseSSL:      cfg.MinioUseSSL,
			UploadTTL:   cfg.UploadURLTTL,
			DownloadTTL: cfg.DownloadURLTTL,
		})
		if err != nil {
			return fmt.Errorf("minio blob store: %w", err)
		}
		a.Blobs = store
	default:
		key := cfg.BlobSigningKey
		if key == "" {
			key = "dev-blob-signing-key"
		}
		store, err := localstore.New(localstore.Options{
			BaseDir:     cfg.LocalStoreDir,
			BaseURL:     cfg.PublicBaseURL,
			SigningKey:  key,
			UploadTTL:   cfg.UploadURLTTL,
			DownloadTTL: cfg.DownloadURLTTL,
			MaxBytes:    cfg.MaxBlobBytes,
		})
		if err != nil {
			return fmt.Errorf("local blob store: %w", err)
		}
		a.Blobs = store
		a.LocalBlobs = store
	}
	return nil
}

func (a *App) buildModel(ctx context.Context) error {
	cfg := a.Config
	var provider llm.Provider
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.IsDevLike() {
			zap.S().Warnf("bootstrap: OPENAI_API_KEY empty; classification will fail until configured")
			provider = llm.PlaceholderClient{}
			break
		}
		client, err := openai.NewClient(openai.Options{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.LLMModel,
			ChatModel: cfg.LLMChatModel,
			Timeout:   cfg.LLMTimeout,
		})
		if err != nil {
			return fmt.Errorf("openai: %w", err)
		}
		provider = client
	case "gemini":
		client, err := gemini.NewClient(ctx, gemini.Options{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.LLMModel,
			ChatModel: cfg.LLMChatModel,
			Timeout:   cfg.LLMTimeout,
		})
		if err != nil {
			return fmt.Errorf("gemini: %w", err)
		}
		provider = client
	default:
		provider = llm.PlaceholderClient{}
	}
	a.Model = llm.NewBreaker(provider, llm.BreakerOptions{
		Name:                cfg.LLMProvider,
		ConsecutiveFailures: cfg.BreakerFailures,
		Cooldown:            cfg.BreakerCooldown,
	})
	return nil
}

func (a *App) buildJobStore() {
	cfg := a.Config
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		a.JobStore = workpool.NewMemoryStore(cfg.JobStateTTL)
		return
	}
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.JobStore = workpool.NewRedisStore(a.Redis, cfg.JobStateTTL)
}

func (a *App) buildServices(ctx context.Context) error {
	cfg := a.Config

	var (
		userRepo users.Repo
		docRepo  documents.Repo
		chatRepo chat.Repo
	)
	if a.DB != nil {
		userRepo = &users.PGRepo{DB: a.DB}
		docRepo = &documents.PGRepo{DB: a.DB}
		chatRepo = &chat.PGRepo{DB: a.DB}
	} else {
		userRepo = users.NewMemoryRepo()
		docRepo = documents.NewMemoryRepo()
		chatRepo = chat.NewMemoryRepo()
	}

	a.UsersService = users.NewService(userRepo)
	docSvc := &documents.Service{
		Repo:  docRepo,
		Users: a.UsersService,
		Blobs: a.Blobs,
	}
	a.Processor = &processing.Processor{
		Docs:   docSvc,
		Engine: &classification.Engine{Blobs: a.Blobs, Model: a.Model, MaxBytes: cfg.MaxBlobBytes},
	}
	a.Pool = processing.NewPool(a.Processor, cfg.WorkerConcurrency, workpool.RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		Base:           cfg.RetryBase,
	}, a.JobStore)

	switch cfg.DispatchMode {
	case "sqs":
		client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return fmt.Errorf("sqs dispatcher: %w", err)
		}
		docSvc.Dispatcher = queue.Dispatcher{Client: client}
		docSvc.Jobs = processing.StateReader{Store: a.JobStore}
	case "nats":
		nq, err := queue.NewNATS(queue.NATSOptions{
			URL:        cfg.NATSURL,
			Subject:    cfg.NATSSubject,
			QueueGroup: cfg.NATSQueueGroup,
		})
		if err != nil {
			return fmt.Errorf("nats dispatcher: %w", err)
		}
		a.NATS = nq
		docSvc.Dispatcher = queue.Dispatcher{Client: nq}
		docSvc.Jobs = processing.StateReader{Store: a.JobStore}
	default:
		dispatcher := processing.PoolDispatcher{Pool: a.Pool}
		docSvc.Dispatcher = dispatcher
		docSvc.Jobs = dispatcher
	}
	a.DocumentsService = docSvc

	replier := &chat.Replier{Repo: chatRepo, Model: a.Model}
	a.ChatPool = chat.NewReplyPool(replier, chatParallelism, a.JobStore)
	a.ChatService = &chat.Service{Repo: chatRepo, Replies: a.ChatPool}
	return nil
}

func (a *App) registerHealthChecks() {
	a.Health.Describe("pool."+processing.PoolName, func() any { return a.Pool.Stats() })
	a.Health.Describe("pool."+chat.PoolName, func() any { return a.ChatPool.Stats() })
	if a.DB != nil {
		a.Health.Register("database", func(ctx context.Context) error {
			return db.Ping(ctx, a.DB, 2*time.Second)
		})
	}
	if a.Redis != nil {
		a.Health.Register("redis", func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}
	if a.NATS != nil {
		a.Health.Register("nats", func(context.Context) error {
			return a.NATS.Healthy()
		})
	}
}

func (a *App) buildRouter() *gin.Engine {
	cfg := a.Config
	var google *googleauth.GoogleService
	if cfg.GoogleClientID != "" {
		google = googleauth.NewGoogleService(googleauth.GoogleOptions{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			UIRedirect:   cfg.UIRedirectURL,
			Issuer:       cfg.AuthIssuer,
			Signer:       a.Auth,
			Users:        a.UsersService,
		})
	}
	return server.NewRouter(server.RouterDeps{
		Config:     cfg,
		Verifier:   a.Auth,
		Health:     health.NewHandler(a.Health),
		Users:      users.NewHandler(a.UsersService),
		Documents:  documents.NewHandler(a.DocumentsService),
		Uploads:    uploads.NewHandler(a.Blobs, a.UsersService),
		Account:    account.NewHandler(account.NewService(a.UsersService, a.DocumentsService)),
		Chat:       chat.NewHandler(a.ChatService),
		GoogleAuth: google,
		LocalBlobs: a.LocalBlobs,
	})
}

// Close shuts the pools down within ctx and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("classification pool: %w", err))
		}
	}
	if a.ChatPool != nil {
		if err := a.ChatPool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("chat pool: %w", err))
		}
	}
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
