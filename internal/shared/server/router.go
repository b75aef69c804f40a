package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/account"
	googleauth "healthrecords-backend/internal/auth"
	"healthrecords-backend/internal/chat"
	"healthrecords-backend/internal/documents"
	"healthrecords-backend/internal/services/health"
	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/shared/metrics"
	"healthrecords-backend/internal/shared/server/middleware"
	localstore "healthrecords-backend/internal/shared/storage/object/local"
	"healthrecords-backend/internal/uploads"
	"healthrecords-backend/internal/users"
)

const (
	groupDefault = "DEFAULT"
	groupPolling = "POLLING"
	groupUpload  = "UPLOAD"
)

// RouterDeps carries the handlers mounted under /api/v1. Nil handlers are
// skipped.
type RouterDeps struct {
	Config     config.Config
	Verifier   middleware.TokenVerifier
	Health     *health.Handler
	Users      *users.Handler
	Documents  *documents.Handler
	Uploads    *uploads.Handler
	Account    *account.Handler
	Chat       *chat.Handler
	GoogleAuth *googleauth.GoogleService
	// LocalBlobs serves the upload and download URLs of the filesystem store.
	LocalBlobs *localstore.Store
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: groupDefault,
			GroupFor:     rateLimitGroup,
			Rules: map[string]middleware.RateLimitRule{
				groupDefault: rule(deps.Config.RateLimitDefault),
				groupPolling: rule(deps.Config.RateLimitPolling),
				groupUpload:  rule(deps.Config.RateLimitUpload),
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	if deps.Health != nil {
		deps.Health.RegisterRoutes(api)
	} else {
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
	}
	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	if deps.Users != nil {
		deps.Users.RegisterRoutes(api)
	}
	if deps.Uploads != nil {
		deps.Uploads.RegisterRoutes(api)
	}
	if deps.LocalBlobs != nil {
		localstore.RegisterRoutes(api, deps.LocalBlobs)
	}
	if deps.Documents != nil {
		deps.Documents.RegisterRoutes(api)
	}
	if deps.Account != nil {
		deps.Account.RegisterRoutes(api)
	}
	if deps.Chat != nil {
		deps.Chat.RegisterRoutes(api)
	}
	return r
}

func rule(rl config.RateLimit) middleware.RateLimitRule {
	return middleware.RateLimitRule{Rate: rl.Rate, Burst: rl.Burst}
}

// rateLimitGroup gives status polling a larger budget and uploads a smaller one.
func rateLimitGroup(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case strings.HasPrefix(path, "/api/v1/uploads/"), strings.HasPrefix(path, "/api/v1/blobs/upload/"):
		return groupUpload
	case c.Request.Method == http.MethodGet && (strings.HasPrefix(path, "/api/v1/documents") || strings.HasSuffix(path, "/messages")):
		return groupPolling
	default:
		return groupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
