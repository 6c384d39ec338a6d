// Package api wires together all HTTP routes for the agentdesk backend.
//
// Route grouping:
//   - /health, /ready and /version are public probes.
//   - /api/v1/setup is gated by the one-time setup token until the first
//     admin exists.
//   - /api/v1/auth/register and /login are public but strictly rate limited.
//   - Everything else requires a session token. Chat routes need the chat
//     scope; /api/v1/admin routes need the scope of the resource they touch
//     and every successful write is audited.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/agentdesk/agentdesk/internal/agents"
	"github.com/agentdesk/agentdesk/internal/api/account"
	"github.com/agentdesk/agentdesk/internal/api/admin"
	"github.com/agentdesk/agentdesk/internal/api/conversations"
	"github.com/agentdesk/agentdesk/internal/api/setup"
	"github.com/agentdesk/agentdesk/internal/audit"
	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/chat"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/crypto"
	"github.com/agentdesk/agentdesk/internal/db/repositories"
	"github.com/agentdesk/agentdesk/internal/jobs"
	"github.com/agentdesk/agentdesk/internal/llm"
	"github.com/agentdesk/agentdesk/internal/middleware"
	"github.com/agentdesk/agentdesk/internal/safego"
	"github.com/agentdesk/agentdesk/internal/sysconfig"
	"github.com/agentdesk/agentdesk/internal/threads"
)

// Version is reported by /version. Overridden at build time with -ldflags.
var Version = "0.1.0"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	threadSweeper *jobs.ThreadExpirySweeper
	sessionReaper *jobs.SessionReaper
	auditShipper  *audit.MultiShipper
	rateLimiters  []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.threadSweeper != nil {
		bg.threadSweeper.Stop()
	}
	if bg.sessionReaper != nil {
		bg.sessionReaper.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil, in which
// case throttling, rate limiting and exchange single-flight use in-process
// state.
func NewRouter(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	messageRepo := repositories.NewMessageRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	settingsRepo := repositories.NewSettingsRepository(sqlxDB)
	agentRepo := repositories.NewAgentRepository(sqlxDB)
	threadRepo := repositories.NewThreadRepository(sqlxDB)
	configRepo := repositories.NewSystemConfigRepository(sqlxDB)

	// Admin configuration store. Without a key, sensitive values are stored in clear.
	var cipher *crypto.ValueCipher
	if cfg.Security.EncryptionKey != "" {
		var err error
		cipher, err = crypto.FromSecret(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize config cipher: %w", err)
		}
	} else {
		slog.Warn("no encryption key configured; sensitive config values are stored unencrypted")
	}
	configStore := sysconfig.NewStore(configRepo, cipher)

	// Agent provider and domain services
	provider := llm.NewOpenAIProvider(configStore, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	registry := agents.NewRegistry(agentRepo, provider).WithDefaults(configStore, cfg.OpenAI.DefaultModel)
	threadManager := threads.NewManager(threadRepo, provider)
	runner := llm.NewAssistantRunner(provider, cfg.Chat.PollInterval, cfg.Chat.MaxPollAttempts)
	webhook := llm.NewWebhookClient(cfg.Chat.WebhookTimeout)

	var (
		throttle auth.LoginThrottle
		guard    chat.Guard
	)
	if rdb != nil {
		prefix := cfg.Redis.Prefix + ":"
		throttle = auth.NewRedisThrottle(rdb, prefix, cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutDuration)
		guard = chat.NewRedisGuard(rdb, prefix, chat.GuardTTLFor(cfg.Chat.ExchangeTimeout))
	} else {
		throttle = auth.NewMemoryThrottle(cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutDuration)
	}

	window := auth.DefaultSessionWindow()
	if cfg.Auth.SessionMaxAge > 0 {
		window.MaxAge = cfg.Auth.SessionMaxAge
	}
	if cfg.Auth.SessionIdleTimeout > 0 {
		window.IdleTimeout = cfg.Auth.SessionIdleTimeout
	}
	accounts := auth.NewAccounts(userRepo, sessionRepo, throttle, window)

	orchestrator := chat.NewOrchestrator(messageRepo, registry, threadManager, webhook, runner, guard, chat.Options{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		ExchangeTimeout:  cfg.Chat.ExchangeTimeout,
		FallbackReply:    cfg.Chat.FallbackReply,
	})

	// Audit trail
	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	bg.auditShipper = shipper
	recorder := audit.NewRecorder(auditRepo, shipper)

	// Background jobs
	bg.threadSweeper = jobs.NewThreadExpirySweeper(threadRepo, cfg.Jobs.ThreadSweepInterval)
	safego.Go("thread-expiry-sweeper", func() { bg.threadSweeper.Start(context.Background()) })
	bg.sessionReaper = jobs.NewSessionReaper(sessionRepo, cfg.Jobs.SessionReapInterval, cfg.Jobs.SessionRetentionDays)
	safego.Go("session-reaper", func() { bg.sessionReaper.Start(context.Background()) })

	// Rate limiters
	newLimiter := func(name string, rlc middleware.RateLimitConfig) middleware.Limiter {
		if rdb != nil {
			return middleware.NewRedisRateLimiter(rdb, cfg.Redis.Prefix, name, rlc)
		}
		rl := middleware.NewRateLimiter(rlc)
		bg.rateLimiters = append(bg.rateLimiters, rl)
		return rl
	}
	authLimiter := newLimiter("auth", middleware.AuthRateLimitConfig())
	chatLimiter := newLimiter("chat", middleware.ChatRateLimitConfig())
	var setupLimiter middleware.Limiter
	if rdb != nil {
		setupLimiter = middleware.NewRedisRateLimiter(rdb, cfg.Redis.Prefix, "setup", middleware.SetupRateLimitConfig())
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.SecurityHeadersFromConfig(&cfg.Security)))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		general := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			general.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			general.BurstSize = cfg.Security.RateLimiting.Burst
		}
		apiV1.Use(middleware.RateLimitMiddleware(newLimiter("general", general)))
	}

	authMW := middleware.AuthMiddleware(accounts)

	// Setup wizard
	setupHandlers := setup.NewHandlers(settingsRepo, recorder)
	setupGroup := apiV1.Group("/setup")
	{
		setupGroup.GET("/status", setupHandlers.GetSetupStatus)
		tokenGated := setupGroup.Group("")
		tokenGated.Use(middleware.SetupTokenMiddleware(settingsRepo, setupLimiter))
		tokenGated.POST("/validate-token", setupHandlers.ValidateToken)
		tokenGated.POST("/admin", setupHandlers.ConfigureAdmin)
	}

	// Credentials
	accountHandlers := account.NewHandlers(cfg, accounts, recorder)
	authGroup := apiV1.Group("/auth")
	{
		authGroup.POST("/register", middleware.RateLimitMiddleware(authLimiter), accountHandlers.Register)
		authGroup.POST("/login", middleware.RateLimitMiddleware(authLimiter), accountHandlers.Login)
		authGroup.POST("/logout", authMW, accountHandlers.Logout)
		authGroup.POST("/heartbeat", authMW, accountHandlers.Heartbeat)
		authGroup.GET("/me", authMW, accountHandlers.Me)
	}

	// Agents and chat
	agentHandlers := admin.NewAgentHandlers(registry)
	chatHandlers := conversations.NewHandlers(orchestrator)
	userGroup := apiV1.Group("")
	userGroup.Use(authMW, middleware.RequireScope(auth.ScopeChat))
	{
		userGroup.GET("/agents", agentHandlers.ListAgents)
		userGroup.GET("/agents/:id", agentHandlers.GetAgent)
		userGroup.GET("/models", agentHandlers.ListModels)

		userGroup.GET("/chat/:agent_id/messages", chatHandlers.ListMessages)
		userGroup.POST("/chat/:agent_id/messages", middleware.RateLimitMiddleware(chatLimiter), chatHandlers.SendMessage)
		userGroup.POST("/chat/:agent_id/reset", chatHandlers.ResetConversation)
	}

	// Administration
	adminGroup := apiV1.Group("/admin")
	adminGroup.Use(authMW, middleware.AuditMiddleware(recorder, &cfg.Audit))
	{
		agentsAdmin := adminGroup.Group("/agents")
		agentsAdmin.Use(middleware.RequireScope(auth.ScopeAgentsManage))
		agentsAdmin.POST("", agentHandlers.CreateAgent)
		agentsAdmin.PUT("/:id", agentHandlers.UpdateAgent)
		agentsAdmin.DELETE("/:id", agentHandlers.DeleteAgent)

		keyHandlers := admin.NewAccessKeyHandlers(db)
		keys := adminGroup.Group("/access-keys")
		keys.Use(middleware.RequireScope(auth.ScopeAccessKeysManage))
		keys.GET("", keyHandlers.ListAccessKeysHandler())
		keys.POST("", keyHandlers.CreateAccessKeyHandler())
		keys.DELETE("/:id", keyHandlers.DeleteAccessKeyHandler())

		configHandlers := admin.NewConfigHandlers(configStore)
		cfgGroup := adminGroup.Group("/config")
		cfgGroup.GET("", middleware.RequireScope(auth.ScopeConfigRead), configHandlers.ListConfig)
		cfgGroup.GET("/:key", middleware.RequireScope(auth.ScopeConfigRead), configHandlers.GetConfig)
		cfgGroup.PUT("/:key", middleware.RequireScope(auth.ScopeConfigManage), configHandlers.SetConfig)
		cfgGroup.DELETE("/:key", middleware.RequireScope(auth.ScopeConfigManage), configHandlers.DeleteConfig)

		userHandlers := admin.NewUserHandlers(db)
		adminGroup.GET("/users", middleware.RequireScope(auth.ScopeUsersRead), userHandlers.ListUsersHandler())

		auditHandlers := admin.NewAuditLogHandlers(db)
		adminGroup.GET("/audit-logs", middleware.RequireScope(auth.ScopeAuditRead), auditHandlers.ListAuditLogsHandler())
	}

	return router, bg, nil
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler fails when a shared dependency is down. Redis is probed
// only when configured, since without it every instance keeps local state.
func readinessHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the server and API versions.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

// logRequest emits one record per request. The output format follows the
// global handler configured in telemetry.SetupLogger.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.LogAttrs(
		c.Request.Context(),
		level,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", middleware.RequestID(c)),
		slog.String("user_id", middleware.UserID(c)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", allowedMethods(cfg))
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, SetupToken")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func allowedMethods(cfg *config.Config) string {
	if len(cfg.Security.CORS.AllowedMethods) == 0 {
		return "GET, POST, PUT, DELETE, OPTIONS"
	}
	return strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
}
