// @title           agentdesk API
// @version         1.0.0
// @description     Multi-agent chat gateway: users chat with configurable AI agents (hosted assistants or webhook bots) while admins manage agents, access keys and configuration.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on dedicated side-channel ports (AGENTDESK_TELEMETRY_METRICS_PROMETHEUS_PORT, AGENTDESK_TELEMETRY_PROFILING_PORT), not by the API router.

// Package main is the entry point for the agentdesk server binary. It
// dispatches three subcommands (serve, migrate, version) with a plain switch
// on os.Args. serve applies pending migrations on startup.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the internal profiling port, never on the API listener.
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentdesk/agentdesk/internal/api"
	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/db/repositories"
	"github.com/agentdesk/agentdesk/internal/telemetry"
)

const setupTokenPrefix = "agd_setup_"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("agentdesk v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"name", cfg.Database.Name,
		"user", cfg.Database.User,
		"ssl_mode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	telemetry.StartDBStatsCollector(statsCtx, database, telemetry.DBStatsInterval)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	settingsRepo := repositories.NewSettingsRepository(sqlx.NewDb(database, "postgres"))
	if err := handleSetupToken(context.Background(), settingsRepo, cfg.Security.TLS.Enabled); err != nil {
		slog.Warn("setup token handling failed", "error", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = connectRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	} else {
		slog.Warn("redis not configured; login throttling, rate limits and exchange locks are per instance")
	}

	if cfg.Telemetry.Metrics.Enabled {
		go serveSideChannel("metrics", cfg.Telemetry.Metrics.PrometheusPort, metricsMux(), 10*time.Second)
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registers on http.DefaultServeMux at init time.
		go serveSideChannel("pprof", cfg.Telemetry.Profiling.Port, http.DefaultServeMux, 30*time.Second) // #nosec G108
	}

	router, bgServices, err := api.NewRouter(cfg, database, rdb)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "base_url", cfg.Server.BaseURL, "tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Exchanges can poll the provider for over a minute; give them time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func connectRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return rdb, nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// serveSideChannel runs an internal listener that is kept off the public API port.
func serveSideChannel(name string, port int, handler http.Handler, timeout time.Duration) {
	addr := fmt.Sprintf(":%d", port)
	slog.Info("starting "+name+" server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error(name+" server error", "error", err)
	}
}

// setupTokenStore is the part of the settings repository used at startup.
type setupTokenStore interface {
	IsSetupCompleted(ctx context.Context) (bool, error)
	GetSetupTokenHash(ctx context.Context) (string, error)
	SetSetupTokenHash(ctx context.Context, hash string) error
}

// handleSetupToken issues the setup token and warns when it will travel in
// plaintext.
func handleSetupToken(ctx context.Context, store setupTokenStore, tlsEnabled bool) error {
	token, err := issueSetupToken(ctx, store)
	if err != nil {
		return err
	}
	if token != "" && !tlsEnabled {
		slog.Warn("TLS is not enabled; the setup token will be sent in plaintext")
	}
	return nil
}

// issueSetupToken generates a one-time setup token when no admin exists yet
// and none was issued before. Only the bcrypt hash is stored; the raw token is
// logged once and optionally written to SETUP_TOKEN_FILE. It returns "" when
// nothing was generated.
func issueSetupToken(ctx context.Context, store setupTokenStore) (string, error) {
	completed, err := store.IsSetupCompleted(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check setup status: %w", err)
	}
	if completed {
		return "", nil
	}

	existingHash, err := store.GetSetupTokenHash(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check existing setup token: %w", err)
	}
	if existingHash != "" {
		slog.Warn("setup required: a setup token was issued earlier; clear system_settings.setup_token_hash and restart to issue a new one")
		return "", nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate setup token: %w", err)
	}
	rawToken := setupTokenPrefix + base64.RawURLEncoding.EncodeToString(tokenBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawToken), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash setup token: %w", err)
	}
	if err := store.SetSetupTokenHash(ctx, string(hash)); err != nil {
		return "", fmt.Errorf("failed to store setup token hash: %w", err)
	}

	separator := strings.Repeat("=", 66)
	log.Println(separator)
	log.Println("  INITIAL SETUP REQUIRED")
	log.Printf("  Setup Token: %s", rawToken)
	log.Println("  POST /api/v1/setup/admin with header: Authorization: SetupToken <token>")
	log.Println("  The token is single use and stops working once the first admin exists.")
	log.Println(separator)

	if tokenFile := os.Getenv("SETUP_TOKEN_FILE"); tokenFile != "" {
		if strings.Contains(filepath.ToSlash(tokenFile), "..") {
			slog.Warn("SETUP_TOKEN_FILE contains path traversal, ignoring", "path", tokenFile)
		} else {
			cleanPath := filepath.Clean(tokenFile)
			if err := os.WriteFile(cleanPath, []byte(rawToken), 0600); err != nil {
				slog.Warn("failed to write setup token file", "path", cleanPath, "error", err)
			} else {
				slog.Info("setup token written", "path", cleanPath)
			}
		}
	}

	return rawToken, nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}
