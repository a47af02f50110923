package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/db"
	"delivery-backend/internal/delivery"
	"delivery-backend/internal/maintenance"
	"delivery-backend/internal/observability"
	"delivery-backend/internal/ratelimit"
	"delivery-backend/internal/security"
	"delivery-backend/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the whole service from environment configuration and returns
// a ready handler. Both the server binary and the serverless entry use it.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("SECRET_KEY")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	lockout, redisClient, err := buildLockoutStore()
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	tokens := security.NewTokenIssuer(jwtSecret, envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 30))

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, lockout, tokens)
	authService.WithPasswordConfig(policyFromEnv(), envIntOrDefault("BCRYPT_COST", security.DefaultBcryptCost))
	authHandler := auth.NewHandler(authService, logger)

	userRepo := user.NewRepository(database)
	userHandler := user.NewHandler(userRepo)
	deliveryHandler := delivery.NewHandler(userRepo)

	cleanupHandler := maintenance.NewCleanupHandler(
		lockout,
		logger,
		os.Getenv("CRON_SECRET"),
		envHoursOrDefault("LOCKOUT_RETENTION_HOURS", 24),
	)

	loginLimiter := ratelimit.NewIPRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10),
		envIntOrDefault("LOGIN_RATE_LIMIT_PER_HOUR", 100),
	)
	globalLimiter := ratelimit.NewIPRateLimiter(
		envIntOrDefault("RATE_LIMIT_PER_MINUTE", 60),
		envIntOrDefault("RATE_LIMIT_PER_HOUR", 1000),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("GET /auth/me", auth.Middleware(tokens, http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /auth/change-password", auth.Middleware(tokens, http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("GET /auth/security-status", auth.Middleware(tokens, http.HandlerFunc(authHandler.SecurityStatus)))
	mux.Handle("GET /users", auth.Middleware(tokens, http.HandlerFunc(userHandler.ListUsers)))
	mux.Handle("GET /users/{id}", auth.Middleware(tokens, http.HandlerFunc(userHandler.GetUser)))
	mux.Handle("GET /deliveries", auth.Middleware(tokens, http.HandlerFunc(deliveryHandler.ListDeliveries)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger,
		observability.SecurityHeadersMiddleware(
			observability.RequestLoggingMiddleware(logger,
				globalLimiter.Middleware(mux))))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

func buildLockoutStore() (security.LockoutStore, *redis.Client, error) {
	maxAttempts := envIntOrDefault("MAX_LOGIN_ATTEMPTS", security.DefaultMaxLoginAttempts)
	lockDuration := envMinutesOrDefault("LOCKOUT_DURATION_MINUTES", 15)

	if strings.EqualFold(envOrDefault("LOCKOUT_BACKEND", "memory"), "redis") {
		redisURL, err := mustEnv("REDIS_URL")
		if err != nil {
			return nil, nil, err
		}
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return security.NewRedisLockoutStore(client, maxAttempts, lockDuration), client, nil
	}

	return security.NewMemoryLockoutStore(maxAttempts, lockDuration), nil, nil
}

func policyFromEnv() security.Policy {
	return security.Policy{
		MinLength:        envIntOrDefault("PASSWORD_MIN_LENGTH", security.DefaultMinPasswordLength),
		RequireUppercase: EnvBoolOrDefault("PASSWORD_REQUIRE_UPPERCASE", true),
		RequireLowercase: EnvBoolOrDefault("PASSWORD_REQUIRE_LOWERCASE", true),
		RequireDigit:     EnvBoolOrDefault("PASSWORD_REQUIRE_DIGITS", true),
		RequireSpecial:   EnvBoolOrDefault("PASSWORD_REQUIRE_SPECIAL", true),
	}
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
