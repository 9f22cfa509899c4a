// Command authd serves the authcore engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/casework/authcore"
	"github.com/casework/authcore/account"
	"github.com/casework/authcore/directory"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	logger := NewLogger(os.Stdout)
	if err := run(logger); err != nil {
		logger.Error("authd_failed", map[string]any{"error": err.Error()})
		flushSentry()
		os.Exit(1)
	}
}

func run(logger *Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}
	defer flushSentry()

	cfg, err := configFromEnv()
	if err != nil {
		return err
	}
	for _, w := range cfg.Lint() {
		logger.Warn("config_lint", map[string]any{
			"code":     w.Code,
			"severity": w.Severity.String(),
			"detail":   w.Message,
		})
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return err
	}
	dir, err := directory.OpenPostgres(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer dir.Close()
	if err := dir.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	checks := map[string]healthCheck{"database": dir.DB().PingContext}

	builder := authcore.New().WithConfig(cfg).WithDirectory(dir)
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(authcore.NewJSONWriterSink(os.Stdout))
	}

	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		builder = builder.WithRedis(client)
	} else {
		logger.Warn("redis_not_configured", map[string]any{
			"detail": "revocations and login rate limits are kept in process",
		})
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if err := bootstrapAdmin(ctx, engine, dir, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	srv := newServer(engine, logger, checks)
	srv.trustProxy = envBoolOrDefault("TRUST_PROXY", false)

	httpServer := &http.Server{
		Addr:              envOrDefault("HTTP_ADDR", ":8080"),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_start", map[string]any{"addr": httpServer.Addr})
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server_shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// configFromEnv maps the service environment onto the engine config.
func configFromEnv() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	secret, err := mustEnv("JWT_SECRET_KEY")
	if err != nil {
		return cfg, err
	}
	cfg.JWT.SigningKey = []byte(secret)
	cfg.JWT.Issuer = envOrDefault("JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.AccessTTL = envMinutesOrDefault("JWT_ACCESS_TOKEN_EXPIRES", 24*60)
	cfg.JWT.RefreshTTL = envDaysOrDefault("JWT_REFRESH_TOKEN_EXPIRES", 30)

	cfg.Lockout.Threshold = envIntOrDefault("MAX_LOGIN_ATTEMPTS", cfg.Lockout.Threshold)
	cfg.Lockout.Duration = envMinutesOrDefault("LOGIN_ATTEMPT_TIMEOUT", 15)

	cfg.Password.MinLength = envIntOrDefault("PASSWORD_MIN_LENGTH", cfg.Password.MinLength)
	cfg.Password.Algorithm = envOrDefault("PASSWORD_ALGORITHM", cfg.Password.Algorithm)

	cfg.Security.LoginRateLimit = envIntOrDefault("RATE_LIMIT", 0)

	cfg.Audit.Enabled = envBoolOrDefault("AUDIT_LOG", true)
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = envBoolOrDefault("METRICS_LATENCY", false)

	return cfg, nil
}

// bootstrapAdmin creates the first administrator when both values are set. An
// existing account with that login name is left untouched.
func bootstrapAdmin(ctx context.Context, engine *authcore.Engine, dir *directory.Postgres, email, secret string) error {
	email = strings.TrimSpace(email)
	if email == "" || secret == "" {
		return nil
	}

	hash, err := engine.HashPassword(secret)
	if err != nil {
		return err
	}
	_, err = dir.Create(ctx, account.Account{
		LoginName:      email,
		DisplayName:    "Administrator",
		CredentialHash: hash,
		Role:           account.RoleAdmin,
		Active:         true,
	})
	if errors.Is(err, account.ErrDuplicateLoginName) {
		return nil
	}
	return err
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

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
