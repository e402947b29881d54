package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/locking"
	"github.com/clinicflow/scheduling-engine/internal/notify"
	"github.com/clinicflow/scheduling-engine/internal/tasks"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildPool connects a pgx pool to the configured database.
func BuildPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return pool, nil
}

// BuildLocker wires the Redis-backed locker. The engine's admission and
// lifecycle sections require it; a missing Redis is a startup failure.
func BuildLocker(redisClient *redis.Client, cfg *appconfig.Config) (locking.Locker, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("bootstrap: redis is required for locking")
	}
	return locking.NewRedisLocker(redisClient, cfg.AdmissionLockTTL), nil
}

// BuildDispatcher selects the notification channel for deferred tasks.
// "ses" sends email through AWS with contacts resolved from the directory;
// anything else logs the would-be notification.
func BuildDispatcher(ctx context.Context, cfg *appconfig.Config, db notify.DB, logger *logging.Logger) (tasks.Dispatcher, error) {
	if logger == nil {
		logger = logging.Default()
	}

	if strings.EqualFold(cfg.DispatchChannel, "ses") {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		logger.Info("notification channel: ses", "from", cfg.EmailFrom)
		return notify.NewEmailDispatcher(sender, notify.NewContactStore(db), logger), nil
	}

	logger.Info("notification channel: log")
	return notify.NewLogDispatcher(logger), nil
}

// ParseCORSOrigins splits the comma-separated origin allowlist.
func ParseCORSOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
