package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Admission locking
	AdmissionLockTTL   time.Duration
	AdmissionLockRetry time.Duration

	// Deferred task execution
	TaskPollInterval time.Duration
	TaskBatchSize    int
	TaskMaxAttempts  int
	TaskRetryBase    time.Duration
	TaskWorkerCount  int

	// Outbox delivery
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// Reminder offsets relative to appointment start
	ReminderLongLead  time.Duration
	ReminderShortLead time.Duration
	FeedbackDelay     time.Duration

	// Notification dispatch
	DispatchChannel string
	AWSRegion       string
	EmailFrom       string
	EmailFromName   string

	CORSAllowedOrigins string
}

// Load reads configuration from the environment with sensible defaults.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdmissionLockTTL:   getEnvAsDuration("ADMISSION_LOCK_TTL", 10*time.Second),
		AdmissionLockRetry: getEnvAsDuration("ADMISSION_LOCK_RETRY", 150*time.Millisecond),

		TaskPollInterval: getEnvAsDuration("TASK_POLL_INTERVAL", 15*time.Second),
		TaskBatchSize:    getEnvAsInt("TASK_BATCH_SIZE", 50),
		TaskMaxAttempts:  getEnvAsInt("TASK_MAX_ATTEMPTS", 4),
		TaskRetryBase:    getEnvAsDuration("TASK_RETRY_BASE", 1*time.Minute),
		TaskWorkerCount:  getEnvAsInt("TASK_WORKER_COUNT", 4),

		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),

		ReminderLongLead:  getEnvAsDuration("REMINDER_LONG_LEAD", 24*time.Hour),
		ReminderShortLead: getEnvAsDuration("REMINDER_SHORT_LEAD", 2*time.Hour),
		FeedbackDelay:     getEnvAsDuration("FEEDBACK_DELAY", 2*time.Hour),

		DispatchChannel: getEnv("DISPATCH_CHANNEL", "log"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		EmailFrom:       getEnv("EMAIL_FROM", ""),
		EmailFromName:   getEnv("EMAIL_FROM_NAME", "ClinicFlow"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
