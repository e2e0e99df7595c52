package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vowsuite/notify/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL, REDIS_ADDR and JWT_SECRET
// are required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBMaxConnIdle time.Duration
	MigrationsDir string

	// Redis (pub/sub bus)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Socket handshake
	JWTSecret        string
	HandshakeTimeout time.Duration

	// Per-lane worker counts, indexed by domain.Priority.LaneIndex().
	// Critical gets the largest budget.
	LaneWorkers [domain.NumLanes]int

	// External providers
	EmailProviderURL string
	SMSProviderURL   string
	PushProviderURL  string
	ProviderTimeout  time.Duration

	// Per-channel steady-state rate (requests per second)
	RateLimit int

	// Retry backoff durations: index 0 = first retry delay, etc.
	RetryBackoff []time.Duration
	MaxRetries   int

	// Background poll interval for due scheduled notifications
	SchedulerInterval time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:   dbURL,
		DBMaxConns:    int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:    int32(getInt("DB_MIN_CONNS", 5)),
		DBMaxConnIdle: getDuration("DB_MAX_CONN_IDLE", 5*time.Minute),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		RedisAddr:     redisAddr,
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		JWTSecret:        jwtSecret,
		HandshakeTimeout: getDuration("HANDSHAKE_TIMEOUT", 10*time.Second),

		LaneWorkers: [domain.NumLanes]int{
			getInt("CRITICAL_WORKERS", 10),
			getInt("HIGH_WORKERS", 6),
			getInt("MEDIUM_WORKERS", 4),
			getInt("LOW_WORKERS", 2),
		},

		EmailProviderURL: getEnv("EMAIL_PROVIDER_URL", "http://localhost:9091/email"),
		SMSProviderURL:   getEnv("SMS_PROVIDER_URL", "http://localhost:9092/sms"),
		PushProviderURL:  getEnv("PUSH_PROVIDER_URL", "http://localhost:9093/push"),
		ProviderTimeout:  getDuration("PROVIDER_TIMEOUT", 10*time.Second),

		RateLimit: getInt("RATE_LIMIT_PER_CHANNEL", 100),

		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 2*time.Second),
			getDuration("RETRY_BACKOFF_2", 10*time.Second),
			getDuration("RETRY_BACKOFF_3", 30*time.Second),
		},
		MaxRetries: getInt("MAX_RETRIES", 3),

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 5*time.Second),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
