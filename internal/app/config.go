package app

import (
	"os"
	"strconv"
	"time"

	"github.com/examforge/authd/internal/service"
	"github.com/examforge/authd/pkg/jwtx"
)

type Config struct {
	Issuer   string // Issuer claim for tokens (default: examforge-authd)
	Audience string // Audience claim for tokens (default: examforge)

	// AccessSecret and RefreshSecret sign the two token kinds. They must
	// differ. When either is unset an ephemeral secret is generated at
	// startup, which invalidates all outstanding tokens on restart.
	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration // Access token lifetime (default: 15m)
	RefreshTTL time.Duration // Refresh token lifetime (default: 168h)
	ResetTTL   time.Duration // Reset token lifetime (default: 1h)

	LockoutThreshold int           // Failed logins before lockout (default: 5)
	LockoutDuration  time.Duration // Lockout length (default: 15m)

	ResetBaseURL string // Base URL for emailed reset links

	DatabaseFile string // Path to SQLite database file (default: ./authd.db)
	PepperFile   string // Path to password hashing pepper file (default: ./pepper)

	ArgonMemoryKiB   int // Argon2id memory cost (default: library default)
	ArgonIterations  int
	ArgonParallelism int

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		Issuer:   getEnvOrDefault("AUTH_ISSUER", "examforge-authd"),
		Audience: getEnvOrDefault("AUTH_AUDIENCE", "examforge"),

		AccessSecret:  os.Getenv("AUTH_ACCESS_SECRET"),
		RefreshSecret: os.Getenv("AUTH_REFRESH_SECRET"),

		AccessTTL:  getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL: getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_TTL", jwtx.DefaultRefreshTokenTTL),
		ResetTTL:   getEnvDurationOrDefault("AUTH_RESET_TOKEN_TTL", service.DefaultResetTokenTTL),

		LockoutThreshold: getEnvIntOrDefault("AUTH_LOCKOUT_THRESHOLD", service.DefaultLockoutThreshold),
		LockoutDuration:  getEnvDurationOrDefault("AUTH_LOCKOUT_DURATION", service.DefaultLockoutDuration),

		ResetBaseURL: getEnvOrDefault("AUTH_RESET_BASE_URL", "http://localhost:8080"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "authd.db"),
		PepperFile:   getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		ArgonMemoryKiB:   getEnvIntOrDefault("AUTH_ARGON_MEMORY_KIB", 0),
		ArgonIterations:  getEnvIntOrDefault("AUTH_ARGON_ITERATIONS", 0),
		ArgonParallelism: getEnvIntOrDefault("AUTH_ARGON_PARALLELISM", 0),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Duration syntax first (e.g. "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers count as minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
