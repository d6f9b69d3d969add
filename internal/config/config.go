package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds every tunable of the gateway core, loaded from environment
// variables. Components receive the values they need at construction; nothing
// reads the environment after startup.
type Config struct {
	// HTTP server
	Port string

	// Remote processor
	RemoteBackendURL      string
	RemoteBackendEmail    string
	RemoteBackendPassword string
	RequestTimeout        time.Duration
	RetryAttempts         int
	RetryBackoffBase      time.Duration

	// Session renewal margin before token expiry
	AuthRenewalMargin time.Duration

	// Hardware peer
	HardwareURL string

	// Audio job queue
	QueueCapacity int

	// Verification store
	VerificationDir      string
	VerificationMaxAge   time.Duration
	VerificationMaxFiles int
	VerificationInterval time.Duration
}

// Load reads configuration from the environment, after loading an optional
// .env file. Invalid numeric values fall back to defaults with a warning.
func Load(logger *zap.Logger) Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8000"),
		RemoteBackendURL:      getEnv("REMOTE_BACKEND_URL", "http://localhost:10002"),
		RemoteBackendEmail:    getEnv("REMOTE_BACKEND_EMAIL", "service@puertocho.local"),
		RemoteBackendPassword: getEnv("REMOTE_BACKEND_PASSWORD", ""),
		RequestTimeout:        getDuration(logger, "REMOTE_BACKEND_TIMEOUT_SECONDS", time.Second, 60*time.Second),
		RetryAttempts:         getInt(logger, "REMOTE_BACKEND_RETRY_ATTEMPTS", 3),
		RetryBackoffBase:      getDuration(logger, "REMOTE_BACKEND_RETRY_DELAY_SECONDS", time.Second, 2*time.Second),
		AuthRenewalMargin:     getDuration(logger, "AUTH_RENEWAL_MARGIN_SECONDS", time.Second, 300*time.Second),
		HardwareURL:           getEnv("HARDWARE_URL", "http://localhost:8080"),
		QueueCapacity:         getInt(logger, "AUDIO_QUEUE_CAPACITY", 10),
		VerificationDir:       getEnv("AUDIO_VERIFICATION_DIR", "audio_verification"),
		VerificationMaxAge:    getDuration(logger, "AUDIO_VERIFICATION_DAYS", 24*time.Hour, 7*24*time.Hour),
		VerificationMaxFiles:  getInt(logger, "AUDIO_VERIFICATION_MAX_FILES", 100),
		VerificationInterval:  getDuration(logger, "AUDIO_VERIFICATION_CLEANUP_SECONDS", time.Second, time.Hour),
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(logger *zap.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logger.Warn("Invalid integer in environment, using default",
			zap.String("key", key),
			zap.String("value", v),
			zap.Int("default", fallback))
		return fallback
	}
	return n
}

// getDuration reads an integer count of the given unit (the key name tells
// operators which unit applies).
func getDuration(logger *zap.Logger, key string, unit, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logger.Warn("Invalid duration in environment, using default",
			zap.String("key", key),
			zap.String("value", v),
			zap.Duration("default", fallback))
		return fallback
	}
	return time.Duration(n) * unit
}
