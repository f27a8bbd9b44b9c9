package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/mailsweep/mailsweep/pkg/config"
)

// Config holds the core runtime configuration for a service instance.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "mailsweep"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int    // HTTP port the UI/API listens on

	// Google OAuth client credentials, in resolution order.
	CredentialsFile     string // installed-app client secret JSON on disk
	CredentialsJSON     string // inline JSON (GOOGLE_CREDENTIALS), overrides the file
	CredentialsSecretID string // AWS Secrets Manager key, used when file and env are absent
	AWSRegion           string

	TokenFile string // persisted OAuth token; removed on sign-out

	RedisAddr   string
	RedisDB     int
	RedisPass   string
	DatabaseURL string // optional; empty disables unsubscribe history
	NATSURL     string // optional; empty disables event publishing

	ScanWorkers      int
	ScanDefaultLimit int64
	ScanMaxLimit     int64

	HTTPTimeout          time.Duration
	TokenRefreshInterval time.Duration
	SnapshotTTL          time.Duration

	// OpenBrowser mirrors the desktop behavior: open the UI on start unless
	// PORT was set explicitly (cloud deployments set PORT).
	OpenBrowser bool
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	_, portSet := os.LookupEnv("PORT")

	cfg := &Config{
		ServiceName:          pkgconfig.GetEnv("SERVICE_NAME", "mailsweep"),
		Env:                  pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:             pkgconfig.GetEnv("LOG_LEVEL", "info"),
		Port:                 pkgconfig.GetEnvInt("PORT", 8766),
		CredentialsFile:      pkgconfig.GetEnv("CREDENTIALS_FILE", "credentials.json"),
		CredentialsJSON:      pkgconfig.GetEnv("GOOGLE_CREDENTIALS", ""),
		CredentialsSecretID:  pkgconfig.GetEnv("CREDENTIALS_SECRET_ID", ""),
		AWSRegion:            pkgconfig.GetEnv("AWS_REGION", "us-east-2"),
		TokenFile:            pkgconfig.GetEnv("TOKEN_FILE", "token.json"),
		RedisAddr:            pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              pkgconfig.GetEnvInt("REDIS_DB", 0),
		RedisPass:            pkgconfig.GetEnv("REDIS_PASS", ""),
		DatabaseURL:          pkgconfig.GetEnv("DATABASE_URL", ""),
		NATSURL:              pkgconfig.GetEnv("NATS_URL", ""),
		ScanWorkers:          pkgconfig.GetEnvInt("SCAN_WORKERS", 8),
		ScanDefaultLimit:     int64(pkgconfig.GetEnvInt("SCAN_DEFAULT_LIMIT", 500)),
		ScanMaxLimit:         int64(pkgconfig.GetEnvInt("SCAN_MAX_LIMIT", 2000)),
		HTTPTimeout:          pkgconfig.GetEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		TokenRefreshInterval: pkgconfig.GetEnvDuration("TOKEN_REFRESH_INTERVAL", 30*time.Minute),
		SnapshotTTL:          pkgconfig.GetEnvDuration("SNAPSHOT_TTL", 24*time.Hour),
		OpenBrowser:          pkgconfig.GetEnvBool("OPEN_BROWSER", !portSet),
	}

	return cfg
}
