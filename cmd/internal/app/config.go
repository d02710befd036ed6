package app

import (
	"strings"
	"time"

	"fintrack/cmd/internal/schema"
)

// Config contains the runtime configuration loaded from environment variables.
// Auth policy (OTP, sessions, passwords, notifier, HTTP throttles) is loaded by
// the owning packages.
type Config struct {
	HTTPAddr  string
	Env       string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	AutoMigrate bool

	// RedisAddr switches the OTP store to Redis when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, FINTRACK_TOKEN_HMAC_KEY must be set (>= 32 bytes).
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// SweepInterval drives the expired OTP and refresh token purge.
	SweepInterval time.Duration
}

// Production reports whether the runtime is configured for production.
func (c Config) Production() bool { return strings.EqualFold(c.Env, "production") }

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	env := EnvString("FINTRACK_ENV", "development")
	format := "pretty"
	if strings.EqualFold(env, "production") {
		format = "json"
	}

	cfg := Config{
		HTTPAddr:  EnvString("FINTRACK_HTTP_ADDR", "0.0.0.0:8080"),
		Env:       env,
		LogLevel:  EnvString("FINTRACK_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("FINTRACK_LOG_FORMAT", format)),

		ReadHeaderTimeout: EnvDuration("FINTRACK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("FINTRACK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("FINTRACK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("FINTRACK_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("FINTRACK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("FINTRACK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("FINTRACK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("FINTRACK_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("FINTRACK_DB_SCHEMA", schema.Default),
		AutoMigrate: EnvBool("FINTRACK_DB_AUTO_MIGRATE", true),

		RedisAddr:     EnvString("FINTRACK_REDIS_ADDR", ""),
		RedisPassword: EnvString("FINTRACK_REDIS_PASSWORD", ""),
		RedisDB:       int(EnvInt32("FINTRACK_REDIS_DB", 0)),

		ReadinessRequireDB: EnvBool("FINTRACK_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("FINTRACK_REQUIRE_TOKEN_HMAC", strings.EqualFold(env, "production")),

		CORSAllowedOrigins:   EnvList("FINTRACK_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("FINTRACK_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("FINTRACK_CORS_MAX_AGE_SECONDS", 600),

		SweepInterval: EnvDuration("FINTRACK_SWEEP_INTERVAL", time.Minute),
	}
	return cfg
}
