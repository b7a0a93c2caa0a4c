package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer string // Required: issuer claim for tokens

	Algorithm      string // Optional: JWT signing algorithm (RS256, EdDSA) (default: EdDSA)
	RSABits        int    // Optional: RSA key size for RS256 (default: 4096)
	SigningKeyFile string // Optional: path to PEM signing key; empty generates an ephemeral key
	KeyID          string // Optional: kid header on issued tokens (default: primary)

	DatabaseFile string // Optional: path to SQLite database file (default: ./auth.db)
	PepperFile   string // Optional: path to pepper file for password hashing (default: ./pepper)

	KVDriver      string // Optional: session cache driver (memory, redis) (default: memory)
	KVPrefix      string // Optional: key prefix in the cache (default: melodyauth)
	RedisAddr     string // Required when KVDriver=redis
	RedisPassword string
	RedisDB       int

	SMTPHost     string // Optional: empty logs emails instead of sending
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SMTPTLSMode  string // auto, starttls, ssl or none (default: auto)

	RPID          string   // WebAuthn relying party id (default: localhost)
	RPDisplayName string   // WebAuthn relying party display name
	RPOrigins     []string // WebAuthn allowed origins

	SessionTTL          time.Duration // Auth session lifetime (default: 30m)
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	IDTokenTTL          time.Duration
	RememberDeviceTTL   time.Duration // Remembered-device exemption window (default: 720h)
	RotateRefreshTokens bool          // Rotate refresh tokens on every refresh (default: true)

	EnableEmailVerification bool // Mail a confirmation code on sign-up (default: false)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired-record sweep interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer: os.Getenv("AUTH_ISSUER"),

		Algorithm:      getEnvOrDefault("AUTH_ALGORITHM", "EdDSA"),
		RSABits:        getEnvIntOrDefault("AUTH_RSA_BITS", 0),
		SigningKeyFile: os.Getenv("AUTH_SIGNING_KEY_FILE"),
		KeyID:          getEnvOrDefault("AUTH_KEY_ID", "primary"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:   getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		KVDriver:      getEnvOrDefault("KV_DRIVER", "memory"),
		KVPrefix:      getEnvOrDefault("KV_PREFIX", "melodyauth"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnvIntOrDefault("SMTP_PORT", 587),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPTLSMode:  getEnvOrDefault("SMTP_TLS_MODE", "auto"),

		RPID:          getEnvOrDefault("AUTH_RP_ID", "localhost"),
		RPDisplayName: getEnvOrDefault("AUTH_RP_DISPLAY_NAME", "Melody Auth"),
		RPOrigins:     strings.Fields(getEnvOrDefault("AUTH_RP_ORIGINS", "http://localhost:8080")),

		SessionTTL:          getEnvDurationOrDefault("AUTH_SESSION_TTL", 30*time.Minute),
		AccessTokenTTL:      getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", 0),
		RefreshTokenTTL:     getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_TTL", 0),
		IDTokenTTL:          getEnvDurationOrDefault("AUTH_ID_TOKEN_TTL", 0),
		RememberDeviceTTL:   getEnvDurationOrDefault("AUTH_REMEMBER_DEVICE_TTL", 0),
		RotateRefreshTokens: getEnvBoolOrDefault("AUTH_ROTATE_REFRESH_TOKENS", true),

		EnableEmailVerification: getEnvBoolOrDefault("AUTH_ENABLE_EMAIL_VERIFICATION", false),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	if cfg.Issuer == "" {
		cfg.Issuer = "melody-auth"
	}

	return cfg
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
