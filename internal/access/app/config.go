package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/provider"
)

// ProviderConfig carries the per-provider settings sourced from the
// environment. A provider is enabled when its client ID is set.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string

	// Seed credential for first-run bootstrap; ignored once a credential is
	// stored.
	AccessToken    string
	RefreshToken   string
	TokenExpiresIn time.Duration // validity of the seed access token

	CompanyID string

	// BaseURL and TokenURL override the provider's built-in endpoints,
	// mainly for pointing at sandboxes.
	BaseURL  string
	TokenURL string
}

type Config struct {
	CacheDatabaseFile string // Optional: path to the cache SQLite file (default: ./access-cache.db)
	AuditDatabaseFile string // Optional: path to the audit SQLite file (default: ./access-audit.db)
	CredentialFile    string // Optional: path to the encrypted credential blob (default: ./credentials.enc)
	KeyFile           string // Optional: path to the credential encryption key (default: ./credentials.key)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	Providers map[string]ProviderConfig
}

func LoadConfig() Config {
	cfg := Config{
		CacheDatabaseFile: getEnvOrDefault("ACCESS_CACHE_DATABASE_FILE", "access-cache.db"),
		AuditDatabaseFile: getEnvOrDefault("ACCESS_AUDIT_DATABASE_FILE", "access-audit.db"),
		CredentialFile:    getEnvOrDefault("ACCESS_CREDENTIAL_FILE", "credentials.enc"),
		KeyFile:           getEnvOrDefault("ACCESS_KEY_FILE", "credentials.key"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		Providers: map[string]ProviderConfig{},
	}

	for _, name := range []string{provider.Freee, provider.MoneyForward} {
		prefix := strings.ToUpper(name)
		pc := ProviderConfig{
			ClientID:       os.Getenv(prefix + "_CLIENT_ID"),
			ClientSecret:   os.Getenv(prefix + "_CLIENT_SECRET"),
			AccessToken:    os.Getenv(prefix + "_ACCESS_TOKEN"),
			RefreshToken:   os.Getenv(prefix + "_REFRESH_TOKEN"),
			TokenExpiresIn: getEnvDurationOrDefault(prefix+"_TOKEN_EXPIRES_IN", 0),
			CompanyID:      os.Getenv(prefix + "_COMPANY_ID"),
			BaseURL:        os.Getenv(prefix + "_API_BASE_URL"),
			TokenURL:       os.Getenv(prefix + "_TOKEN_URL"),
		}
		if pc.ClientID != "" {
			cfg.Providers[name] = pc
		}
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

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
