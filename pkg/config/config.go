package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openwearlab/studygate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// First-party session configuration
	Session SessionConfig

	// Delegated auth instances
	ParticipantOIDC OIDCConfig
	ResearcherOIDC  OIDCConfig

	// Backing stores
	Database DatabaseConfig
	Redis    RedisConfig

	// External provider token storage and endpoints
	Providers ProvidersConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SessionConfig holds first-party session settings
type SessionConfig struct {
	// Secret signs session JWTs; minimum 32 bytes.
	Secret string
	TTL    time.Duration

	CookieDomain string
	FrontEndURL  string

	// PruneSchedule is a cron expression for revocation-list cleanup.
	PruneSchedule string
}

// OIDCConfig holds one delegated-auth instance
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// DatabaseConfig holds Postgres settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderEndpoint names one external API and its token endpoint
type ProviderEndpoint struct {
	Name         string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// ProvidersConfig holds external-provider token management settings
type ProvidersConfig struct {
	AWSRegion    string
	SecretPrefix string
	Endpoints    []ProviderEndpoint
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:          loadServerConfig(),
		Session:         loadSessionConfig(),
		ParticipantOIDC: loadOIDCConfig("PARTICIPANT"),
		ResearcherOIDC:  loadOIDCConfig("RESEARCHER"),
		Database:        loadDatabaseConfig(),
		Redis:           loadRedisConfig(),
		Providers:       loadProvidersConfig(),
		Observability:   loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("STUDYGATE_HOST", "0.0.0.0"),
		Port:            getEnv("STUDYGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("STUDYGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("STUDYGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("STUDYGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("STUDYGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("STUDYGATE_HEALTH_PORT", "9090"),
	}
}

// loadSessionConfig loads session configuration from environment
func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Secret:        getEnv("STUDYGATE_SESSION_SECRET", ""),
		TTL:           getEnvDuration("STUDYGATE_SESSION_TTL", 30*time.Minute),
		CookieDomain:  getEnv("STUDYGATE_COOKIE_DOMAIN", ""),
		FrontEndURL:   getEnv("STUDYGATE_FRONT_END_URL", ""),
		PruneSchedule: getEnv("STUDYGATE_PRUNE_SCHEDULE", "@hourly"),
	}
}

// loadOIDCConfig loads one delegated-auth instance from environment
func loadOIDCConfig(instance string) OIDCConfig {
	prefix := "STUDYGATE_" + instance + "_OIDC_"
	cfg := OIDCConfig{
		Issuer:       getEnv(prefix+"ISSUER", ""),
		ClientID:     getEnv(prefix+"CLIENT_ID", ""),
		ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
		RedirectURL:  getEnv(prefix+"REDIRECT_URL", ""),
	}
	if scopes := getEnv(prefix+"SCOPES", ""); scopes != "" {
		cfg.Scopes = strings.Split(scopes, ",")
	}
	return cfg
}

// loadDatabaseConfig loads Postgres configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("STUDYGATE_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("STUDYGATE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("STUDYGATE_POSTGRES_IDLE_CONNS", 5),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("STUDYGATE_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("STUDYGATE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("STUDYGATE_REDIS_DB", 0),
	}
}

// loadProvidersConfig loads external-provider configuration from environment.
// STUDYGATE_PROVIDER_APIS names the APIs; each API then has its own
// STUDYGATE_PROVIDER_<API>_* settings.
func loadProvidersConfig() ProvidersConfig {
	cfg := ProvidersConfig{
		AWSRegion:    getEnv("STUDYGATE_AWS_REGION", "us-east-1"),
		SecretPrefix: getEnv("STUDYGATE_SECRET_PREFIX", "studygate/providers/"),
	}
	for _, api := range strings.Split(getEnv("STUDYGATE_PROVIDER_APIS", ""), ",") {
		api = strings.TrimSpace(api)
		if api == "" {
			continue
		}
		prefix := "STUDYGATE_PROVIDER_" + strings.ToUpper(api) + "_"
		cfg.Endpoints = append(cfg.Endpoints, ProviderEndpoint{
			Name:         api,
			TokenURL:     getEnv(prefix+"TOKEN_URL", ""),
			ClientID:     getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
		})
	}
	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("STUDYGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("STUDYGATE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate session config
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Session.FrontEndURL == "" {
		return fmt.Errorf("front-end URL is required")
	}

	// Validate delegated-auth instances
	for instance, oidc := range map[string]OIDCConfig{
		"participant": c.ParticipantOIDC,
		"researcher":  c.ResearcherOIDC,
	} {
		if oidc.Issuer == "" {
			return fmt.Errorf("%s OIDC issuer is required", instance)
		}
		if oidc.ClientID == "" {
			return fmt.Errorf("%s OIDC client id is required", instance)
		}
		if oidc.RedirectURL == "" {
			return fmt.Errorf("%s OIDC redirect URL is required", instance)
		}
	}

	// Validate database config
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate provider endpoints
	for _, endpoint := range c.Providers.Endpoints {
		if endpoint.TokenURL == "" {
			return fmt.Errorf("provider %s token URL is required", endpoint.Name)
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
