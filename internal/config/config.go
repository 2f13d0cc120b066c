package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "TUNERBOARD"
	defaultHTTPAddress       = "0.0.0.0:8000"
	defaultStoreBackend      = StoreBackendSQLite
	defaultDatabasePath      = "tunerboard.db"
	defaultRedisNamespace    = "tunerboard"
	defaultLogLevel          = "info"
	defaultAuthMode          = AuthModeJWKS
	defaultCookieName        = "__session"
	defaultUserAPIURL        = "https://api.clerk.dev/v1"
	defaultProfileCacheTTL   = 10
	defaultListingPageSize   = 10
	defaultAllowedOrigin     = "*"
	defaultLocalSessionHours = 24
)

// Store backends.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
)

// Authentication modes.
const (
	AuthModeJWKS  = "jwks"
	AuthModeLocal = "local"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	StoreBackend   string
	DatabasePath   string
	RedisAddress   string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string

	LogLevel string

	AuthMode          string
	CookieName        string
	JWKSURL           string
	Issuer            string
	UserAPIURL        string
	APIKey            string
	SigningSecret     string
	LocalSessionTTL   time.Duration
	ProfileCacheTTL   time.Duration
	ListingPageSize   int
	ListingShuffleKey string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigin)
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.namespace", defaultRedisNamespace)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.mode", defaultAuthMode)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.user_api_url", defaultUserAPIURL)
	configViper.SetDefault("auth.profile_cache_ttl_minutes", defaultProfileCacheTTL)
	configViper.SetDefault("auth.local_session_hours", defaultLocalSessionHours)
	configViper.SetDefault("listing.page_size", defaultListingPageSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    splitList(configViper.GetString("http.allowed_origins")),
		StoreBackend:      strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		DatabasePath:      configViper.GetString("database.path"),
		RedisAddress:      configViper.GetString("redis.address"),
		RedisPassword:     configViper.GetString("redis.password"),
		RedisDB:           configViper.GetInt("redis.db"),
		RedisNamespace:    configViper.GetString("redis.namespace"),
		LogLevel:          configViper.GetString("log.level"),
		AuthMode:          strings.ToLower(strings.TrimSpace(configViper.GetString("auth.mode"))),
		CookieName:        configViper.GetString("auth.cookie_name"),
		JWKSURL:           configViper.GetString("auth.jwks_url"),
		Issuer:            configViper.GetString("auth.issuer"),
		UserAPIURL:        configViper.GetString("auth.user_api_url"),
		APIKey:            configViper.GetString("auth.api_key"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		LocalSessionTTL:   time.Duration(configViper.GetInt("auth.local_session_hours")) * time.Hour,
		ProfileCacheTTL:   time.Duration(configViper.GetInt("auth.profile_cache_ttl_minutes")) * time.Minute,
		ListingPageSize:   configViper.GetInt("listing.page_size"),
		ListingShuffleKey: configViper.GetString("listing.shuffle_seed"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.StoreBackend {
	case StoreBackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StoreBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreBackendSQLite, StoreBackendRedis, c.StoreBackend)
	}

	switch c.AuthMode {
	case AuthModeJWKS:
		if strings.TrimSpace(c.JWKSURL) == "" {
			return fmt.Errorf("auth.jwks_url is required in jwks mode")
		}
		if strings.TrimSpace(c.UserAPIURL) == "" {
			return fmt.Errorf("auth.user_api_url is required in jwks mode")
		}
	case AuthModeLocal:
		if strings.TrimSpace(c.SigningSecret) == "" {
			return fmt.Errorf("auth.signing_secret is required in local mode")
		}
		if c.LocalSessionTTL <= 0 {
			return fmt.Errorf("auth.local_session_hours must be positive")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeJWKS, AuthModeLocal, c.AuthMode)
	}

	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.ListingPageSize <= 0 {
		return fmt.Errorf("listing.page_size must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
