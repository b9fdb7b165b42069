package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Twitch   TwitchConfig
	Webhook  WebhookConfig
	Auth     AuthConfig
	Poller   PollerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/streampulse?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis:
// the stats refresh runs inline and the realtime feed stays instance-local.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TwitchConfig holds Helix API credentials.
type TwitchConfig struct {
	ClientID     string
	ClientSecret string
}

// WebhookConfig holds EventSub webhook transport settings.
type WebhookConfig struct {
	Secret      string
	CallbackURL string // public URL Twitch delivers notifications to
}

// AuthConfig holds admin API access settings.
type AuthConfig struct {
	RequireKey  bool   // when false, protected endpoints are open (dev mode)
	AdminKey    string // the shared admin API key
	JWTSecret   string
	ExpireHours int
}

// PollerConfig holds the periodic snapshot sweep settings.
type PollerConfig struct {
	IntervalMinutes   int
	StaleAfterMinutes int      // refresh offline statuses not checked within this window
	DefaultStreamers  []string // logins monitored at startup
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "streampulse"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Twitch: TwitchConfig{
			ClientID:     getEnv("TWITCH_CLIENT_ID", ""),
			ClientSecret: getEnv("TWITCH_CLIENT_SECRET", ""),
		},
		Webhook: WebhookConfig{
			Secret:      getEnv("WEBHOOK_SECRET", "change-me-in-production"),
			CallbackURL: getEnv("WEBHOOK_URL", "https://your-domain.com/webhooks/twitch"),
		},
		Auth: AuthConfig{
			RequireKey:  getEnvBool("REQUIRE_API_KEY", false),
			AdminKey:    getEnv("API_KEY", ""),
			JWTSecret:   getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Poller: PollerConfig{
			IntervalMinutes:   getEnvInt("POLL_INTERVAL_MINUTES", 5),
			StaleAfterMinutes: getEnvInt("POLL_STALE_AFTER_MINUTES", 10),
			DefaultStreamers:  splitTrim(getEnv("DEFAULT_STREAMERS", ""), ","),
		},
	}
	if cfg.Auth.RequireKey && cfg.Auth.AdminKey == "" {
		return nil, fmt.Errorf("REQUIRE_API_KEY is enabled but API_KEY is not set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
