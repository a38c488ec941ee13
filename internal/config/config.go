// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
// The API_* and session keys drive the client; PORT, JWT_SECRET, DB_* and SEED_* drive
// the development API server.
type Config struct {
	Env             string        `mapstructure:"APP_ENV"`
	APIBaseURL      string        `mapstructure:"API_BASE_URL"`
	APIToken        string        `mapstructure:"API_TOKEN"`
	SessionUsername string        `mapstructure:"SESSION_USERNAME"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	PageSize        int           `mapstructure:"PAGE_SIZE"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	PageCacheTTL    time.Duration `mapstructure:"PAGE_CACHE_TTL"`
	FeatureFlags    string        `mapstructure:"FEATURE_FLAGS"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampler  float64 `mapstructure:"TRACING_SAMPLER_RATIO"`

	Port                string `mapstructure:"PORT"`
	JWTSecret           string `mapstructure:"JWT_SECRET"`
	DBDriver            string `mapstructure:"DB_DRIVER"`
	DBDSN               string `mapstructure:"DB_DSN"`
	SeedProfiles        int    `mapstructure:"SEED_PROFILES"`
	SeedPostsPerProfile int    `mapstructure:"SEED_POSTS_PER_PROFILE"`
	SeedFixture         string `mapstructure:"SEED_FIXTURE"`
}

const (
	defaultJWTSecret = "dev-secret-change-me-in-production"
	defaultSqliteDSN = "file:feedsync?mode=memory&cache=shared"
)

// LoadConfig loads application configuration from .env, config files and environment
// variables, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("API_BASE_URL", "http://localhost:8375/api")
	viper.SetDefault("API_TOKEN", "")
	viper.SetDefault("SESSION_USERNAME", "")
	viper.SetDefault("REQUEST_TIMEOUT", "10s")
	viper.SetDefault("PAGE_SIZE", 10)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("PAGE_CACHE_TTL", "30s")
	viper.SetDefault("FEATURE_FLAGS", "post_author_sync=on,page_cache=on")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_DSN", "")
	viper.SetDefault("SEED_PROFILES", 12)
	viper.SetDefault("SEED_POSTS_PER_PROFILE", 25)
	viper.SetDefault("SEED_FIXTURE", "")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	// An empty postgres DSN is built from the POSTGRES_* variables at connect time.
	if c.DBDSN == "" && c.DBDriver == "sqlite" {
		c.DBDSN = defaultSqliteDSN
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
}

// IsProduction reports whether the config targets production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.RequestTimeout < 0 {
		return errors.New("REQUEST_TIMEOUT must not be negative")
	}
	if c.PageSize <= 0 {
		return errors.New("PAGE_SIZE must be positive")
	}
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if u.Scheme != "https" {
			log.Println("WARNING: API_BASE_URL is not https in production. Bearer tokens will travel in clear text.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
