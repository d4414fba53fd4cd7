package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreDriver   string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	StoreTimeout  time.Duration `mapstructure:"STORE_TIMEOUT"`
	NotifyChannel string        `mapstructure:"NOTIFY_CHANNEL"`

	LockDriver    string        `mapstructure:"LOCK_DRIVER"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	LockTTL       time.Duration `mapstructure:"LOCK_TTL"`

	AuthProvider   string        `mapstructure:"AUTH_PROVIDER"`
	IdentityAPIURL string        `mapstructure:"IDENTITY_API_URL"`
	IdentityAPIKey string        `mapstructure:"IDENTITY_API_KEY"`
	SessionSecret  string        `mapstructure:"SESSION_SECRET"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`

	OpenAIAPIKey        string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModelChat     string        `mapstructure:"OPENAI_MODEL_CHAT"`
	OpenAIModelAnalysis string        `mapstructure:"OPENAI_MODEL_ANALYSIS"`
	LLMTimeout          time.Duration `mapstructure:"LLM_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_DRIVER", "DATABASE_URL", "STORE_TIMEOUT", "NOTIFY_CHANNEL",
	"LOCK_DRIVER", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "LOCK_TTL",
	"AUTH_PROVIDER", "IDENTITY_API_URL", "IDENTITY_API_KEY", "SESSION_SECRET", "SESSION_TTL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL_CHAT", "OPENAI_MODEL_ANALYSIS", "LLM_TIMEOUT",
}

// Load reads the configuration from the environment and an optional .env
// file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("NOTIFY_CHANNEL", "analysis_updates")
	v.SetDefault("LOCK_DRIVER", "local")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("AUTH_PROVIDER", "local")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("OPENAI_MODEL_CHAT", "gpt-4o-mini")
	v.SetDefault("OPENAI_MODEL_ANALYSIS", "gpt-4o")
	v.SetDefault("LLM_TIMEOUT", "60s")

	// Bind explicitly so Unmarshal sees keys that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is \"postgres\"")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"memory\", got %q", c.StoreDriver)
	}

	switch c.LockDriver {
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when LOCK_DRIVER is \"redis\"")
		}
	case "local":
	default:
		return fmt.Errorf("LOCK_DRIVER must be \"local\" or \"redis\", got %q", c.LockDriver)
	}

	switch c.AuthProvider {
	case "rest":
		if c.IdentityAPIURL == "" {
			return fmt.Errorf("IDENTITY_API_URL is required when AUTH_PROVIDER is \"rest\"")
		}
	case "local":
	default:
		return fmt.Errorf("AUTH_PROVIDER must be \"local\" or \"rest\", got %q", c.AuthProvider)
	}

	if c.SessionSecret == "" && !c.IsDev() {
		return fmt.Errorf("SESSION_SECRET is required outside development (ENV=%q)", c.Env)
	}
	return nil
}

// Secret returns the session signing secret, falling back to a fixed
// development value when none is configured.
func (c *Config) Secret() string {
	if c.SessionSecret == "" && c.IsDev() {
		return "carelink-development-secret"
	}
	return c.SessionSecret
}
