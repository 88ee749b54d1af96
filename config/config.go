// Package config loads server configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"go.pilab.hu/oauth2"
)

// ServerConfig holds all configuration for the server binary. Tags use
// mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`

	// Storage
	StorageBackend string `mapstructure:"STORAGE_BACKEND"` // "mongodb" or "memory"
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDBName    string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"` // empty disables the shared token cache
	RedisPrefix    string `mapstructure:"REDIS_PREFIX"`

	// Observability
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogPretty      bool   `mapstructure:"LOG_PRETTY"`
	TracingEnabled bool   `mapstructure:"TRACING_ENABLED"`

	// Protocol behavior
	Issuer              string `mapstructure:"ISSUER"`
	AccessTokenTTLMin   int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour int    `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`
	AuthCodeTTLMin      int    `mapstructure:"AUTH_CODE_TTL_MIN"`
	DeviceCodeTTLMin    int    `mapstructure:"DEVICE_CODE_TTL_MIN"`
	DeviceCodeInterval  int    `mapstructure:"DEVICE_CODE_INTERVAL"`
	AllowImplicit       bool   `mapstructure:"ALLOW_IMPLICIT"`
	EnforcePKCE         bool   `mapstructure:"ENFORCE_PKCE"`
	EnforceState        bool   `mapstructure:"ENFORCE_STATE"`
	DefaultScope        string `mapstructure:"DEFAULT_SCOPE"`
	UseJWTAccessTokens  bool   `mapstructure:"USE_JWT_ACCESS_TOKENS"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/oauth2-server/")
	v.AddConfigPath("$HOME/.oauth2-server")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("STORAGE_BACKEND", "mongodb")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "oauth2_server")
	v.SetDefault("REDIS_PREFIX", "oauth2")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("ISSUER", "http://localhost:8080")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 336)
	v.SetDefault("AUTH_CODE_TTL_MIN", 10)
	v.SetDefault("DEVICE_CODE_TTL_MIN", 30)
	v.SetDefault("DEVICE_CODE_INTERVAL", 5)

	if err := v.ReadInConfig(); err != nil {
		// Running on defaults and environment alone is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}

// EngineConfig maps the server configuration onto the engine's behavior
// options.
func (c *ServerConfig) EngineConfig() *oauth2.Config {
	cfg := oauth2.NewDefaultConfig(c.Issuer)
	cfg.AccessTokenTTL = time.Duration(c.AccessTokenTTLMin) * time.Minute
	cfg.RefreshTokenTTL = time.Duration(c.RefreshTokenTTLHour) * time.Hour
	cfg.AuthCodeTTL = time.Duration(c.AuthCodeTTLMin) * time.Minute
	cfg.DeviceCodeTTL = time.Duration(c.DeviceCodeTTLMin) * time.Minute
	cfg.DeviceCodeInterval = c.DeviceCodeInterval
	cfg.VerificationURI = c.Issuer + "/oauth2/device/verify"
	cfg.AllowImplicit = c.AllowImplicit
	cfg.EnforcePKCE = c.EnforcePKCE
	cfg.EnforceState = c.EnforceState
	cfg.DefaultScope = c.DefaultScope
	cfg.UseJWTAccessTokens = c.UseJWTAccessTokens
	return cfg
}
