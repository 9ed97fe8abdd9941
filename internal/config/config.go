// Package config loads application configuration with viper.
//
// Configuration comes from an optional YAML file plus environment variable
// overrides. Running with only env vars set (the usual container
// deployment) works fine — a missing config file is a warning, not an
// error. Missing required values (JWT secret) fail fast at startup.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	StaticDir  string `mapstructure:"static_dir"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`

	// External identity provider (OAuth2 authorization-code flow).
	// Leave ClientID empty to run local-auth only.
	OAuthClientID     string `mapstructure:"oauth_client_id"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret"`
	OAuthAuthURL      string `mapstructure:"oauth_auth_url"`
	OAuthTokenURL     string `mapstructure:"oauth_token_url"`
	OAuthUserInfoURL  string `mapstructure:"oauth_userinfo_url"`
	OAuthCallbackURL  string `mapstructure:"oauth_callback_url"`

	// DefaultOrganization is assigned to locally registered users when the
	// provider doesn't supply one. Single-tenant installs keep the default.
	DefaultOrganization string `mapstructure:"default_organization"`
}

// Load reads configuration from the given file path (optional) and the
// environment. Env vars use the SNIPSAFE_ prefix with underscores, e.g.
// SNIPSAFE_AUTH_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "web/dist")
	v.SetDefault("server.cors_origin", "")
	v.SetDefault("database.path", "data/snipsafe.db")
	v.SetDefault("auth.default_organization", "default")

	v.SetEnvPrefix("SNIPSAFE")
	v.BindEnv("server.port", "SNIPSAFE_PORT", "PORT")
	v.BindEnv("server.static_dir", "SNIPSAFE_STATIC_DIR")
	v.BindEnv("server.cors_origin", "SNIPSAFE_CORS_ORIGIN")
	v.BindEnv("database.path", "SNIPSAFE_DB_PATH", "DB_PATH")
	v.BindEnv("auth.jwt_secret", "SNIPSAFE_JWT_SECRET", "JWT_SECRET")
	v.BindEnv("auth.oauth_client_id", "SNIPSAFE_OAUTH_CLIENT_ID")
	v.BindEnv("auth.oauth_client_secret", "SNIPSAFE_OAUTH_CLIENT_SECRET")
	v.BindEnv("auth.oauth_auth_url", "SNIPSAFE_OAUTH_AUTH_URL")
	v.BindEnv("auth.oauth_token_url", "SNIPSAFE_OAUTH_TOKEN_URL")
	v.BindEnv("auth.oauth_userinfo_url", "SNIPSAFE_OAUTH_USERINFO_URL")
	v.BindEnv("auth.oauth_callback_url", "SNIPSAFE_OAUTH_CALLBACK_URL")
	v.BindEnv("auth.default_organization", "SNIPSAFE_DEFAULT_ORG")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("config: auth.jwt_secret (SNIPSAFE_JWT_SECRET) is required")
	}

	return &cfg, nil
}

// OAuthEnabled reports whether the external identity provider is fully
// configured.
func (c *Config) OAuthEnabled() bool {
	a := c.Auth
	return a.OAuthClientID != "" && a.OAuthClientSecret != "" &&
		a.OAuthAuthURL != "" && a.OAuthTokenURL != "" && a.OAuthUserInfoURL != ""
}
