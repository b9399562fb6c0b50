package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "WEATHERDASH"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "weatherdash.db"
	defaultLogLevel             = "info"
	defaultTokenTTLMinutes      = 60 * 24 * 30
	defaultOpenWeatherBaseURL   = "https://api.openweathermap.org"
	defaultNominatimBaseURL     = "https://nominatim.openstreetmap.org"
	defaultUpstreamTimeout      = 10 * time.Second
	defaultRetentionDays        = 90
	defaultPruneIntervalMinutes = 60
	defaultAPIBaseURL           = "http://localhost:8080"
	defaultLocalPath            = "weatherdash-local.db"
	defaultRemoteTimeout        = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	TokenTTL           time.Duration
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	NominatimBaseURL   string
	UpstreamTimeout    time.Duration
	ActivityRetention  time.Duration
	ActivityPruneEvery time.Duration
	AdminEmails        []string
}

// ClientConfig captures runtime configuration for the command line client.
type ClientConfig struct {
	APIBaseURL    string
	LocalPath     string
	RemoteTimeout time.Duration
	LogLevel      string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("openweather.base_url", defaultOpenWeatherBaseURL)
	configViper.SetDefault("nominatim.base_url", defaultNominatimBaseURL)
	configViper.SetDefault("upstream.timeout", defaultUpstreamTimeout)
	configViper.SetDefault("activity.retention_days", defaultRetentionDays)
	configViper.SetDefault("activity.prune_interval_minutes", defaultPruneIntervalMinutes)

	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("local.path", defaultLocalPath)
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
}

// Load parses API server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		OpenWeatherAPIKey:  strings.TrimSpace(configViper.GetString("openweather.api_key")),
		OpenWeatherBaseURL: configViper.GetString("openweather.base_url"),
		NominatimBaseURL:   configViper.GetString("nominatim.base_url"),
		UpstreamTimeout:    configViper.GetDuration("upstream.timeout"),
		ActivityRetention:  time.Duration(configViper.GetInt("activity.retention_days")) * 24 * time.Hour,
		ActivityPruneEvery: time.Duration(configViper.GetInt("activity.prune_interval_minutes")) * time.Minute,
		AdminEmails:        normalizeEmails(configViper.GetStringSlice("admin.emails")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	return nil
}

func normalizeEmails(raw []string) []string {
	emails := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed != "" {
				emails = append(emails, trimmed)
			}
		}
	}
	return emails
}

// LoadClient parses command line client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIBaseURL:    strings.TrimRight(strings.TrimSpace(configViper.GetString("api.base_url")), "/"),
		LocalPath:     configViper.GetString("local.path"),
		RemoteTimeout: configViper.GetDuration("remote.timeout"),
		LogLevel:      configViper.GetString("log.level"),
	}
	if cfg.APIBaseURL == "" {
		return ClientConfig{}, fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(cfg.LocalPath) == "" {
		return ClientConfig{}, fmt.Errorf("local.path is required")
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = defaultRemoteTimeout
	}
	return cfg, nil
}
