package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "CAFECURSOR"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "cafecursor.db"
	defaultLogLevel          = "info"
	defaultSessionIssuer     = "cafecursor-auth"
	defaultCookieName        = "app_session"
	defaultStorageBucket     = "card-images"
	defaultRedisChannel      = "cafecursor:card-changes"
	defaultFeedPageSize      = 20
	defaultClientAPIURL      = "http://127.0.0.1:8080"
	defaultClientMaxAttempts = 5
	defaultAutosaveDebounce  = 1000
	defaultGoogleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	AllowedOrigins       []string
	DatabaseDriver       string
	DatabaseDSN          string
	LogLevel             string
	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	Storage              StorageConfig
	Redis                RedisConfig
	Google               GoogleConfig
	FeedPageSize         int
}

// GoogleConfig enables the ID token exchange endpoint.
type GoogleConfig struct {
	ClientID string
	JWKSURL  string
}

// Enabled reports whether Google sign-in has been configured.
func (c GoogleConfig) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != ""
}

// StorageConfig describes the object store that receives card images.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Enabled reports whether an object store endpoint has been configured.
func (c StorageConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// RedisConfig describes the optional change relay between API instances.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// Enabled reports whether the relay should be started.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Address) != ""
}

// ClientConfig captures configuration for the command line client.
type ClientConfig struct {
	APIURL           string
	AccessToken      string
	LogLevel         string
	MaxAttempts      int
	AutosaveDebounce time.Duration
	FeedPageSize     int
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("storage.bucket", defaultStorageBucket)
	configViper.SetDefault("storage.use_ssl", false)
	configViper.SetDefault("redis.channel", defaultRedisChannel)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("feed.page_size", defaultFeedPageSize)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("client.api_url", defaultClientAPIURL)
	configViper.SetDefault("client.max_attempts", defaultClientMaxAttempts)
	configViper.SetDefault("autosave.debounce_ms", defaultAutosaveDebounce)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		Storage: StorageConfig{
			Endpoint:      configViper.GetString("storage.endpoint"),
			AccessKey:     configViper.GetString("storage.access_key"),
			SecretKey:     configViper.GetString("storage.secret_key"),
			Bucket:        configViper.GetString("storage.bucket"),
			UseSSL:        configViper.GetBool("storage.use_ssl"),
			PublicBaseURL: configViper.GetString("storage.public_base_url"),
		},
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
			Channel:  configViper.GetString("redis.channel"),
		},
		Google: GoogleConfig{
			ClientID: strings.TrimSpace(configViper.GetString("google.client_id")),
			JWKSURL:  strings.TrimSpace(configViper.GetString("google.jwks_url")),
		},
		FeedPageSize: configViper.GetInt("feed.page_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "postgresql", "mysql", "mariadb":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.Storage.Enabled() && strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("storage.bucket is required when storage.endpoint is set")
	}
	if c.Redis.Enabled() && strings.TrimSpace(c.Redis.Channel) == "" {
		return fmt.Errorf("redis.channel is required when redis.address is set")
	}
	if c.Google.Enabled() && c.Google.JWKSURL == "" {
		return fmt.Errorf("google.jwks_url is required when google.client_id is set")
	}
	if c.FeedPageSize <= 0 || c.FeedPageSize > 50 {
		return fmt.Errorf("feed.page_size must be between 1 and 50")
	}
	return nil
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIURL:           strings.TrimRight(strings.TrimSpace(configViper.GetString("client.api_url")), "/"),
		AccessToken:      strings.TrimSpace(configViper.GetString("client.token")),
		LogLevel:         configViper.GetString("log.level"),
		MaxAttempts:      configViper.GetInt("client.max_attempts"),
		AutosaveDebounce: time.Duration(configViper.GetInt("autosave.debounce_ms")) * time.Millisecond,
		FeedPageSize:     configViper.GetInt("feed.page_size"),
	}

	parsed, err := url.Parse(cfg.APIURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ClientConfig{}, fmt.Errorf("client.api_url %q is not a valid URL", cfg.APIURL)
	}
	if cfg.MaxAttempts <= 0 {
		return ClientConfig{}, fmt.Errorf("client.max_attempts must be positive")
	}
	if cfg.AutosaveDebounce <= 0 {
		return ClientConfig{}, fmt.Errorf("autosave.debounce_ms must be positive")
	}
	if cfg.FeedPageSize <= 0 || cfg.FeedPageSize > 50 {
		return ClientConfig{}, fmt.Errorf("feed.page_size must be between 1 and 50")
	}
	return cfg, nil
}
