package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. ECOMM_API_ACCESS_TOKEN
const EnvPrefix = "ECOMM"

// Config holds all configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Messaging MessagingConfig `mapstructure:"messaging"`
}

// ServerConfig holds the local debug server configuration
type ServerConfig struct {
	HTTPPort  int    `mapstructure:"http_port"`
	Mode      string `mapstructure:"mode"`
	AuthToken string `mapstructure:"auth_token"`

	// AllowedOrigins lists origins the debug API answers CORS requests for; "*" allows any
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// APIConfig holds messaging API client configuration
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	AccessToken  string        `mapstructure:"access_token"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RealtimeConfig holds hosted channel service configuration
type RealtimeConfig struct {
	URL               string        `mapstructure:"url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	JoinTimeout       time.Duration `mapstructure:"join_timeout"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	EventBufferSize   int           `mapstructure:"event_buffer_size"`
	WriteChannelSize  int           `mapstructure:"write_channel_size"`
}

// StorageConfig holds attachment storage configuration
type StorageConfig struct {
	URL             string        `mapstructure:"url"`
	Bucket          string        `mapstructure:"bucket"`
	SignedURLExpiry time.Duration `mapstructure:"signed_url_expiry"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IdentityConfig holds access token handling configuration
type IdentityConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	DefaultRole string `mapstructure:"default_role"`
}

// MessagingConfig holds orchestration tunables
type MessagingConfig struct {
	PageSize            int           `mapstructure:"page_size"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	TypingTTL           time.Duration `mapstructure:"typing_ttl"`
	TypingSweepInterval time.Duration `mapstructure:"typing_sweep_interval"`
	TypingThrottle      time.Duration `mapstructure:"typing_throttle"`
	MaxAttachmentSize   int64         `mapstructure:"max_attachment_size"`
	MaxAttachments      int           `mapstructure:"max_attachments"`
	AllowedMimeTypes    []string      `mapstructure:"allowed_mime_types"`
}

// Global config instance
var GlobalConfig *Config

// Load loads configuration from file.
// A .env file next to the process is loaded first; ECOMM_* variables override file values.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// bindEnv registers keys that usually only come from the environment,
// AutomaticEnv alone does not populate keys missing from the file on Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"api.access_token",
		"api.api_key",
		"identity.jwt_secret",
		"redis.password",
		"server.auth_token",
	} {
		_ = v.BindEnv(key)
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8088
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.API.DialTimeout == 0 {
		cfg.API.DialTimeout = 10 * time.Second
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 30 * time.Second
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = 30 * time.Second
	}
	if cfg.Realtime.HeartbeatInterval == 0 {
		cfg.Realtime.HeartbeatInterval = 25 * time.Second
	}
	if cfg.Realtime.JoinTimeout == 0 {
		cfg.Realtime.JoinTimeout = 10 * time.Second
	}
	if cfg.Realtime.WriteWait == 0 {
		cfg.Realtime.WriteWait = 10 * time.Second
	}
	if cfg.Realtime.MaxMessageSize == 0 {
		cfg.Realtime.MaxMessageSize = 1 << 20
	}
	if cfg.Realtime.EventBufferSize == 0 {
		cfg.Realtime.EventBufferSize = 256
	}
	if cfg.Realtime.WriteChannelSize == 0 {
		cfg.Realtime.WriteChannelSize = 256
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "message-attachments"
	}
	if cfg.Storage.SignedURLExpiry == 0 {
		cfg.Storage.SignedURLExpiry = time.Hour
	}
	if cfg.Storage.CacheTTL == 0 || cfg.Storage.CacheTTL >= cfg.Storage.SignedURLExpiry {
		cfg.Storage.CacheTTL = cfg.Storage.SignedURLExpiry - 5*time.Minute
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "127.0.0.1"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "ecomm:"
	}
	if cfg.Identity.DefaultRole == "" {
		cfg.Identity.DefaultRole = "member"
	}
	if cfg.Messaging.PageSize == 0 {
		cfg.Messaging.PageSize = 50
	}
	// A negative interval disables reconciliation; zero means "not set".
	if cfg.Messaging.ReconcileInterval == 0 {
		cfg.Messaging.ReconcileInterval = 10 * time.Second
	}
	if cfg.Messaging.TypingTTL == 0 {
		cfg.Messaging.TypingTTL = 3 * time.Second
	}
	if cfg.Messaging.TypingSweepInterval == 0 {
		cfg.Messaging.TypingSweepInterval = time.Second
	}
	if cfg.Messaging.TypingThrottle == 0 {
		cfg.Messaging.TypingThrottle = time.Second
	}
	if cfg.Messaging.MaxAttachmentSize == 0 {
		cfg.Messaging.MaxAttachmentSize = 10 << 20 // 10 MiB
	}
	if cfg.Messaging.MaxAttachments == 0 {
		cfg.Messaging.MaxAttachments = 10
	}
	if len(cfg.Messaging.AllowedMimeTypes) == 0 {
		cfg.Messaging.AllowedMimeTypes = []string{
			"image/*",
			"video/mp4",
			"audio/mpeg",
			"application/pdf",
			"text/plain",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		}
	}
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Realtime.URL == "" {
		return errors.New("realtime.url is required")
	}
	if c.Storage.URL == "" {
		return errors.New("storage.url is required")
	}
	return nil
}
