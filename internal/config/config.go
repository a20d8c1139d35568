package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NatsURL          string
	JWTSecret        string
	PlatformDomain   string
	EventChannel     string
	ConnectionLimit  int
	ConnectionWindow time.Duration
	MessageLimit     int
	MessageWindow    time.Duration
	MessageCooldown  time.Duration
	MaxMessageLength int
	DomainCacheTTL   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TALKLINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Talkline API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("platform.domain", "talkline.io")
	v.SetDefault("event.channel", "talkline:chat")
	v.SetDefault("connection.limit", 100)
	v.SetDefault("connection.window", "1h")
	v.SetDefault("message.limit", 5)
	v.SetDefault("message.window", "10s")
	v.SetDefault("message.cooldown", "30s")
	v.SetDefault("message.max_length", 1000)
	v.SetDefault("domain.cache_ttl", "10m")

	connectionWindow, err := time.ParseDuration(v.GetString("connection.window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid connection window: %w", err)
	}
	messageWindow, err := time.ParseDuration(v.GetString("message.window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid message window: %w", err)
	}
	messageCooldown, err := time.ParseDuration(v.GetString("message.cooldown"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid message cooldown: %w", err)
	}
	domainCacheTTL, err := time.ParseDuration(v.GetString("domain.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid domain cache ttl: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NatsURL:          v.GetString("nats.url"),
		JWTSecret:        v.GetString("jwt.secret"),
		PlatformDomain:   v.GetString("platform.domain"),
		EventChannel:     v.GetString("event.channel"),
		ConnectionLimit:  v.GetInt("connection.limit"),
		ConnectionWindow: connectionWindow,
		MessageLimit:     v.GetInt("message.limit"),
		MessageWindow:    messageWindow,
		MessageCooldown:  messageCooldown,
		MaxMessageLength: v.GetInt("message.max_length"),
		DomainCacheTTL:   domainCacheTTL,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.ConnectionLimit <= 0 {
		cfg.ConnectionLimit = 100
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 5
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 1000
	}

	return cfg, nil
}
