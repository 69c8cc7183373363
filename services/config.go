package services

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	SMTP     SMTPConfig     `yaml:"smtp"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	RedisAddr  string `yaml:"redis_addr"` // empty = in-process store
}

// SecurityConfig holds every tunable of the login-defense subsystem.
// Constructed once at startup and injected; never a package global.
type SecurityConfig struct {
	// Proxy headers consulted in order when resolving the client IP.
	ProxyHeaders []string `yaml:"proxy_headers"`

	// Destination for ban and session-anomaly notifications.
	AdminEmail string `yaml:"admin_email"`

	// Named-action throttle rules.
	RateLimits map[string]RateLimitRule `yaml:"rate_limits"`
}

type RateLimitRule struct {
	Limit  int `yaml:"limit" json:"limit"`
	Window int `yaml:"window_seconds" json:"window_seconds"`
}

func (r RateLimitRule) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      bool   `yaml:"tls"`
}

// DefaultRateLimits is the built-in rule table. Registration is IP-scoped;
// the rest key on the authenticated user plus the client IP.
func DefaultRateLimits() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"message_send":   {Limit: 10, Window: 300},
		"profile_view":   {Limit: 100, Window: 3600},
		"search":         {Limit: 50, Window: 3600},
		"like_action":    {Limit: 50, Window: 3600},
		"profile_update": {Limit: 5, Window: 300},
		"photo_upload":   {Limit: 10, Window: 3600},
		"registration":   {Limit: 3, Window: 3600},
		"login_attempt":  {Limit: 5, Window: 900},
	}
}

func defaultProxyHeaders() []string {
	return []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Security: SecurityConfig{
			ProxyHeaders: defaultProxyHeaders(),
			RateLimits:   DefaultRateLimits(),
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(config.Security.ProxyHeaders) == 0 {
		config.Security.ProxyHeaders = defaultProxyHeaders()
	}
	if len(config.Security.RateLimits) == 0 {
		config.Security.RateLimits = DefaultRateLimits()
	}

	return config, nil
}
