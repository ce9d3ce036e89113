// Package config loads gateway settings from defaults, an optional config
// file, an optional .env file and GATEWAY_ prefixed environment variables,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable: http.addr is read from
// GATEWAY_HTTP_ADDR.
const EnvPrefix = "GATEWAY"

// Authentication modes.
const (
	AuthModeStatic = "static"
	AuthModeNATS   = "nats"
)

// Config is the full gateway configuration.
type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	WebSocket WebSocket `mapstructure:"websocket"`
	Gateway   Gateway   `mapstructure:"gateway"`
	NATS      NATS      `mapstructure:"nats"`
	Auth      Auth      `mapstructure:"auth"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Log       Log       `mapstructure:"log"`
}

type HTTP struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins restricts the Origin header of upgrade requests. Empty
	// allows every origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type WebSocket struct {
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	CloseTimeout        time.Duration `mapstructure:"close_timeout"`
	SendQueueSize       int           `mapstructure:"send_queue_size"`
	MaxFrameSize        int           `mapstructure:"max_frame_size"`
	MaxConnections      int           `mapstructure:"max_connections"`
	MaxConnectionsPerIP int           `mapstructure:"max_connections_per_ip"`
}

type Gateway struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type NATS struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	Token          string        `mapstructure:"token"`
	Prefix         string        `mapstructure:"prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

type Auth struct {
	Mode string `mapstructure:"mode"`
	// Tokens are "token:player[:name]" entries used in static mode.
	Tokens []string `mapstructure:"tokens"`
}

type Metrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"http.addr":                        ":8080",
	"http.read_header_timeout":         10 * time.Second,
	"http.shutdown_timeout":            15 * time.Second,
	"http.allowed_origins":             []string{},
	"websocket.read_timeout":           time.Duration(0),
	"websocket.write_timeout":          10 * time.Second,
	"websocket.close_timeout":          5 * time.Second,
	"websocket.send_queue_size":        256,
	"websocket.max_frame_size":         1 << 20,
	"websocket.max_connections":        10000,
	"websocket.max_connections_per_ip": 100,
	"gateway.request_timeout":          5 * time.Second,
	"nats.url":                         "nats://127.0.0.1:4222",
	"nats.name":                        "game-gateway",
	"nats.token":                       "",
	"nats.prefix":                      "game",
	"nats.request_timeout":             3 * time.Second,
	"nats.max_reconnects":              60,
	"nats.reconnect_wait":              2 * time.Second,
	"auth.mode":                        AuthModeNATS,
	"auth.tokens":                      []string{},
	"metrics.enabled":                  true,
	"metrics.path":                     "/metrics",
	"metrics.namespace":                "game_gateway",
	"log.level":                        "info",
	"log.format":                       "text",
}

// Default returns the built-in configuration.
func Default() *Config {
	c, err := decode(newViper(false))
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return c
}

func newViper(env bool) *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if !env {
		return v
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &c, nil
}

// Options tune Load.
type Options struct {
	// File is an optional YAML, JSON or TOML config file.
	File string
	// EnvFiles are dotenv files loaded into the process environment. Missing
	// files are ignored. Variables already set are not overridden.
	EnvFiles []string
}

// Load builds the configuration and validates it.
func Load(opts Options) (*Config, error) {
	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := newViper(true)
	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	c.Auth.Tokens = splitList(c.Auth.Tokens)
	c.HTTP.AllowedOrigins = splitList(c.HTTP.AllowedOrigins)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// splitList flattens comma separated entries, which is how lists arrive
// from environment variables.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}
	if c.WebSocket.SendQueueSize <= 0 {
		errs = append(errs, errors.New("websocket.send_queue_size must be positive"))
	}
	if c.WebSocket.MaxFrameSize < 125 {
		errs = append(errs, errors.New("websocket.max_frame_size must be at least 125"))
	}
	if c.WebSocket.MaxConnections < 0 || c.WebSocket.MaxConnectionsPerIP < 0 {
		errs = append(errs, errors.New("websocket connection limits must not be negative"))
	}
	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, errors.New("gateway.request_timeout must be positive"))
	}

	switch c.Auth.Mode {
	case AuthModeStatic:
		if len(c.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("auth.tokens is required in static mode"))
		}
	case AuthModeNATS:
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q must be %q or %q", c.Auth.Mode, AuthModeStatic, AuthModeNATS))
	}

	if u, err := url.Parse(c.NATS.URL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("nats.url %q is not a valid URL", c.NATS.URL))
	}
	if c.NATS.Prefix == "" || strings.ContainsAny(c.NATS.Prefix, " *>") {
		errs = append(errs, fmt.Errorf("nats.prefix %q is not a valid subject prefix", c.NATS.Prefix))
	}
	if c.NATS.RequestTimeout <= 0 {
		errs = append(errs, errors.New("nats.request_timeout must be positive"))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
