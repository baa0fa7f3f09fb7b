package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/HMasataka/visitorhub/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	CORS      CORSConfig      `json:"cors" yaml:"cors"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	Hub       HubConfig       `json:"hub" yaml:"hub"`
	NATS      NATSConfig      `json:"nats" yaml:"nats"`
	Logging   logging.Config  `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" env:"VISITORHUB_SERVER_HOST"`
	Port            int           `json:"port" yaml:"port" env:"VISITORHUB_SERVER_PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"VISITORHUB_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"VISITORHUB_SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"VISITORHUB_SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"VISITORHUB_SERVER_SHUTDOWN_TIMEOUT"`
	HubPath         string        `json:"hub_path" yaml:"hub_path" env:"VISITORHUB_SERVER_HUB_PATH"`
}

// CORSConfig mirrors the permissive browser policy the hub is served with
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials" env:"VISITORHUB_CORS_ALLOW_CREDENTIALS"`
	MaxAge           int      `json:"max_age" yaml:"max_age" env:"VISITORHUB_CORS_MAX_AGE"`
}

// WebSocketConfig represents per-connection websocket settings
type WebSocketConfig struct {
	ReadBufferSize  int           `json:"read_buffer_size" yaml:"read_buffer_size" env:"VISITORHUB_WS_READ_BUFFER_SIZE"`
	WriteBufferSize int           `json:"write_buffer_size" yaml:"write_buffer_size" env:"VISITORHUB_WS_WRITE_BUFFER_SIZE"`
	SendBufferSize  int           `json:"send_buffer_size" yaml:"send_buffer_size" env:"VISITORHUB_WS_SEND_BUFFER_SIZE"`
	MaxMessageSize  int           `json:"max_message_size" yaml:"max_message_size" env:"VISITORHUB_WS_MAX_MESSAGE_SIZE"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"VISITORHUB_WS_WRITE_TIMEOUT"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"VISITORHUB_WS_READ_TIMEOUT"`
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval" env:"VISITORHUB_WS_PING_INTERVAL"`
}

// HubConfig represents broadcast settings
type HubConfig struct {
	SendTimeout time.Duration `json:"send_timeout" yaml:"send_timeout" env:"VISITORHUB_HUB_SEND_TIMEOUT"`
	EventBuffer int           `json:"event_buffer" yaml:"event_buffer" env:"VISITORHUB_HUB_EVENT_BUFFER"`
}

// NATSConfig represents the optional presence forwarding target.
// Forwarding is disabled when URL is empty.
type NATSConfig struct {
	URL           string `json:"url" yaml:"url" env:"VISITORHUB_NATS_URL"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix" env:"VISITORHUB_NATS_SUBJECT_PREFIX"`
	Name          string `json:"name" yaml:"name" env:"VISITORHUB_NATS_NAME"`
}

// Enabled reports whether presence events should be forwarded
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			HubPath:         "/VisitorHub",
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBufferSize:  64,
			MaxMessageSize:  4096,
			WriteTimeout:    10 * time.Second,
			ReadTimeout:     60 * time.Second,
			PingInterval:    30 * time.Second,
		},
		Hub: HubConfig{
			SendTimeout: 5 * time.Second,
			EventBuffer: 256,
		},
		NATS: NATSConfig{
			SubjectPrefix: "visitorhub.presence",
			Name:          "visitorhub",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if !strings.HasPrefix(c.Server.HubPath, "/") {
		return NewConfigError("server.hub_path", "path must start with '/'")
	}

	if c.WebSocket.SendBufferSize <= 0 {
		return NewConfigError("websocket.send_buffer_size", "must be positive")
	}

	if c.WebSocket.MaxMessageSize <= 0 {
		return NewConfigError("websocket.max_message_size", "must be positive")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return NewConfigError("websocket.ping_interval", "must be positive and shorter than read_timeout")
	}

	if c.Hub.SendTimeout <= 0 {
		return NewConfigError("hub.send_timeout", "must be positive")
	}

	if c.Hub.EventBuffer <= 0 {
		return NewConfigError("hub.event_buffer", "must be positive")
	}

	if c.NATS.Enabled() && c.NATS.SubjectPrefix == "" {
		return NewConfigError("nats.subject_prefix", "required when nats.url is set")
	}

	return nil
}
