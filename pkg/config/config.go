package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the vehicle agent configuration
type Config struct {
	Version   string          `yaml:"version" json:"version"`
	AgentID   string          `yaml:"agent_id" json:"agent_id"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Link      LinkConfig      `yaml:"link" json:"link"`
	Refresh   RefreshConfig   `yaml:"refresh" json:"refresh"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig holds the websocket/HTTP server configuration
type ServerConfig struct {
	Port int `yaml:"port" json:"port"`
}

// LinkConfig holds the vehicle link (autopilot board) configuration
type LinkConfig struct {
	// Endpoint uses the original service's URL style:
	// tcp:host:port, udpout:host:port, udpin:bind:port, or "sim".
	Endpoint           string `yaml:"endpoint" json:"endpoint"`
	HeartbeatTimeoutMs int    `yaml:"heartbeat_timeout_ms" json:"heartbeat_timeout_ms"`
	ArmTimeoutMs       int    `yaml:"arm_timeout_ms" json:"arm_timeout_ms"`
	SettleMs           int    `yaml:"settle_ms" json:"settle_ms"`
	Thrusters          int    `yaml:"thrusters" json:"thrusters"`
	NeutralPWM         int    `yaml:"neutral_pwm" json:"neutral_pwm"`
	StartupMode        string `yaml:"startup_mode" json:"startup_mode"`
}

// RefreshConfig holds the motion refresh loop configuration
type RefreshConfig struct {
	PeriodMs int `yaml:"period_ms" json:"period_ms"`
}

// TelemetryConfig holds the zmq status publisher configuration
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Address  string `yaml:"address" json:"address"`
	PeriodMs int    `yaml:"period_ms" json:"period_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns the configuration used when no file is supplied.
// Endpoint and port defaults match the original service.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		AgentID: "rov-agent",
		Server:  ServerConfig{Port: 55000},
		Link: LinkConfig{
			Endpoint:           "tcp:127.0.0.1:5777",
			HeartbeatTimeoutMs: 10000,
			ArmTimeoutMs:       5000,
			SettleMs:           200,
			Thrusters:          8,
			NeutralPWM:         1500,
			StartupMode:        "MANUAL",
		},
		Refresh:   RefreshConfig{PeriodMs: 50},
		Telemetry: TelemetryConfig{Enabled: false, Address: "tcp://*:5556", PeriodMs: 1000},
		Logging:   LoggingConfig{Level: "info", Dir: ""},
	}
}

// LoadConfig loads configuration from the specified file path and
// applies environment variable overrides. A missing file is not an
// error: the defaults (plus env overrides) are used instead.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyEnvOverrides()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies the environment variables the original service
// honoured: MAVLINK_URL, PORT and LOG_LEVEL.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("MAVLINK_URL"); url != "" {
		c.Link.Endpoint = url
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Link.Endpoint == "" {
		return fmt.Errorf("link endpoint must not be empty")
	}
	if c.Refresh.PeriodMs <= 0 {
		return fmt.Errorf("refresh period must be positive, got %dms", c.Refresh.PeriodMs)
	}
	if c.Link.NeutralPWM < 1100 || c.Link.NeutralPWM > 1900 {
		return fmt.Errorf("neutral pwm %d outside valid channel range 1100-1900", c.Link.NeutralPWM)
	}
	if c.Link.Thrusters <= 0 {
		return fmt.Errorf("thruster count must be positive, got %d", c.Link.Thrusters)
	}
	return nil
}
