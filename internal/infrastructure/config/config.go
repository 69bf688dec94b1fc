package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a Gray Logic node.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// The Device section holds factory defaults only. The values actually used at
// runtime live in the settings store and are edited through the portal.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Link      LinkConfig      `yaml:"link"`
	Session   SessionConfig   `yaml:"session"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Reset     ResetConfig     `yaml:"reset"`
	Database  DatabaseConfig  `yaml:"database"`
	Portal    PortalConfig    `yaml:"portal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig contains the factory defaults seeded into the settings store.
type DeviceConfig struct {
	NodeName  string             `yaml:"node_name"`
	GroupName string             `yaml:"group_name"`
	WiFi      WiFiDefaultsConfig `yaml:"wifi"`
	Broker    BrokerConfig       `yaml:"broker"`
	Portal    PortalUserConfig   `yaml:"portal"`
}

// WiFiDefaultsConfig contains default wireless credentials.
type WiFiDefaultsConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// BrokerConfig contains default broker endpoint and credentials.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PortalUserConfig contains the default portal operator account.
// An empty password leaves the portal unauthenticated.
type PortalUserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LinkConfig contains wireless link settings.
type LinkConfig struct {
	// Interface is the network interface carrying the link (e.g. "wlan0").
	Interface string `yaml:"interface"`

	// Driver selects how association is performed: "wpa_supplicant" runs and
	// supervises wpa_supplicant, "external" assumes another service owns the link.
	Driver string `yaml:"driver"`

	// SupplicantBinary is the path to the wpa_supplicant executable.
	SupplicantBinary string `yaml:"supplicant_binary"`

	// RuntimeDir holds the generated wpa_supplicant configuration.
	RuntimeDir string `yaml:"runtime_dir"`

	// SysfsRoot and ProcfsRoot are overridable for tests.
	SysfsRoot  string `yaml:"sysfs_root"`
	ProcfsRoot string `yaml:"procfs_root"`

	// ConnectTimeout bounds the first association after boot (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectTimeout bounds re-association after a drop (seconds).
	ReconnectTimeout int `yaml:"reconnect_timeout"`

	// RetryInterval is how often association is re-requested within an attempt (seconds).
	RetryInterval int `yaml:"retry_interval"`
}

// SessionConfig contains broker session settings.
type SessionConfig struct {
	TopicPrefix    string `yaml:"topic_prefix"`
	KeepAlive      int    `yaml:"keep_alive"`
	CleanSession   bool   `yaml:"clean_session"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	RetryBackoff   int    `yaml:"retry_backoff"`
	RetryCeiling   int    `yaml:"retry_ceiling"`
	TLS            bool   `yaml:"tls"`
	QoS            int    `yaml:"qos"`
	InboxSize      int    `yaml:"inbox_size"`

	// AckTimeout bounds the wait for a publish or subscribe acknowledgement
	// inside a tick (milliseconds).
	AckTimeout int `yaml:"ack_timeout"`
}

// HeartbeatConfig contains periodic status publishing settings.
type HeartbeatConfig struct {
	Interval int `yaml:"interval"`
}

// SchedulerConfig contains run loop settings.
type SchedulerConfig struct {
	// TickInterval is the run loop period in milliseconds.
	TickInterval int `yaml:"tick_interval"`

	// MaxMessagesPerTick bounds inbound command processing per tick.
	MaxMessagesPerTick int `yaml:"max_messages_per_tick"`
}

// ResetConfig contains device restart settings.
type ResetConfig struct {
	// Mode is one of "exit", "reexec" or "command".
	Mode string `yaml:"mode"`

	// Command is executed when Mode is "command" (e.g. ["systemctl", "reboot"]).
	Command []string `yaml:"command"`

	// DisconnectTimeout bounds the best-effort goodbye before restarting (seconds).
	DisconnectTimeout int `yaml:"disconnect_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PortalConfig contains configuration portal HTTP settings.
type PortalConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	Timeouts PortalTimeoutConfig `yaml:"timeouts"`
	JWT      JWTConfig           `yaml:"jwt"`
}

// PortalTimeoutConfig contains HTTP timeout settings.
type PortalTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// JWTConfig contains portal token settings.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_NODE_SECTION_KEY
// For example: GRAYLOGIC_NODE_DATABASE_PATH, GRAYLOGIC_NODE_LINK_INTERFACE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with factory defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NodeName:  "esp01",
			GroupName: "esps",
			Broker: BrokerConfig{
				Port: "1883",
			},
			Portal: PortalUserConfig{
				Username: "admin",
			},
		},
		Link: LinkConfig{
			Interface:        "wlan0",
			Driver:           "wpa_supplicant",
			SupplicantBinary: "/sbin/wpa_supplicant",
			RuntimeDir:       "/run/graylogic-node",
			SysfsRoot:        "/sys",
			ProcfsRoot:       "/proc",
			ConnectTimeout:   300,
			ReconnectTimeout: 15,
			RetryInterval:    5,
		},
		Session: SessionConfig{
			TopicPrefix:    "esp",
			KeepAlive:      30,
			CleanSession:   true,
			ConnectTimeout: 10,
			RetryBackoff:   30,
			// One attempt per 10 s over the 300 s connect window, less the first.
			RetryCeiling: 29,
			QoS:          1,
			InboxSize:    64,
			AckTimeout:   50,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 300,
		},
		Scheduler: SchedulerConfig{
			TickInterval:       10,
			MaxMessagesPerTick: 8,
		},
		Reset: ResetConfig{
			Mode:              "exit",
			DisconnectTimeout: 2,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-node.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Portal: PortalConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: PortalTimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_NODE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device defaults
	if v := os.Getenv("GRAYLOGIC_NODE_DEVICE_NODE_NAME"); v != "" {
		cfg.Device.NodeName = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_DEVICE_GROUP_NAME"); v != "" {
		cfg.Device.GroupName = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_WIFI_SSID"); v != "" {
		cfg.Device.WiFi.SSID = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_WIFI_PASSWORD"); v != "" {
		cfg.Device.WiFi.Password = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_HOST"); v != "" {
		cfg.Device.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_PORT"); v != "" {
		cfg.Device.Broker.Port = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_USERNAME"); v != "" {
		cfg.Device.Broker.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_PASSWORD"); v != "" {
		cfg.Device.Broker.Password = v
	}

	// Link
	if v := os.Getenv("GRAYLOGIC_NODE_LINK_INTERFACE"); v != "" {
		cfg.Link.Interface = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_LINK_DRIVER"); v != "" {
		cfg.Link.Driver = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_NODE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Portal
	if v := os.Getenv("GRAYLOGIC_NODE_PORTAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Portal.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_NODE_JWT_SECRET"); v != "" {
		cfg.Portal.JWT.Secret = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_NODE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_NODE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Link.Interface == "" {
		errs = append(errs, "link.interface is required")
	}
	switch c.Link.Driver {
	case "wpa_supplicant", "external":
	default:
		errs = append(errs, "link.driver must be wpa_supplicant or external")
	}
	if c.Link.ConnectTimeout <= 0 || c.Link.ReconnectTimeout <= 0 {
		errs = append(errs, "link timeouts must be positive")
	}

	if c.Session.TopicPrefix == "" {
		errs = append(errs, "session.topic_prefix is required")
	}
	if c.Session.QoS < 0 || c.Session.QoS > 2 {
		errs = append(errs, "session.qos must be 0, 1, or 2")
	}
	if c.Session.RetryBackoff <= 0 {
		errs = append(errs, "session.retry_backoff must be positive")
	}
	if c.Session.RetryCeiling < 0 {
		errs = append(errs, "session.retry_ceiling must not be negative")
	}
	if c.Session.AckTimeout < 0 {
		errs = append(errs, "session.ack_timeout must not be negative")
	}

	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, "heartbeat.interval must be positive")
	}
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, "scheduler.tick_interval must be positive")
	}

	switch c.Reset.Mode {
	case "exit", "reexec":
	case "command":
		if len(c.Reset.Command) == 0 {
			errs = append(errs, "reset.command is required when reset.mode is command")
		}
	default:
		errs = append(errs, "reset.mode must be exit, reexec, or command")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Portal.Enabled {
		if c.Portal.Port < 1 || c.Portal.Port > 65535 {
			errs = append(errs, "portal.port must be between 1 and 65535")
		}
		// Tokens signed with a short secret can be forged by anyone on the
		// local network, and the portal can factory-reset the node.
		const minJWTSecretLength = 32
		if c.Portal.JWT.Secret == "" {
			errs = append(errs, "portal.jwt.secret is required (set GRAYLOGIC_NODE_JWT_SECRET environment variable)")
		} else if len(c.Portal.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "portal.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the portal read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Portal.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the portal write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Portal.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the portal idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Portal.Timeouts.Idle) * time.Second
}

// GetTickInterval returns the run loop period as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickInterval) * time.Millisecond
}

// GetHeartbeatInterval returns the heartbeat period as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.Interval) * time.Second
}

// GetResetDisconnectTimeout returns the goodbye bound as a Duration.
func (c *Config) GetResetDisconnectTimeout() time.Duration {
	return time.Duration(c.Reset.DisconnectTimeout) * time.Second
}

// GetConnectTimeout returns the initial link association bound as a Duration.
func (l LinkConfig) GetConnectTimeout() time.Duration {
	return time.Duration(l.ConnectTimeout) * time.Second
}

// GetReconnectTimeout returns the re-association bound as a Duration.
func (l LinkConfig) GetReconnectTimeout() time.Duration {
	return time.Duration(l.ReconnectTimeout) * time.Second
}

// GetRetryInterval returns the association re-request period as a Duration.
func (l LinkConfig) GetRetryInterval() time.Duration {
	return time.Duration(l.RetryInterval) * time.Second
}

// GetKeepAlive returns the broker keep-alive as a Duration.
func (s SessionConfig) GetKeepAlive() time.Duration {
	return time.Duration(s.KeepAlive) * time.Second
}

// GetAckTimeout returns the acknowledgement wait as a Duration.
func (s SessionConfig) GetAckTimeout() time.Duration {
	return time.Duration(s.AckTimeout) * time.Millisecond
}

// GetConnectTimeout returns the broker handshake bound as a Duration.
func (s SessionConfig) GetConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// GetRetryBackoff returns the flat wait between failed connects as a Duration.
func (s SessionConfig) GetRetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoff) * time.Second
}
