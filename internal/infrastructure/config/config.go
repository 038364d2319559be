package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Meross Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Account      AccountConfig      `yaml:"account"`
	HTTP         HTTPConfig         `yaml:"http"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Transport    TransportConfig    `yaml:"transport"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Stats        StatsConfig        `yaml:"stats"`
	Database     DatabaseConfig     `yaml:"database"`
	History      HistoryConfig      `yaml:"history"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AccountConfig identifies the vendor cloud account.
type AccountConfig struct {
	// Email is the account login. Ignored when stored credentials exist and
	// are still valid.
	Email string `yaml:"email"`

	// Password is the account password. Prefer the MEROSS_ACCOUNT_PASSWORD
	// environment variable over placing it in the file.
	Password string `yaml:"password"`

	// MFACode is the optional one-time code for accounts with MFA enabled.
	MFACode string `yaml:"mfa_code"`

	// APIBaseURL is the initial API endpoint. The client follows region
	// redirects from here.
	APIBaseURL string `yaml:"api_base_url"`
}

// HTTPConfig contains vendor API client settings.
type HTTPConfig struct {
	Timeout      int  `yaml:"timeout"` // seconds
	AutoRedirect bool `yaml:"auto_redirect"`
	MaxRedirects int  `yaml:"max_redirects"`
	LogActivity  bool `yaml:"log_activity"`
}

// MQTTConfig contains broker session settings. Host and credentials come
// from the account login, not from configuration.
type MQTTConfig struct {
	ClientPrefix   string              `yaml:"client_prefix"`
	QoS            int                 `yaml:"qos"`
	KeepAlive      int                 `yaml:"keep_alive"`       // seconds
	ConnectTimeout int                 `yaml:"connect_timeout"`  // seconds
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains reconnection backoff settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"` // seconds
	MaxDelay     int `yaml:"max_delay"`     // seconds
}

// TransportConfig controls how device commands are routed.
type TransportConfig struct {
	// Mode selects the transport policy: "mqtt_only", "lan_first", or
	// "lan_first_get".
	Mode string `yaml:"mode"`

	CommandTimeout int `yaml:"command_timeout"` // seconds
	LANTimeout     int `yaml:"lan_timeout"`     // seconds

	// ErrorBudget is the number of LAN failures tolerated before LAN is
	// disabled for a device.
	ErrorBudget int `yaml:"error_budget"`

	// Cooldown is how long LAN stays disabled after the budget is spent.
	Cooldown int `yaml:"cooldown"` // seconds
}

// Transport mode values accepted in TransportConfig.Mode.
const (
	TransportModeMQTTOnly    = "mqtt_only"
	TransportModeLANFirst    = "lan_first"
	TransportModeLANFirstGet = "lan_first_get"
)

// SubscriptionConfig contains per-device polling defaults.
type SubscriptionConfig struct {
	StateInterval       int  `yaml:"state_interval"`       // seconds
	ElectricityInterval int  `yaml:"electricity_interval"` // seconds
	ConsumptionInterval int  `yaml:"consumption_interval"` // seconds
	DeviceListInterval  int  `yaml:"device_list_interval"` // seconds
	SmartCaching        bool `yaml:"smart_caching"`
	CacheMaxAge         int  `yaml:"cache_max_age"` // seconds
}

// StatsConfig contains in-memory sample ring settings.
type StatsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Capacity bounds each ring. 0 uses the package default.
	Capacity int `yaml:"capacity"`
	// DelayedThreshold marks replies slower than this as delayed.
	DelayedThreshold int `yaml:"delayed_threshold"` // milliseconds
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// HistoryConfig controls state change recording.
type HistoryConfig struct {
	Enabled      bool `yaml:"enabled"`
	DefaultLimit int  `yaml:"default_limit"`
	MaxLimit     int  `yaml:"max_limit"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // milliseconds
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
// Environment variables follow the pattern: MEROSS_SECTION_KEY
// For example: MEROSS_ACCOUNT_PASSWORD, MEROSS_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			APIBaseURL: "https://iotx.meross.com",
		},
		HTTP: HTTPConfig{
			Timeout:      10,
			AutoRedirect: true,
			MaxRedirects: 3,
			LogActivity:  true,
		},
		MQTT: MQTTConfig{
			ClientPrefix:   "app",
			QoS:            1,
			KeepAlive:      30,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Transport: TransportConfig{
			Mode:           TransportModeLANFirst,
			CommandTimeout: 10,
			LANTimeout:     5,
			ErrorBudget:    5,
			Cooldown:       60,
		},
		Subscription: SubscriptionConfig{
			StateInterval:       30,
			ElectricityInterval: 30,
			ConsumptionInterval: 300,
			DeviceListInterval:  300,
			SmartCaching:        true,
			CacheMaxAge:         10,
		},
		Stats: StatsConfig{
			Enabled:          true,
			Capacity:         1000,
			DelayedThreshold: 2000,
		},
		Database: DatabaseConfig{
			Path:        "./data/meross.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:      true,
			DefaultLimit: 50,
			MaxLimit:     200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MEROSS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEROSS_ACCOUNT_EMAIL"); v != "" {
		cfg.Account.Email = v
	}
	if v := os.Getenv("MEROSS_ACCOUNT_PASSWORD"); v != "" {
		cfg.Account.Password = v
	}
	if v := os.Getenv("MEROSS_ACCOUNT_MFA_CODE"); v != "" {
		cfg.Account.MFACode = v
	}
	if v := os.Getenv("MEROSS_API_BASE_URL"); v != "" {
		cfg.Account.APIBaseURL = v
	}
	if v := os.Getenv("MEROSS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MEROSS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Account.APIBaseURL == "" {
		errs = append(errs, "account.api_base_url is required")
	}

	if c.HTTP.Timeout < 1 {
		errs = append(errs, "http.timeout must be at least 1 second")
	}
	if c.HTTP.MaxRedirects < 0 || c.HTTP.MaxRedirects > 10 {
		errs = append(errs, "http.max_redirects must be between 0 and 10")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.Transport.Mode {
	case TransportModeMQTTOnly, TransportModeLANFirst, TransportModeLANFirstGet:
	default:
		errs = append(errs, "transport.mode must be mqtt_only, lan_first, or lan_first_get")
	}
	if c.Transport.ErrorBudget < 1 {
		errs = append(errs, "transport.error_budget must be at least 1")
	}
	if c.Transport.CommandTimeout < 1 {
		errs = append(errs, "transport.command_timeout must be at least 1 second")
	}

	if c.Subscription.CacheMaxAge < 1 {
		errs = append(errs, "subscription.cache_max_age must be at least 1 second")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set MEROSS_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HTTPTimeout returns the vendor API timeout as a Duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeout) * time.Second
}

// CommandTimeout returns the device command timeout as a Duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Transport.CommandTimeout) * time.Second
}

// LANTimeout returns the LAN HTTP timeout as a Duration.
func (c *Config) LANTimeout() time.Duration {
	return time.Duration(c.Transport.LANTimeout) * time.Second
}

// LANCooldown returns the LAN disable window as a Duration.
func (c *Config) LANCooldown() time.Duration {
	return time.Duration(c.Transport.Cooldown) * time.Second
}

// CacheMaxAge returns the smart-caching freshness bound as a Duration.
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Subscription.CacheMaxAge) * time.Second
}

// DelayedThreshold returns the reply latency above which a sample counts as
// delayed.
func (c *Config) DelayedThreshold() time.Duration {
	return time.Duration(c.Stats.DelayedThreshold) * time.Millisecond
}
