package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete bridge configuration.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Network  NetworkConfig  `yaml:"network"`
	Polling  PollingConfig  `yaml:"polling"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Retry    RetryConfig    `yaml:"retry"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig configures the broker connection and topic layout.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	TopicBase string              `yaml:"topic_base"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	KeepAlive time.Duration       `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds reconnection backoff. MaxAttempts 0 means
// retry forever.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// NetworkConfig lists the appliances and the UDP protocol settings.
type NetworkConfig struct {
	Devices []string      `yaml:"devices"`
	UDPPort int           `yaml:"udp_port"`
	Timeout time.Duration `yaml:"timeout"`
}

// PollingConfig tunes the adaptive status poll.
type PollingConfig struct {
	UpdateInterval  time.Duration `yaml:"update_interval"`
	AdaptiveWindow  time.Duration `yaml:"adaptive_window"`
	FastInterval    time.Duration `yaml:"fast_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	ErrorBaseDelay  time.Duration `yaml:"error_base_delay"`
	TrackedParams   []string      `yaml:"tracked_params"`
}

// DispatchConfig sizes the command pipeline.
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// RetryConfig controls rediscovery of missing devices and task retries.
type RetryConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Attempts      int           `yaml:"attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// DatabaseConfig locates the SQLite device store.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// InfluxDBConfig enables optional state history.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// APIConfig configures the status HTTP server.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig holds HTTP server timeouts.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// HealthConfig tunes health reporting and the healthcheck command.
type HealthConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// LoggingConfig selects log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultTrackedParams is the status column list requested on every poll.
var DefaultTrackedParams = []string{
	"Pow", "Mod", "SetTem", "TemUn", "WdSpd", "Air", "Blo", "Health", "SwhSlp",
	"Lig", "SwingLfRig", "SwUpDn", "Quiet", "Tur", "StHt", "HeatCoolType",
	"TemRec", "SvSt", "TemSen",
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "greemqtt",
			},
			TopicBase: "gree",
			QoS:       0,
			KeepAlive: 60 * time.Second,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		Network: NetworkConfig{
			UDPPort: 7000,
			Timeout: 5 * time.Second,
		},
		Polling: PollingConfig{
			UpdateInterval:  4 * time.Second,
			AdaptiveWindow:  45 * time.Second,
			FastInterval:    time.Second,
			CleanupInterval: time.Second,
			ErrorBaseDelay:  500 * time.Millisecond,
			TrackedParams:   append([]string(nil), DefaultTrackedParams...),
		},
		Dispatch: DispatchConfig{
			Workers:   3,
			QueueSize: 100,
		},
		Retry: RetryConfig{
			Interval:      5 * time.Minute,
			Attempts:      3,
			BaseDelay:     time.Second,
			BackoffFactor: 2,
		},
		Database: DatabaseConfig{
			Path:        "./data/greemqtt.db",
			WALMode:     true,
			BusyTimeout: 5 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "greemqtt",
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  10 * time.Second,
				Write: 10 * time.Second,
				Idle:  60 * time.Second,
			},
		},
		Health: HealthConfig{
			Interval:   30 * time.Second,
			StaleAfter: 100 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(name); v != "" {
			*dst = splitList(v)
		}
	}

	list("GREEMQTT_NETWORK", &cfg.Network.Devices)
	num("GREEMQTT_UDP_PORT", &cfg.Network.UDPPort)

	str("GREEMQTT_MQTT_HOST", &cfg.MQTT.Broker.Host)
	num("GREEMQTT_MQTT_PORT", &cfg.MQTT.Broker.Port)
	str("GREEMQTT_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("GREEMQTT_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	str("GREEMQTT_MQTT_TOPIC", &cfg.MQTT.TopicBase)
	num("GREEMQTT_MQTT_QOS", &cfg.MQTT.QoS)
	flag("GREEMQTT_MQTT_RETAIN", &cfg.MQTT.Retain)
	dur("GREEMQTT_MQTT_KEEP_ALIVE", &cfg.MQTT.KeepAlive)

	dur("GREEMQTT_UPDATE_INTERVAL", &cfg.Polling.UpdateInterval)
	dur("GREEMQTT_ADAPTIVE_WINDOW", &cfg.Polling.AdaptiveWindow)
	dur("GREEMQTT_FAST_INTERVAL", &cfg.Polling.FastInterval)
	list("GREEMQTT_TRACKING_PARAMS", &cfg.Polling.TrackedParams)

	num("GREEMQTT_WORKERS", &cfg.Dispatch.Workers)
	num("GREEMQTT_QUEUE_SIZE", &cfg.Dispatch.QueueSize)

	str("GREEMQTT_DATABASE_PATH", &cfg.Database.Path)
	str("GREEMQTT_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	str("GREEMQTT_API_HOST", &cfg.API.Host)
	str("GREEMQTT_LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations and bare (fractional) seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Network.Devices) == 0 {
		errs = append(errs, "network.devices must list at least one device IP (or set GREEMQTT_NETWORK)")
	}
	if c.Network.UDPPort < 1 || c.Network.UDPPort > 65535 {
		errs = append(errs, "network.udp_port must be between 1 and 65535")
	}
	if c.Network.Timeout <= 0 {
		errs = append(errs, "network.timeout must be positive")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicBase == "" || strings.ContainsAny(c.MQTT.TopicBase, "+#") {
		errs = append(errs, "mqtt.topic_base must be non-empty and free of wildcards")
	}

	if c.Polling.UpdateInterval <= 0 {
		errs = append(errs, "polling.update_interval must be positive")
	}
	if c.Polling.AdaptiveWindow <= 0 {
		errs = append(errs, "polling.adaptive_window must be positive")
	}
	if c.Polling.FastInterval <= 0 || c.Polling.FastInterval > c.Polling.UpdateInterval {
		errs = append(errs, "polling.fast_interval must be positive and not exceed update_interval")
	}
	if len(c.Polling.TrackedParams) == 0 {
		errs = append(errs, "polling.tracked_params must not be empty")
	}

	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch.workers must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}

	if c.Retry.Interval <= 0 {
		errs = append(errs, "retry.interval must be positive")
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, "retry.attempts must be at least 1")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, org and bucket are required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
