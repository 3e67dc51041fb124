package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker:
    host: "broker.lan"
    port: 1884
  topic_base: "home/ac"
  qos: 1
  retain: true
network:
  devices: ["192.168.1.40", "192.168.1.41"]
  timeout: 3s
polling:
  update_interval: 6s
  fast_interval: 2s
dispatch:
  workers: 5
database:
  path: "/tmp/test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.lan" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.lan")
	}
	if cfg.MQTT.TopicBase != "home/ac" {
		t.Errorf("MQTT.TopicBase = %q, want %q", cfg.MQTT.TopicBase, "home/ac")
	}
	if !cfg.MQTT.Retain || cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT retain/qos = %v/%d, want true/1", cfg.MQTT.Retain, cfg.MQTT.QoS)
	}
	if diff := cmp.Diff([]string{"192.168.1.40", "192.168.1.41"}, cfg.Network.Devices); diff != "" {
		t.Errorf("Network.Devices mismatch (-want +got):\n%s", diff)
	}
	if cfg.Network.Timeout != 3*time.Second {
		t.Errorf("Network.Timeout = %v, want 3s", cfg.Network.Timeout)
	}
	if cfg.Polling.UpdateInterval != 6*time.Second || cfg.Polling.FastInterval != 2*time.Second {
		t.Errorf("Polling intervals = %v/%v, want 6s/2s", cfg.Polling.UpdateInterval, cfg.Polling.FastInterval)
	}
	if cfg.Dispatch.Workers != 5 {
		t.Errorf("Dispatch.Workers = %d, want 5", cfg.Dispatch.Workers)
	}

	// Untouched sections keep their defaults.
	if cfg.Polling.AdaptiveWindow != 45*time.Second {
		t.Errorf("Polling.AdaptiveWindow = %v, want 45s", cfg.Polling.AdaptiveWindow)
	}
	if cfg.Network.UDPPort != 7000 {
		t.Errorf("Network.UDPPort = %d, want 7000", cfg.Network.UDPPort)
	}
	if cfg.Health.StaleAfter != 100*time.Second {
		t.Errorf("Health.StaleAfter = %v, want 100s", cfg.Health.StaleAfter)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "network: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("GREEMQTT_NETWORK", "10.0.0.5, 10.0.0.6,")
	t.Setenv("GREEMQTT_MQTT_HOST", "mosquitto")
	t.Setenv("GREEMQTT_MQTT_PORT", "1885")
	t.Setenv("GREEMQTT_MQTT_TOPIC", "ac")
	t.Setenv("GREEMQTT_MQTT_RETAIN", "true")
	t.Setenv("GREEMQTT_UPDATE_INTERVAL", "8")
	t.Setenv("GREEMQTT_ADAPTIVE_WINDOW", "1m")
	t.Setenv("GREEMQTT_FAST_INTERVAL", "0.5")
	t.Setenv("GREEMQTT_TRACKING_PARAMS", "Pow,SetTem")
	t.Setenv("GREEMQTT_WORKERS", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if diff := cmp.Diff([]string{"10.0.0.5", "10.0.0.6"}, cfg.Network.Devices); diff != "" {
		t.Errorf("Network.Devices mismatch (-want +got):\n%s", diff)
	}
	if cfg.MQTT.Broker.Host != "mosquitto" || cfg.MQTT.Broker.Port != 1885 {
		t.Errorf("broker = %s:%d, want mosquitto:1885", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.TopicBase != "ac" || !cfg.MQTT.Retain {
		t.Errorf("topic/retain = %q/%v, want ac/true", cfg.MQTT.TopicBase, cfg.MQTT.Retain)
	}
	if cfg.Polling.UpdateInterval != 8*time.Second {
		t.Errorf("UpdateInterval = %v, want 8s", cfg.Polling.UpdateInterval)
	}
	if cfg.Polling.AdaptiveWindow != time.Minute {
		t.Errorf("AdaptiveWindow = %v, want 1m", cfg.Polling.AdaptiveWindow)
	}
	if cfg.Polling.FastInterval != 500*time.Millisecond {
		t.Errorf("FastInterval = %v, want 500ms", cfg.Polling.FastInterval)
	}
	if diff := cmp.Diff([]string{"Pow", "SetTem"}, cfg.Polling.TrackedParams); diff != "" {
		t.Errorf("TrackedParams mismatch (-want +got):\n%s", diff)
	}
	if cfg.Dispatch.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Dispatch.Workers)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
network:
  devices: ["192.168.1.40"]
logging:
  level: "info"
`)
	t.Setenv("GREEMQTT_LOG_LEVEL", "debug")
	t.Setenv("GREEMQTT_NETWORK", "192.168.1.99")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if diff := cmp.Diff([]string{"192.168.1.99"}, cfg.Network.Devices); diff != "" {
		t.Errorf("Network.Devices mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("GREEMQTT_NETWORK", "10.0.0.5")
	t.Setenv("GREEMQTT_WORKERS", "many")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "GREEMQTT_WORKERS") {
		t.Errorf("Load() error = %v, want mention of GREEMQTT_WORKERS", err)
	}
}

// ─── Validation ─────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Network.Devices = []string{"192.168.1.40"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with a device", func(*Config) {}, ""},
		{"no devices", func(c *Config) { c.Network.Devices = nil }, "network.devices"},
		{"no broker host", func(c *Config) { c.MQTT.Broker.Host = "" }, "mqtt.broker.host"},
		{"qos out of range", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"wildcard topic base", func(c *Config) { c.MQTT.TopicBase = "gree/#" }, "mqtt.topic_base"},
		{"zero update interval", func(c *Config) { c.Polling.UpdateInterval = 0 }, "polling.update_interval"},
		{"fast slower than normal", func(c *Config) { c.Polling.FastInterval = 10 * time.Second }, "polling.fast_interval"},
		{"no workers", func(c *Config) { c.Dispatch.Workers = 0 }, "dispatch.workers"},
		{"no queue", func(c *Config) { c.Dispatch.QueueSize = 0 }, "dispatch.queue_size"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb"},
		{"api port out of range", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"api disabled ignores port", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Broker.Host = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"network.devices", "mqtt.broker.host"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestDefault_TrackedParamsIsCopy(t *testing.T) {
	cfg := Default()
	cfg.Polling.TrackedParams[0] = "changed"
	if DefaultTrackedParams[0] != "Pow" {
		t.Error("Default() shares the DefaultTrackedParams backing array")
	}
}
