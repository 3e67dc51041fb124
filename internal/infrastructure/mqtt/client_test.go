package mqtt

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/greemqtt/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration. Unit tests never dial it.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "greemqtt-test",
		},
		TopicBase: "gree",
		QoS:       1,
		KeepAlive: 30 * time.Second,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     5 * time.Second,
		},
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, level+" "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

// ─── Topics ─────────────────────────────────────────────────────────

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("home/gree/")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"State", topics.State("f4911e7aca59"), "home/gree/f4911e7aca59"},
		{"Command", topics.Command("f4911e7aca59"), "home/gree/f4911e7aca59/set"},
		{"Status", topics.Status(), "home/gree/status"},
		{"Health", topics.Health(), "home/gree/bridge/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

// ─── Options ────────────────────────────────────────────────────────

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if !strings.HasPrefix(opts.ClientID, "greemqtt-test-") {
		t.Errorf("ClientID = %q, want greemqtt-test- prefix", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want bridge/secret", opts.Username, opts.Password)
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS 1.2 minimum not configured")
	}
}

func TestClientIDsAreUnique(t *testing.T) {
	a, b := clientID("greemqtt"), clientID("greemqtt")
	if a == b {
		t.Errorf("clientID returned %q twice", a)
	}
	if !strings.HasPrefix(clientID(""), "greemqtt-") {
		t.Error("empty prefix should fall back to greemqtt")
	}
}

func TestLastWill(t *testing.T) {
	c := newClient(testConfig())

	if !c.options.WillEnabled {
		t.Fatal("LWT not enabled")
	}
	if c.options.WillTopic != "gree/status" {
		t.Errorf("WillTopic = %q, want gree/status", c.options.WillTopic)
	}
	if string(c.options.WillPayload) != "offline" {
		t.Errorf("WillPayload = %q, want offline", c.options.WillPayload)
	}
	if !c.options.WillRetained {
		t.Error("LWT should be retained")
	}
}

// ─── Disconnected client ────────────────────────────────────────────

func TestOperationsRequireConnection(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish", c.Publish("gree/x", []byte("{}"), 0, false), ErrNotConnected},
		{"publish empty topic", c.Publish("", nil, 0, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("gree/x", nil, 3, false), ErrInvalidQoS},
		{"publish oversized", c.Publish("gree/x", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"subscribe", c.Subscribe("gree/+/set", 0, noop), ErrNotConnected},
		{"subscribe nil handler", c.Subscribe("gree/+/set", 0, nil), ErrSubscribeFailed},
		{"subscribe bad qos", c.Subscribe("gree/+/set", 5, noop), ErrInvalidQoS},
		{"unsubscribe", c.Unsubscribe("gree/+/set"), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never dialled")
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

// ─── Handler wrapping ───────────────────────────────────────────────

func TestDeliverRecoversPanics(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.deliver(func(string, []byte) error { panic("boom") }, "gree/dev1/set", nil)
	c.deliver(func(string, []byte) error { return errors.New("bad payload") }, "gree/dev1/set", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	want := []string{"ERROR MQTT handler panic recovered", "WARN MQTT handler returned error"}
	if len(logger.lines) != len(want) {
		t.Fatalf("logged %v, want %v", logger.lines, want)
	}
	for i := range want {
		if logger.lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, logger.lines[i], want[i])
		}
	}
}

func TestDisconnectCallback(t *testing.T) {
	c := newClient(testConfig())
	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	cause := errors.New("EOF")
	c.handleDisconnect(cause)

	if !errors.Is(got, cause) {
		t.Errorf("onDisconnect got %v, want %v", got, cause)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}
