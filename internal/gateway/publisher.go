package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/infrastructure/metrics"
	"github.com/nerrad567/greemqtt/internal/infrastructure/mqtt"
)

// Logger is the logging interface used across the gateway.
// logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is the MQTT capability the gateway needs. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// HistoryWriter records published states. *influxdb.Client satisfies it.
type HistoryWriter interface {
	WriteDeviceState(deviceID string, state map[string]any, at time.Time)
}

// SeenRecorder stores the time of the last successful state read.
type SeenRecorder interface {
	MarkSeen(ctx context.Context, deviceID string, at time.Time) error
}

// stateCache remembers the last published snapshot per device.
type stateCache struct {
	mu   sync.Mutex
	last map[string]string
	at   map[string]time.Time
}

func newStateCache() *stateCache {
	return &stateCache{last: make(map[string]string), at: make(map[string]time.Time)}
}

func (c *stateCache) changed(deviceID, snapshot string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.last[deviceID]
	return !ok || prev != snapshot
}

func (c *stateCache) store(deviceID, snapshot string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[deviceID] = snapshot
	c.at[deviceID] = at
}

func (c *stateCache) publishedAt(deviceID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at[deviceID]
}

// statePublisher handles every successful state read, from the poller or
// from a worker after a command.
type statePublisher struct {
	broker  Broker
	qos     byte
	retain  bool
	cache   *stateCache
	seen    SeenRecorder
	history HistoryWriter
	metrics *metrics.Metrics
	logger  Logger
	now     func() time.Time
}

// observe records a state read and publishes it if it changed.
// It reports whether a message was published.
func (p *statePublisher) observe(ctx context.Context, s *gree.Session, state gree.Params) (bool, error) {
	id := s.DeviceID()
	now := p.now()

	if p.seen != nil {
		if err := p.seen.MarkSeen(ctx, id, now); err != nil {
			p.logger.Debug("recording last seen failed", "device_id", id, "error", err)
		}
	}

	snapshot, err := json.Marshal(state.Stable())
	if err != nil {
		return false, fmt.Errorf("encoding state snapshot: %w", err)
	}
	if !p.cache.changed(id, string(snapshot)) {
		return false, nil
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("encoding state: %w", err)
	}
	if err := p.broker.Publish(s.StateTopic(), payload, p.qos, p.retain); err != nil {
		return false, fmt.Errorf("publishing state for %s: %w", id, err)
	}
	p.cache.store(id, string(snapshot), now)
	p.metrics.Published()

	if p.history != nil {
		p.history.WriteDeviceState(id, state, now)
	}
	p.logger.Debug("state published", "device_id", id, "topic", s.StateTopic())
	return true, nil
}
