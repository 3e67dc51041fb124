package gateway

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/bridges/gree/greetest"
	"github.com/nerrad567/greemqtt/internal/device"
	"github.com/nerrad567/greemqtt/internal/infrastructure/mqtt"
)

// ─── Fake broker ────────────────────────────────────────────────────

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakeBroker struct {
	mu            sync.Mutex
	published     []published
	subscriptions map[string]mqtt.MessageHandler
	failSubscribe int
	failPublish   bool
	disconnected  bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subscriptions: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPublish {
		return mqtt.ErrNotConnected
	}
	b.published = append(b.published, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubscribe > 0 {
		b.failSubscribe--
		return mqtt.ErrNotConnected
	}
	b.subscriptions[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, topic)
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disconnected
}

func (b *fakeBroker) on(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (b *fakeBroker) handler(topic string) (mqtt.MessageHandler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.subscriptions[topic]
	return h, ok
}

func (b *fakeBroker) setFailPublish(fail bool) {
	b.mu.Lock()
	b.failPublish = fail
	b.mu.Unlock()
}

// ─── In-memory device store ─────────────────────────────────────────

type memStore struct {
	mu       sync.Mutex
	devices  map[string]gree.Identity
	seen     map[string]time.Time
	saves    []string
	failSave bool
}

var _ device.Repository = (*memStore)(nil)

func newMemStore(ids ...gree.Identity) *memStore {
	s := &memStore{devices: make(map[string]gree.Identity), seen: make(map[string]time.Time)}
	for _, id := range ids {
		s.devices[id.DeviceID] = id
	}
	return s
}

func (s *memStore) GetAll(context.Context) ([]gree.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gree.Identity, 0, len(s.devices))
	for _, id := range s.devices {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b gree.Identity) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out, nil
}

func (s *memStore) Save(_ context.Context, id gree.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	s.devices[id.DeviceID] = id
	s.saves = append(s.saves, id.IP)
	return nil
}

func (s *memStore) MarkSeen(_ context.Context, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		return device.ErrDeviceNotFound
	}
	s.seen[deviceID] = at
	return nil
}

func (s *memStore) LastSeen(context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.seen))
	for k, v := range s.seen {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) savedIPs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saves...)
}

// ─── Helpers ────────────────────────────────────────────────────────

// boundSession returns a session already holding dev's key.
func boundSession(net gree.Transport, dev *greetest.Device, base string) *gree.Session {
	return gree.NewSession(gree.Identity{
		DeviceID: dev.ID,
		IP:       dev.IP,
		Key:      dev.Key,
	}, gree.SessionOptions{Transport: net, TopicBase: base, Timeout: 50 * time.Millisecond})
}

func newTestPublisher(broker Broker, store SeenRecorder) *statePublisher {
	return &statePublisher{
		broker: broker,
		cache:  newStateCache(),
		seen:   store,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
