package gateway

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/polling"
	"github.com/nerrad567/greemqtt/internal/process"
)

const defaultHealthInterval = 30 * time.Second

// Status is a point-in-time view of the bridge.
type Status struct {
	StartedAt       time.Time          `json:"started_at,omitzero"`
	MQTTConnected   bool               `json:"mqtt_connected"`
	BoundDevices    int                `json:"bound_devices"`
	MissingDevices  []string           `json:"missing_devices"`
	QueueDepth      int                `json:"queue_depth"`
	AdaptiveDevices int                `json:"adaptive_devices"`
	Devices         []DeviceStatus     `json:"devices"`
	RunningTasks    int                `json:"running_tasks"`
	Tasks           []process.TaskInfo `json:"tasks,omitempty"`
}

// DeviceStatus describes one started device. The key is never included.
type DeviceStatus struct {
	gree.Identity
	Topic             string       `json:"topic"`
	Bound             bool         `json:"bound"`
	Routable          bool         `json:"routable"`
	PollingMode       polling.Mode `json:"polling_mode"`
	Commands          uint64       `json:"commands"`
	Requests          uint64       `json:"requests"`
	ConsecutiveErrors int64        `json:"consecutive_errors"`
	LastSuccess       time.Time    `json:"last_success,omitzero"`
	LastPublished     time.Time    `json:"last_published,omitzero"`
}

// Status reports the current state of the bridge.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	started := b.startedAt
	sup := b.sup
	sessions := make([]*gree.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	pollers := make(map[string]*Poller, len(b.pollers))
	for id, p := range b.pollers {
		pollers[id] = p
	}
	b.mu.Unlock()

	slices.SortFunc(sessions, func(a, c *gree.Session) int {
		return strings.Compare(a.DeviceID(), c.DeviceID())
	})

	st := Status{
		StartedAt:       started,
		MQTTConnected:   b.broker.IsConnected(),
		BoundDevices:    b.registry.Len(),
		MissingDevices:  b.retry.Missing(),
		QueueDepth:      b.dispatcher.QueueDepth(),
		AdaptiveDevices: b.policy.Active(),
		Devices:         make([]DeviceStatus, 0, len(sessions)),
	}
	if sup != nil {
		st.RunningTasks = sup.Running()
		st.Tasks = sup.Tasks()
	}

	for _, s := range sessions {
		id := s.DeviceID()
		_, routable := b.registry.Get(s.CommandTopic())
		ds := DeviceStatus{
			Identity:      s.Identity().Redacted(),
			Topic:         s.StateTopic(),
			Bound:         s.IsBound(),
			Routable:      routable,
			PollingMode:   b.policy.Mode(id),
			Commands:      b.policy.CommandCount(id),
			Requests:      s.RequestCount(),
			LastPublished: b.cache.publishedAt(id),
		}
		if p, ok := pollers[id]; ok {
			ds.ConsecutiveErrors = p.ConsecutiveErrors()
			ds.LastSuccess = p.LastSuccess()
		}
		st.Devices = append(st.Devices, ds)
	}
	return st
}

// healthDocument is the retained payload on the bridge health topic.
type healthDocument struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	BoundDevices    int       `json:"bound_devices"`
	MissingDevices  []string  `json:"missing_devices"`
	QueueDepth      int       `json:"queue_depth"`
	AdaptiveDevices int       `json:"adaptive_devices"`
	FailingDevices  []string  `json:"failing_devices,omitempty"`
}

func (b *Bridge) buildHealth(now time.Time) healthDocument {
	st := b.Status()
	doc := healthDocument{
		Status:          "healthy",
		Timestamp:       now.UTC(),
		BoundDevices:    st.BoundDevices,
		MissingDevices:  st.MissingDevices,
		QueueDepth:      st.QueueDepth,
		AdaptiveDevices: st.AdaptiveDevices,
	}
	if !st.StartedAt.IsZero() {
		doc.UptimeSeconds = int64(now.Sub(st.StartedAt).Seconds())
	}
	for _, d := range st.Devices {
		if d.ConsecutiveErrors > 0 {
			doc.FailingDevices = append(doc.FailingDevices, d.DeviceID)
		}
	}
	if len(doc.MissingDevices) > 0 || len(doc.FailingDevices) > 0 {
		doc.Status = "degraded"
	}
	return doc
}

// reportHealth publishes the health document immediately and then on
// every health interval.
func (b *Bridge) reportHealth(ctx context.Context) error {
	interval := b.cfg.Health.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b.publishHealth()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Bridge) publishHealth() {
	doc := b.buildHealth(time.Now())

	modes := make(map[string]int)
	b.mu.Lock()
	for id := range b.sessions {
		if m := b.policy.Mode(id); m != polling.ModeNormal {
			modes[string(m)]++
		}
	}
	b.mu.Unlock()
	b.metrics.SetModes(modes)

	payload, err := json.Marshal(doc)
	if err != nil {
		b.logger.Error("encoding health document failed", "error", err)
		return
	}
	if err := b.broker.Publish(b.topics.Health(), payload, byte(b.cfg.MQTT.QoS), true); err != nil {
		b.logger.Debug("publishing health failed", "error", err)
	}
}
