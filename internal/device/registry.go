package device

import (
	"sort"
	"sync"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
)

// Registry maps MQTT command topics to device sessions.
//
// A session is held under one topic at a time, and a device id under one
// topic at a time: registering again replaces any earlier entry for the
// same session or device.
type Registry struct {
	mu      sync.RWMutex
	byTopic map[string]*gree.Session
	topicOf map[string]string // device id -> topic
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTopic: make(map[string]*gree.Session),
		topicOf: make(map[string]string),
	}
}

// Register routes topic to s.
func (r *Registry) Register(topic string, s *gree.Session) {
	id := s.DeviceID()

	r.mu.Lock()
	defer r.mu.Unlock()

	for t, existing := range r.byTopic {
		if t != topic && existing == s {
			delete(r.byTopic, t)
		}
	}
	if old, ok := r.topicOf[id]; ok && old != topic {
		delete(r.byTopic, old)
	}
	if prev, ok := r.byTopic[topic]; ok && prev != s {
		if prevID := prev.DeviceID(); prevID != id {
			delete(r.topicOf, prevID)
		}
	}

	r.byTopic[topic] = s
	r.topicOf[id] = topic
}

// Get returns the session for topic.
func (r *Registry) Get(topic string) (*gree.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTopic[topic]
	return s, ok
}

// Unregister removes topic.
func (r *Registry) Unregister(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byTopic[topic]
	if !ok {
		return
	}
	delete(r.byTopic, topic)
	if id := s.DeviceID(); r.topicOf[id] == topic {
		delete(r.topicOf, id)
	}
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic)
}

// Sessions returns the registered sessions ordered by device id.
func (r *Registry) Sessions() []*gree.Session {
	r.mu.RLock()
	out := make([]*gree.Session, 0, len(r.byTopic))
	for _, s := range r.byTopic {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID() < out[j].DeviceID() })
	return out
}
