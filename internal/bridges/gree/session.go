package gree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// timeLayout is the local clock format accepted by the "time" parameter.
const timeLayout = "2006-01-02 15:04:05"

// Identity is everything needed to talk to a bound appliance.
// Key and IsGCM change only through a successful bind.
type Identity struct {
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
	Name     string `json:"name,omitempty"`
	IsGCM    bool   `json:"is_gcm"`
	Key      string `json:"key,omitempty"`
}

// Redacted returns a copy with the key removed, safe for logs and APIs.
func (id Identity) Redacted() Identity {
	id.Key = ""
	return id
}

// Logger defines the logging interface for the gree package.
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

// SessionOptions configures a Session.
type SessionOptions struct {
	// Transport carries datagrams. Defaults to a UDPTransport.
	Transport Transport

	// Port is the appliance UDP port. Defaults to DefaultPort.
	Port int

	// Timeout bounds each round trip. Defaults to DefaultTimeout.
	Timeout time.Duration

	// TopicBase prefixes the MQTT topics derived from the device id.
	TopicBase string

	// TrackedParams are requested by GetState. Defaults to DefaultTrackedParams.
	TrackedParams []string

	// Logger receives session diagnostics. Optional.
	Logger Logger

	// Now overrides the clock. Optional.
	Now func() time.Time
}

// Session owns one appliance: its identity, key material and bind state.
type Session struct {
	transport Transport
	port      int
	timeout   time.Duration
	topicBase string
	tracked   []string
	logger    Logger
	now       func() time.Time

	// exchange serialises round trips so at most one request is in flight.
	exchange sync.Mutex

	mu       sync.RWMutex
	identity Identity
	bound    bool
	requests uint64
}

// NewSession creates a session for id. A session whose identity already
// carries a key (loaded from the store) starts bound.
func NewSession(id Identity, opts SessionOptions) *Session {
	if opts.Transport == nil {
		opts.Transport = NewUDPTransport()
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.TrackedParams) == 0 {
		opts.TrackedParams = DefaultTrackedParams
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		transport: opts.Transport,
		port:      opts.Port,
		timeout:   opts.Timeout,
		topicBase: opts.TopicBase,
		tracked:   append([]string(nil), opts.TrackedParams...),
		logger:    opts.Logger,
		now:       opts.Now,
		identity:  id,
		bound:     id.Key != "",
	}
}

// Identity returns a copy of the session identity, including the key.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// DeviceID returns the appliance id.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.DeviceID
}

// IsBound reports whether the session holds a device key.
func (s *Session) IsBound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// RequestCount returns the number of datagrams sent by this session.
func (s *Session) RequestCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}

// StateTopic is where the appliance state is published.
func (s *Session) StateTopic() string {
	return s.topicBase + "/" + s.DeviceID()
}

// CommandTopic is where parameter changes for the appliance arrive.
func (s *Session) CommandTopic() string {
	return s.StateTopic() + "/set"
}

// Bind performs the bind handshake under the generic key. When the current
// scheme is ECB and the device does not answer, GCM is tried once.
func (s *Session) Bind(ctx context.Context) error {
	s.exchange.Lock()
	defer s.exchange.Unlock()

	id := s.Identity()
	schemes := []bool{id.IsGCM}
	if !id.IsGCM {
		schemes = append(schemes, true)
	}

	for _, gcm := range schemes {
		raw, err := s.roundTrip(ctx, id, seqBind, bindPack{MAC: id.DeviceID, Type: typeBind}, "", gcm)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBind, err)
		}
		if raw == nil {
			s.logger.Debug("no bind reply", "device_id", id.DeviceID, "ip", id.IP, "gcm", gcm)
			continue
		}

		plain, err := decodeResponse(raw, "", gcm)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBind, err)
		}
		key, err := parseBindResult(plain)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.identity.Key = key
		s.identity.IsGCM = gcm
		s.bound = true
		s.mu.Unlock()

		s.logger.Info("device bound", "device_id", id.DeviceID, "ip", id.IP, "gcm", gcm)
		return nil
	}

	return fmt.Errorf("%w: %s did not answer", ErrBind, id.IP)
}

// GetState reads the tracked parameters and returns them translated.
// It returns (nil, nil) when the device does not answer.
func (s *Session) GetState(ctx context.Context) (Params, error) {
	s.exchange.Lock()
	defer s.exchange.Unlock()

	id, err := s.boundIdentity()
	if err != nil {
		return nil, err
	}

	pack := statusPack{Cols: s.tracked, MAC: id.DeviceID, Type: typeStatus}
	raw, err := s.roundTrip(ctx, id, seqRequest, pack, id.Key, id.IsGCM)
	if err != nil || raw == nil {
		return nil, err
	}

	plain, err := decodeResponse(raw, id.Key, id.IsGCM)
	if err != nil {
		return nil, err
	}
	state, err := zipStatus(plain)
	if err != nil {
		return nil, err
	}
	return FromDevice(state, s.now()), nil
}

// SetParams sends a command and returns the device acknowledgement
// (opt, p, val, r fields) untranslated. It returns (nil, nil) when the
// device does not answer.
func (s *Session) SetParams(ctx context.Context, p Params) (Params, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrProtocol)
	}

	s.exchange.Lock()
	defer s.exchange.Unlock()

	id, err := s.boundIdentity()
	if err != nil {
		return nil, err
	}

	raw, err := s.roundTrip(ctx, id, seqRequest, newCmdPack(ToDevice(p)), id.Key, id.IsGCM)
	if err != nil || raw == nil {
		return nil, err
	}

	plain, err := decodeResponse(raw, id.Key, id.IsGCM)
	if err != nil {
		return nil, err
	}
	var ack Params
	if err := json.Unmarshal(plain, &ack); err != nil {
		return nil, fmt.Errorf("%w: decoding acknowledgement: %w", ErrProtocol, err)
	}
	return ack, nil
}

// SynchronizeTime sets the appliance clock to the local time.
// Failures are logged only.
func (s *Session) SynchronizeTime(ctx context.Context) {
	id := s.DeviceID()
	ack, err := s.SetParams(ctx, Params{"time": s.now().Format(timeLayout)})
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		s.logger.Warn("time synchronisation failed", "device_id", id, "error", err)
	case err == nil && ack == nil:
		s.logger.Warn("time synchronisation got no reply", "device_id", id)
	case err == nil:
		s.logger.Debug("time synchronised", "device_id", id)
	}
}

func (s *Session) boundIdentity() (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.bound {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotBound, s.identity.DeviceID)
	}
	return s.identity, nil
}

// roundTrip must be called with s.exchange held.
func (s *Session) roundTrip(ctx context.Context, id Identity, seq int, pack any, key string, gcm bool) ([]byte, error) {
	req, err := encodeRequest(id.DeviceID, seq, pack, key, gcm)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	return s.transport.SendAndReceive(ctx, id.IP, s.port, req, s.timeout)
}
