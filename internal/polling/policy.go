package polling

import (
	"context"
	"sync"
	"time"
)

// Mode is the polling phase of one device.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeImmediate Mode = "immediate"
	ModeUltraFast Mode = "ultra_fast"
	ModeFast      Mode = "fast"
)

// Default timings.
const (
	DefaultNormalInterval    = 4 * time.Second
	DefaultFastInterval      = 1 * time.Second
	DefaultWindow            = 45 * time.Second
	DefaultImmediateInterval = 100 * time.Millisecond
	DefaultUltraFastInterval = 300 * time.Millisecond
	DefaultImmediatePhase    = 3 * time.Second
	DefaultUltraFastPhase    = 15 * time.Second
	DefaultCountCap          = 1000
)

// Config holds the policy timings. Zero fields take the defaults.
type Config struct {
	NormalInterval    time.Duration
	FastInterval      time.Duration
	Window            time.Duration
	ImmediateInterval time.Duration
	UltraFastInterval time.Duration
	ImmediatePhase    time.Duration
	UltraFastPhase    time.Duration

	// CountCap bounds per-device command counters. Counters above the cap
	// are halved by CleanupExpired.
	CountCap uint64

	// Now overrides the clock. Optional.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.NormalInterval <= 0 {
		c.NormalInterval = DefaultNormalInterval
	}
	if c.FastInterval <= 0 {
		c.FastInterval = DefaultFastInterval
	}
	if c.FastInterval > c.NormalInterval {
		c.FastInterval = c.NormalInterval
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.ImmediateInterval <= 0 {
		c.ImmediateInterval = DefaultImmediateInterval
	}
	if c.UltraFastInterval <= 0 {
		c.UltraFastInterval = DefaultUltraFastInterval
	}
	if c.ImmediatePhase <= 0 {
		c.ImmediatePhase = DefaultImmediatePhase
	}
	if c.UltraFastPhase <= 0 {
		c.UltraFastPhase = DefaultUltraFastPhase
	}
	if c.CountCap == 0 {
		c.CountCap = DefaultCountCap
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Logger defines the logging interface for the policy.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

type deviceState struct {
	triggeredAt time.Time
	mode        Mode
}

// Policy tracks recent command activity per device.
type Policy struct {
	cfg    Config
	logger Logger

	mu     sync.Mutex
	states map[string]*deviceState
	counts map[string]uint64
}

// New creates a policy.
func New(cfg Config) *Policy {
	return &Policy{
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
		states: make(map[string]*deviceState),
		counts: make(map[string]uint64),
	}
}

// SetLogger sets the logger for the policy.
func (p *Policy) SetLogger(logger Logger) {
	p.logger = logger
}

// NormalInterval returns the configured idle interval.
func (p *Policy) NormalInterval() time.Duration {
	return p.cfg.NormalInterval
}

// Trigger records a command for deviceID and enters immediate mode.
func (p *Policy) Trigger(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.arm(deviceID)
	p.counts[deviceID]++
	p.logger.Debug("adaptive polling triggered", "device_id", deviceID, "commands", p.counts[deviceID])
}

// ForceImmediate restarts the window for deviceID without counting a command.
func (p *Policy) ForceImmediate(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arm(deviceID)
}

func (p *Policy) arm(deviceID string) {
	st, ok := p.states[deviceID]
	if !ok {
		st = &deviceState{}
		p.states[deviceID] = st
	}
	st.triggeredAt = p.cfg.Now()
	st.mode = ModeImmediate
}

// IntervalFor returns the delay before the next poll of deviceID.
// State whose window has elapsed is dropped.
func (p *Policy) IntervalFor(deviceID string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[deviceID]
	if !ok {
		return p.cfg.NormalInterval
	}

	mode, interval := p.evaluate(p.cfg.Now().Sub(st.triggeredAt))
	if mode == ModeNormal {
		delete(p.states, deviceID)
		p.logger.Debug("adaptive polling expired", "device_id", deviceID)
		return interval
	}
	st.mode = mode
	return interval
}

// Mode returns the current phase of deviceID without changing state.
func (p *Policy) Mode(deviceID string) Mode {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[deviceID]
	if !ok {
		return ModeNormal
	}
	mode, _ := p.evaluate(p.cfg.Now().Sub(st.triggeredAt))
	return mode
}

// CommandCount returns the number of commands recorded for deviceID.
func (p *Policy) CommandCount(deviceID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[deviceID]
}

// Active returns the number of devices currently polled faster than normal.
func (p *Policy) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// CleanupExpired drops state whose window has elapsed and halves command
// counters above the cap. It returns the number of states dropped.
func (p *Policy) CleanupExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	removed := 0
	for id, st := range p.states {
		if now.Sub(st.triggeredAt) >= p.cfg.Window {
			delete(p.states, id)
			removed++
		}
	}
	for id, n := range p.counts {
		if n > p.cfg.CountCap {
			p.counts[id] = p.cfg.CountCap / 2
		}
	}
	return removed
}

// Run calls CleanupExpired every interval until ctx is cancelled.
func (p *Policy) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.CleanupExpired(); n > 0 {
				p.logger.Debug("adaptive polling states expired", "count", n)
			}
		}
	}
}

// evaluate maps time since the last trigger to a mode and interval.
func (p *Policy) evaluate(elapsed time.Duration) (Mode, time.Duration) {
	c := p.cfg
	switch {
	case elapsed >= c.Window:
		return ModeNormal, c.NormalInterval
	case elapsed < c.ImmediatePhase:
		return ModeImmediate, p.clamp(c.ImmediateInterval)
	case elapsed < c.UltraFastPhase:
		return ModeUltraFast, p.clamp(c.UltraFastInterval)
	}

	span := c.Window - c.UltraFastPhase
	frac := float64(elapsed-c.UltraFastPhase) / float64(span)
	ramp := c.FastInterval + time.Duration(frac*float64(c.NormalInterval-c.FastInterval))
	return ModeFast, p.clamp(ramp)
}

// clamp keeps an interval between the immediate floor and the normal interval.
func (p *Policy) clamp(d time.Duration) time.Duration {
	lo := min(p.cfg.ImmediateInterval, p.cfg.NormalInterval)
	return max(lo, min(d, p.cfg.NormalInterval))
}
