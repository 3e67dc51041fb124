package polling

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPolicy(clock *fakeClock) *Policy {
	return New(Config{
		NormalInterval: 4 * time.Second,
		FastInterval:   1 * time.Second,
		Window:         45 * time.Second,
		Now:            clock.Now,
	})
}

func TestIntervalForUntriggeredDevice(t *testing.T) {
	p := newTestPolicy(newFakeClock())
	if got := p.IntervalFor("dev1"); got != 4*time.Second {
		t.Errorf("IntervalFor() = %v, want 4s", got)
	}
	if got := p.Mode("dev1"); got != ModeNormal {
		t.Errorf("Mode() = %v, want normal", got)
	}
}

func TestIntervalForPhases(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		want     time.Duration
		wantMode Mode
	}{
		{"right after trigger", 0, 100 * time.Millisecond, ModeImmediate},
		{"end of immediate phase", 2999 * time.Millisecond, 100 * time.Millisecond, ModeImmediate},
		{"ultra fast", 3 * time.Second, 300 * time.Millisecond, ModeUltraFast},
		{"end of ultra fast", 14 * time.Second, 300 * time.Millisecond, ModeUltraFast},
		{"start of ramp", 15 * time.Second, 1 * time.Second, ModeFast},
		{"middle of ramp", 30 * time.Second, 2500 * time.Millisecond, ModeFast},
		{"window elapsed", 45 * time.Second, 4 * time.Second, ModeNormal},
		{"long after window", 10 * time.Minute, 4 * time.Second, ModeNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			p := newTestPolicy(clock)
			p.Trigger("dev1")
			clock.Advance(tt.elapsed)

			if got := p.Mode("dev1"); got != tt.wantMode {
				t.Errorf("Mode() = %v, want %v", got, tt.wantMode)
			}
			if got := p.IntervalFor("dev1"); got != tt.want {
				t.Errorf("IntervalFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntervalForExpiryClearsState(t *testing.T) {
	clock := newFakeClock()
	p := newTestPolicy(clock)
	p.Trigger("dev1")
	clock.Advance(46 * time.Second)

	if got := p.IntervalFor("dev1"); got != 4*time.Second {
		t.Errorf("IntervalFor() = %v, want 4s", got)
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d, want 0", p.Active())
	}
}

func TestIntervalBounds(t *testing.T) {
	clock := newFakeClock()
	p := newTestPolicy(clock)
	p.Trigger("dev1")

	for elapsed := time.Duration(0); elapsed < 50*time.Second; elapsed += 250 * time.Millisecond {
		got := p.IntervalFor("dev1")
		if got < 100*time.Millisecond || got > 4*time.Second {
			t.Fatalf("IntervalFor() at %v = %v, outside [100ms, 4s]", elapsed, got)
		}
		clock.Advance(250 * time.Millisecond)
		p.ForceImmediate("dev2")
	}
}

func TestForceImmediateRearms(t *testing.T) {
	clock := newFakeClock()
	p := newTestPolicy(clock)
	p.Trigger("dev1")
	clock.Advance(20 * time.Second)

	p.ForceImmediate("dev1")
	if got := p.IntervalFor("dev1"); got != 100*time.Millisecond {
		t.Errorf("IntervalFor() = %v, want 100ms", got)
	}
	if got := p.CommandCount("dev1"); got != 1 {
		t.Errorf("CommandCount() = %d, want 1", got)
	}
}

func TestForceImmediateWithoutTrigger(t *testing.T) {
	p := newTestPolicy(newFakeClock())
	p.ForceImmediate("dev1")
	if got := p.IntervalFor("dev1"); got != 100*time.Millisecond {
		t.Errorf("IntervalFor() = %v, want 100ms", got)
	}
	if got := p.CommandCount("dev1"); got != 0 {
		t.Errorf("CommandCount() = %d, want 0", got)
	}
}

func TestCleanupExpired(t *testing.T) {
	clock := newFakeClock()
	p := newTestPolicy(clock)
	p.Trigger("old")
	clock.Advance(30 * time.Second)
	p.Trigger("new")
	clock.Advance(20 * time.Second)

	if removed := p.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", removed)
	}
	if p.Mode("old") != ModeNormal {
		t.Error("expired state survived cleanup")
	}
	if p.Mode("new") != ModeFast {
		t.Errorf("Mode(new) = %v, want fast", p.Mode("new"))
	}
	if p.CommandCount("old") != 1 {
		t.Error("cleanup dropped the command counter")
	}
}

func TestCleanupDownsizesCounters(t *testing.T) {
	clock := newFakeClock()
	p := New(Config{CountCap: 10, Now: clock.Now})
	for i := 0; i < 11; i++ {
		p.Trigger("dev1")
	}
	for i := 0; i < 10; i++ {
		p.Trigger("dev2")
	}

	p.CleanupExpired()

	if got := p.CommandCount("dev1"); got != 5 {
		t.Errorf("CommandCount(dev1) = %d, want 5", got)
	}
	if got := p.CommandCount("dev2"); got != 10 {
		t.Errorf("CommandCount(dev2) = %d, want 10", got)
	}
}

func TestDefaultsClampFastInterval(t *testing.T) {
	p := New(Config{NormalInterval: 500 * time.Millisecond, FastInterval: 2 * time.Second})
	if p.cfg.FastInterval != 500*time.Millisecond {
		t.Errorf("FastInterval = %v, want clamped to 500ms", p.cfg.FastInterval)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	p := New(Config{CountCap: 1 << 20})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Trigger("dev1")
				p.ForceImmediate("dev1")
				_ = p.IntervalFor("dev1")
				p.CleanupExpired()
			}
		}()
	}
	wg.Wait()

	if got := p.CommandCount("dev1"); got != 2000 {
		t.Errorf("CommandCount() = %d, want 2000", got)
	}
}
