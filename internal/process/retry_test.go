package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingLogger captures Warn calls.
type recordingLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, BaseDelay: time.Millisecond, Factor: 2}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	task := Retry(fastPolicy(3), nil)("flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	if err := task(context.Background()); err != nil {
		t.Fatalf("task() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	logger := &recordingLogger{}
	broken := errors.New("broker unreachable")
	calls := 0
	task := Retry(fastPolicy(4), logger)("subscribe", func(context.Context) error {
		calls++
		return broken
	})

	err := task(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, broken) {
		t.Fatalf("task() error = %v, want ErrRetriesExhausted wrapping the cause", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if len(logger.warns) != 3 {
		t.Errorf("retry warnings = %d, want 3", len(logger.warns))
	}
}

func TestRetryStopsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	task := Retry(RetryPolicy{Attempts: 10, BaseDelay: time.Hour}, nil)("poll", func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection closed")
	})

	done := make(chan error, 1)
	go func() { done <- task(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("task() error = %v, want nil during shutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry kept waiting after shutdown")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryAttemptsAtLeastOne(t *testing.T) {
	calls := 0
	task := Retry(RetryPolicy{}, nil)("once", func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	_ = task(context.Background())
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNewBackOffDoubles(t *testing.T) {
	b := RetryPolicy{BaseDelay: 100 * time.Millisecond, Factor: 2, MaxDelay: 350 * time.Millisecond}.NewBackOff()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("NextBackOff() #%d = %v, want %v", i, got, w)
		}
	}
}
