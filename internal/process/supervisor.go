package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle state of a supervised task.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
)

// ErrStopped is returned by Go after Stop has been called.
var ErrStopped = errors.New("process: supervisor stopped")

// Task is a unit of supervised work. It must return when ctx is cancelled.
type Task func(ctx context.Context) error

// Middleware wraps a task. name identifies the task in logs.
type Middleware func(name string, next Task) Task

// Logger defines the logging interface for the process package.
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

// TaskInfo describes one supervised task.
type TaskInfo struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

type handle struct {
	info TaskInfo
	done chan struct{}
}

// Supervisor owns a set of goroutines sharing one cancellation signal.
// A failed task is recorded and logged; its siblings keep running.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger Logger

	group    errgroup.Group
	stopOnce sync.Once

	mu      sync.Mutex
	tasks   []*handle
	stopped bool
}

// NewSupervisor creates a supervisor whose tasks are cancelled when parent
// is cancelled or Stop is called. logger may be nil.
func NewSupervisor(parent context.Context, logger Logger) *Supervisor {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, logger: logger}
}

// Context is cancelled when the supervisor stops.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Go starts task in a new goroutine, wrapped by middleware in order
// (the first middleware is outermost).
func (s *Supervisor) Go(name string, task Task, middleware ...Middleware) error {
	for i := len(middleware) - 1; i >= 0; i-- {
		task = middleware[i](name, task)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start %s", ErrStopped, name)
	}
	h := &handle{
		info: TaskInfo{Name: name, Status: StatusRunning, StartedAt: time.Now()},
		done: make(chan struct{}),
	}
	s.tasks = append(s.tasks, h)
	s.mu.Unlock()

	s.logger.Debug("task started", "task", name)

	s.group.Go(func() error {
		defer close(h.done)
		err := s.run(name, task)

		s.mu.Lock()
		h.info.StoppedAt = time.Now()
		h.info.Status = StatusStopped
		if err != nil {
			h.info.Status = StatusFailed
			h.info.Error = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("task failed", "task", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		s.logger.Debug("task stopped", "task", name)
		return nil
	})
	return nil
}

// run executes task, converting panics into errors and dropping
// cancellation errors raised by shutdown.
func (s *Supervisor) run(name string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", name, r)
		}
	}()

	err = task(s.ctx)
	if err != nil && s.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Tasks returns a snapshot of every task started so far.
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, len(s.tasks))
	for i, h := range s.tasks {
		out[i] = h.info
	}
	return out
}

// Running returns the number of tasks that have not returned.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.tasks {
		if h.info.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Wait blocks until every task has returned and reports the first failure.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}

// Stop cancels every task and waits for them to return. Safe to call
// more than once.
func (s *Supervisor) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		running := 0
		for _, h := range s.tasks {
			if h.info.Status == StatusRunning {
				running++
			}
		}
		s.mu.Unlock()

		s.logger.Info("stopping tasks", "running", running)
		s.cancel()
		err = s.group.Wait()
	})
	return err
}
