package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/infrastructure/metrics"
	"github.com/nerrad567/greemqtt/internal/polling"
	"github.com/nerrad567/greemqtt/internal/process"
)

// defaultErrorBaseDelay is the first backoff step after a failed poll.
const defaultErrorBaseDelay = 500 * time.Millisecond

// Poller reads one device's state on the adaptive schedule and publishes
// changes.
type Poller struct {
	session   *gree.Session
	policy    *polling.Policy
	publisher *statePublisher
	errorBase time.Duration
	metrics   *metrics.Metrics
	logger    Logger

	consecutiveErrors atomic.Int64
	lastSuccess       atomic.Int64
}

func newPoller(s *gree.Session, policy *polling.Policy, pub *statePublisher, errorBase time.Duration, m *metrics.Metrics, logger Logger) *Poller {
	if errorBase <= 0 {
		errorBase = defaultErrorBaseDelay
	}
	return &Poller{
		session:   s,
		policy:    policy,
		publisher: pub,
		errorBase: errorBase,
		metrics:   m,
		logger:    logger,
	}
}

// ConsecutiveErrors returns the number of failed polls since the last success.
func (p *Poller) ConsecutiveErrors() int64 {
	return p.consecutiveErrors.Load()
}

// LastSuccess returns the time of the last successful state read.
func (p *Poller) LastSuccess() time.Time {
	n := p.lastSuccess.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	id := p.session.DeviceID()
	p.logger.Info("polling started", "device_id", id, "interval", p.policy.NormalInterval())

	var errBackoff *backoff.ExponentialBackOff
	for {
		start := time.Now()
		state, err := p.session.GetState(ctx)
		took := time.Since(start)
		if ctx.Err() != nil {
			p.logger.Debug("polling stopped", "device_id", id)
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil:
			interval := p.policy.IntervalFor(id)
			if errBackoff == nil {
				errBackoff = process.RetryPolicy{BaseDelay: p.errorBase, Factor: 2}.NewBackOff()
			}
			errBackoff.MaxInterval = interval
			wait = min(errBackoff.NextBackOff(), interval)

			n := p.consecutiveErrors.Add(1)
			p.metrics.Poll(id, metrics.ResultError, took)
			p.logger.Warn("polling failed",
				"device_id", id,
				"error", err,
				"consecutive_errors", n,
				"retry_in", wait,
			)

		case state == nil:
			wait = p.policy.NormalInterval()
			p.metrics.Poll(id, metrics.ResultTimeout, took)
			p.logger.Debug("device did not answer", "device_id", id)

		default:
			if n := p.consecutiveErrors.Swap(0); n > 0 {
				p.logger.Info("polling recovered", "device_id", id, "after_errors", n)
			}
			errBackoff = nil
			p.lastSuccess.Store(time.Now().UnixNano())
			p.metrics.Poll(id, metrics.ResultOK, took)

			if _, err := p.publisher.observe(ctx, p.session, state); err != nil {
				p.logger.Warn("state publish failed", "device_id", id, "error", err)
			}
			wait = p.policy.IntervalFor(id)
		}

		if !sleep(ctx, wait) {
			p.logger.Debug("polling stopped", "device_id", id)
			return nil
		}
	}
}

// sleep waits for d or until ctx is cancelled, reporting false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
