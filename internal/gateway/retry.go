package gateway

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/infrastructure/metrics"
)

// DefaultRetryInterval is the pause between rediscovery passes.
const DefaultRetryInterval = 5 * time.Minute

// Discoverer finds and binds the appliance at ip.
type Discoverer func(ctx context.Context, ip string) (*gree.Session, error)

// IdentitySaver persists a newly bound identity.
type IdentitySaver interface {
	Save(ctx context.Context, id gree.Identity) error
}

// RetryCoordinator keeps trying to discover configured devices that were
// not found at startup.
type RetryCoordinator struct {
	discover Discoverer
	store    IdentitySaver
	onFound  func(ctx context.Context, s *gree.Session) error
	interval time.Duration
	metrics  *metrics.Metrics
	logger   Logger

	mu      sync.Mutex
	missing map[string]struct{}
}

// RetryOptions configures a RetryCoordinator.
type RetryOptions struct {
	Discover Discoverer
	Store    IdentitySaver

	// OnFound starts a device once it has been persisted.
	OnFound func(ctx context.Context, s *gree.Session) error

	// Interval between passes. Defaults to DefaultRetryInterval.
	Interval time.Duration

	Metrics *metrics.Metrics
	Logger  Logger
}

// NewRetryCoordinator creates a coordinator with an empty missing set.
func NewRetryCoordinator(opts RetryOptions) *RetryCoordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.OnFound == nil {
		opts.OnFound = func(context.Context, *gree.Session) error { return nil }
	}
	return &RetryCoordinator{
		discover: opts.Discover,
		store:    opts.Store,
		onFound:  opts.OnFound,
		interval: opts.Interval,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		missing:  make(map[string]struct{}),
	}
}

// Add marks ip as missing.
func (r *RetryCoordinator) Add(ip string) {
	r.mu.Lock()
	r.missing[ip] = struct{}{}
	n := len(r.missing)
	r.mu.Unlock()
	r.metrics.SetMissing(n)
}

// Missing returns the missing IPs in sorted order.
func (r *RetryCoordinator) Missing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.missing))
	for ip := range r.missing {
		out = append(out, ip)
	}
	slices.Sort(out)
	return out
}

func (r *RetryCoordinator) remove(ip string) {
	r.mu.Lock()
	delete(r.missing, ip)
	n := len(r.missing)
	r.mu.Unlock()
	r.metrics.SetMissing(n)
}

// Pass attempts every missing IP once and returns how many were found.
// An IP leaves the missing set only after its identity has been saved.
func (r *RetryCoordinator) Pass(ctx context.Context) int {
	found := 0
	for _, ip := range r.Missing() {
		if ctx.Err() != nil {
			return found
		}

		s, err := r.discover(ctx, ip)
		if err != nil {
			r.metrics.Bind(metrics.ResultError)
			r.logger.Debug("device still missing", "ip", ip, "error", err)
			continue
		}
		r.metrics.Bind(metrics.ResultOK)

		if err := r.store.Save(ctx, s.Identity()); err != nil {
			r.logger.Error("saving rediscovered device failed", "ip", ip, "device_id", s.DeviceID(), "error", err)
			continue
		}
		if err := r.onFound(ctx, s); err != nil {
			r.logger.Error("starting rediscovered device failed", "ip", ip, "device_id", s.DeviceID(), "error", err)
		}
		r.remove(ip)
		found++
		r.logger.Info("missing device found", "ip", ip, "device_id", s.DeviceID())
	}
	return found
}

// Run waits one interval between passes and returns once the missing set
// is empty or ctx is cancelled.
func (r *RetryCoordinator) Run(ctx context.Context) error {
	for {
		missing := r.Missing()
		if len(missing) == 0 {
			r.logger.Debug("no missing devices, retry coordinator done")
			return nil
		}
		r.logger.Info("devices missing, retrying later", "ips", missing, "retry_in", r.interval)

		if !sleep(ctx, r.interval) {
			return nil
		}
		r.Pass(ctx)
	}
}
