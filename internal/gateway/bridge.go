package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/device"
	"github.com/nerrad567/greemqtt/internal/infrastructure/config"
	"github.com/nerrad567/greemqtt/internal/infrastructure/metrics"
	"github.com/nerrad567/greemqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/greemqtt/internal/polling"
	"github.com/nerrad567/greemqtt/internal/process"
)

// discoveryConcurrency bounds parallel startup discoveries.
const discoveryConcurrency = 4

// Options configures a Bridge.
type Options struct {
	// Config is the loaded configuration. Required.
	Config *config.Config

	// Broker publishes state and delivers commands. Required.
	Broker Broker

	// Store holds device identities. Required.
	Store device.Repository

	// Transport reaches the appliances. Defaults to UDP.
	Transport gree.Transport

	// History records published states. Optional.
	History HistoryWriter

	// Metrics records bridge activity. Optional.
	Metrics *metrics.Metrics

	// Logger receives bridge logs. Optional.
	Logger Logger
}

// Bridge is the composition root tying appliances to MQTT.
type Bridge struct {
	cfg       *config.Config
	broker    Broker
	store     device.Repository
	transport gree.Transport
	metrics   *metrics.Metrics
	logger    Logger
	topics    mqtt.Topics

	registry    *device.Registry
	policy      *polling.Policy
	cache       *stateCache
	publisher   *statePublisher
	dispatcher  *Dispatcher
	retry       *RetryCoordinator
	retryPolicy process.RetryPolicy

	mu        sync.Mutex
	sup       *process.Supervisor
	sessions  map[string]*gree.Session
	pollers   map[string]*Poller
	startedAt time.Time
}

// New wires the bridge components. Nothing runs until Start.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if opts.Broker == nil {
		return nil, errors.New("gateway: broker is required")
	}
	if opts.Store == nil {
		return nil, errors.New("gateway: device store is required")
	}
	if opts.Transport == nil {
		opts.Transport = gree.NewUDPTransport()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	cfg := opts.Config
	b := &Bridge{
		cfg:       cfg,
		broker:    opts.Broker,
		store:     opts.Store,
		transport: opts.Transport,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		topics:    mqtt.NewTopics(cfg.MQTT.TopicBase),
		registry:  device.NewRegistry(),
		cache:     newStateCache(),
		sessions:  make(map[string]*gree.Session),
		pollers:   make(map[string]*Poller),
		retryPolicy: process.RetryPolicy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay,
			Factor:    cfg.Retry.BackoffFactor,
		},
	}

	b.policy = polling.New(polling.Config{
		NormalInterval: cfg.Polling.UpdateInterval,
		FastInterval:   cfg.Polling.FastInterval,
		Window:         cfg.Polling.AdaptiveWindow,
	})
	b.policy.SetLogger(b.logger)

	b.publisher = &statePublisher{
		broker:  b.broker,
		qos:     byte(cfg.MQTT.QoS),
		retain:  cfg.MQTT.Retain,
		cache:   b.cache,
		seen:    b.store,
		history: opts.History,
		metrics: b.metrics,
		logger:  b.logger,
		now:     time.Now,
	}

	b.dispatcher = newDispatcher(b.registry, b.policy, b.publisher, cfg.Dispatch.QueueSize, b.metrics, b.logger)

	b.retry = NewRetryCoordinator(RetryOptions{
		Discover: b.discover,
		Store:    b.store,
		OnFound:  b.startDevice,
		Interval: cfg.Retry.Interval,
		Metrics:  b.metrics,
		Logger:   b.logger,
	})

	return b, nil
}

// Dispatcher returns the command dispatcher.
func (b *Bridge) Dispatcher() *Dispatcher {
	return b.dispatcher
}

// Policy returns the adaptive polling policy.
func (b *Bridge) Policy() *polling.Policy {
	return b.policy
}

// Start launches the background tasks, reconciles configured devices with
// the store and starts every device it can reach. Devices that cannot be
// reached are handed to the retry coordinator.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.sup != nil {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	sup := process.NewSupervisor(ctx, b.logger)
	b.sup = sup
	b.startedAt = time.Now()
	b.mu.Unlock()

	cleanup := b.cfg.Polling.CleanupInterval
	if err := sup.Go("adaptive-cleanup", func(ctx context.Context) error {
		return b.policy.Run(ctx, cleanup)
	}); err != nil {
		return err
	}

	workers := max(b.cfg.Dispatch.Workers, 1)
	for i := range workers {
		if err := sup.Go(fmt.Sprintf("dispatch-worker-%d", i+1), b.dispatcher.Work); err != nil {
			return err
		}
	}

	b.reconcile(sup.Context())

	if err := sup.Go("retry-coordinator", b.retry.Run); err != nil {
		return err
	}
	if err := sup.Go("health-reporter", b.reportHealth); err != nil {
		return err
	}

	b.logger.Info("bridge started",
		"configured", len(b.cfg.Network.Devices),
		"started", b.sessionCount(),
		"missing", len(b.retry.Missing()),
	)
	return nil
}

// Stop releases the command subscriptions, then cancels every task and
// waits for them to exit.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	sup := b.sup
	b.mu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}

	for _, s := range b.registry.Sessions() {
		topic := s.CommandTopic()
		b.registry.Unregister(topic)
		if err := b.broker.Unsubscribe(topic); err != nil {
			b.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	b.metrics.SetBound(0)

	err := sup.Stop()
	b.logger.Info("bridge stopped")
	return err
}

func (b *Bridge) sessionOptions() gree.SessionOptions {
	return gree.SessionOptions{
		Transport:     b.transport,
		Port:          b.cfg.Network.UDPPort,
		Timeout:       b.cfg.Network.Timeout,
		TopicBase:     b.topics.Base,
		TrackedParams: b.cfg.Polling.TrackedParams,
		Logger:        b.logger,
	}
}

func (b *Bridge) discover(ctx context.Context, ip string) (*gree.Session, error) {
	return gree.Discover(ctx, ip, b.sessionOptions())
}

// reconcile starts stored devices directly and discovers the rest.
func (b *Bridge) reconcile(ctx context.Context) {
	stored, err := b.store.GetAll(ctx)
	if err != nil {
		b.logger.Warn("loading stored devices failed, discovering all", "error", err)
	}
	byIP := make(map[string]gree.Identity, len(stored))
	for _, id := range stored {
		if id.Key != "" {
			byIP[id.IP] = id
		}
	}

	var g errgroup.Group
	g.SetLimit(discoveryConcurrency)

	seen := make(map[string]bool, len(b.cfg.Network.Devices))
	for _, ip := range b.cfg.Network.Devices {
		if seen[ip] {
			continue
		}
		seen[ip] = true

		if id, ok := byIP[ip]; ok {
			b.logger.Info("using stored device", "device_id", id.DeviceID, "ip", ip)
			if err := b.startDevice(ctx, gree.NewSession(id, b.sessionOptions())); err != nil {
				b.logger.Error("starting stored device failed", "device_id", id.DeviceID, "error", err)
			}
			continue
		}

		g.Go(func() error {
			b.discoverAndStart(ctx, ip)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bridge) discoverAndStart(ctx context.Context, ip string) {
	s, err := b.discover(ctx, ip)
	if err != nil {
		b.metrics.Bind(metrics.ResultError)
		b.logger.Warn("device not found, will retry", "ip", ip, "error", err)
		b.retry.Add(ip)
		return
	}
	b.metrics.Bind(metrics.ResultOK)

	if err := b.store.Save(ctx, s.Identity()); err != nil {
		b.logger.Error("saving device failed, will retry", "ip", ip, "device_id", s.DeviceID(), "error", err)
		b.retry.Add(ip)
		return
	}
	if err := b.startDevice(ctx, s); err != nil {
		b.logger.Error("starting device failed", "device_id", s.DeviceID(), "error", err)
	}
}

// startDevice synchronises the device clock, starts its poller and
// subscribes to its command topic. The session is routable once the
// subscription succeeds.
func (b *Bridge) startDevice(ctx context.Context, s *gree.Session) error {
	b.mu.Lock()
	sup := b.sup
	b.mu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}

	id := s.DeviceID()
	s.SynchronizeTime(ctx)

	p := newPoller(s, b.policy, b.publisher, b.cfg.Polling.ErrorBaseDelay, b.metrics, b.logger)
	b.mu.Lock()
	b.sessions[id] = s
	b.pollers[id] = p
	b.mu.Unlock()

	if err := sup.Go("poll:"+id, p.Run); err != nil {
		return err
	}

	topic := s.CommandTopic()
	qos := byte(b.cfg.MQTT.QoS)
	return sup.Go("subscribe:"+id, func(ctx context.Context) error {
		if err := b.broker.Subscribe(topic, qos, b.dispatcher.Enqueue); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		b.registry.Register(topic, s)
		b.metrics.SetBound(b.registry.Len())
		b.logger.Info("device ready", "device_id", id, "ip", s.Identity().IP, "topic", topic)
		return nil
	}, process.Retry(b.retryPolicy, b.logger))
}

func (b *Bridge) sessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
