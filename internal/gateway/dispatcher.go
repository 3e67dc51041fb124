package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/device"
	"github.com/nerrad567/greemqtt/internal/infrastructure/metrics"
	"github.com/nerrad567/greemqtt/internal/polling"
)

// Dispatcher routes inbound command messages to device sessions.
//
// Enqueue is the MQTT handler and never blocks. Workers started with Work
// pull from the queue and apply each command.
type Dispatcher struct {
	registry  *device.Registry
	policy    *polling.Policy
	publisher *statePublisher
	queue     *Queue
	metrics   *metrics.Metrics
	logger    Logger
}

func newDispatcher(reg *device.Registry, policy *polling.Policy, pub *statePublisher, queueSize int, m *metrics.Metrics, logger Logger) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		policy:    policy,
		publisher: pub,
		queue:     NewQueue(queueSize),
		metrics:   m,
		logger:    logger,
	}
}

// Enqueue queues a command message, evicting the oldest pending message
// when the queue is full. Its signature matches mqtt.MessageHandler.
func (d *Dispatcher) Enqueue(topic string, payload []byte) error {
	msg := PendingMessage{Topic: topic, Payload: bytes.Clone(payload)}
	if dropped, evicted := d.queue.Push(msg); evicted {
		d.metrics.Evicted()
		d.logger.Warn("command queue full, dropped oldest message",
			"dropped_topic", dropped.Topic,
			"topic", topic,
			"capacity", d.queue.Cap(),
		)
	}
	d.metrics.SetQueueDepth(d.queue.Len())
	return nil
}

// QueueDepth returns the number of commands waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return d.queue.Len()
}

// Work processes queued commands until ctx is cancelled. Per-message
// failures are logged and do not stop the worker.
func (d *Dispatcher) Work(ctx context.Context) error {
	for {
		msg, err := d.queue.Pop(ctx)
		if err != nil {
			return nil
		}
		d.metrics.SetQueueDepth(d.queue.Len())

		if err := d.Handle(ctx, msg); err != nil && ctx.Err() == nil {
			d.logger.Warn("command failed", "topic", msg.Topic, "error", err)
		}
	}
}

// Handle applies one command: look up the session, send the parameters,
// re-arm adaptive polling, then read back and publish the new state.
// Messages for unknown topics are dropped without error.
func (d *Dispatcher) Handle(ctx context.Context, msg PendingMessage) error {
	s, ok := d.registry.Get(msg.Topic)
	if !ok {
		d.logger.Debug("no device for command topic", "topic", msg.Topic)
		return nil
	}
	id := s.DeviceID()

	params, err := parseCommand(msg.Payload)
	if err != nil {
		d.metrics.Command(id, metrics.ResultError, 0)
		return err
	}

	start := time.Now()
	ack, err := s.SetParams(ctx, params)
	took := time.Since(start)
	switch {
	case err != nil:
		d.metrics.Command(id, metrics.ResultError, took)
		return fmt.Errorf("sending command to %s: %w", id, err)
	case ack == nil:
		d.metrics.Command(id, metrics.ResultTimeout, took)
		d.logger.Warn("device did not acknowledge command", "device_id", id)
	default:
		d.metrics.Command(id, metrics.ResultOK, took)
		d.logger.Info("command applied", "device_id", id, "params", params.Keys())
	}

	d.policy.Trigger(id)
	d.policy.ForceImmediate(id)

	state, err := s.GetState(ctx)
	if err != nil {
		return fmt.Errorf("reading state after command to %s: %w", id, err)
	}
	if state == nil {
		return nil
	}
	if _, err := d.publisher.observe(ctx, s, state); err != nil {
		return err
	}
	return nil
}

// parseCommand decodes a command payload into parameters.
func parseCommand(payload []byte) (gree.Params, error) {
	var params gree.Params
	if err := json.Unmarshal(payload, &params); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%w: invalid JSON at offset %d", ErrMessageFormat, syntaxErr.Offset)
		}
		return nil, fmt.Errorf("%w: %w", ErrMessageFormat, err)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no parameters", ErrMessageFormat)
	}
	return params, nil
}
