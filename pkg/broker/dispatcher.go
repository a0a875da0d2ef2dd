package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/internal/telemetry"
	"github.com/marmos91/mountd/pkg/metrics"
	"github.com/marmos91/mountd/pkg/service"
)

// DefaultRetryBackoff is the pause before the single in-process retry of a
// transiently failed operation.
const DefaultRetryBackoff = 2 * time.Second

// Operations is the slice of the mount service the dispatcher drives.
// *service.MountService satisfies it.
type Operations interface {
	Mount(ctx context.Context, jobID uint64, targetID, token string) (*service.MountResult, error)
	Unmount(ctx context.Context, jobID uint64, targetID string) (*service.UnmountResult, error)
}

// Config holds the dispatcher's broker settings.
type Config struct {
	// URL is the broker URL. rabbit://, rabbitmq:// and rabbits:// schemes
	// are accepted and normalized; anything else is rejected at construction.
	URL string

	// QueuePrefix prefixes the per-node queue name. Defaults to "dms.ops".
	QueuePrefix string

	// NodeID is the identity this dispatcher serves. Requests carrying a
	// different node_id are rejected without side effects.
	NodeID string

	// RetryBackoff is the pause before retrying a transient failure once.
	// Defaults to DefaultRetryBackoff.
	RetryBackoff time.Duration
}

// Dispatcher consumes the node's request queue and executes mount and
// unmount operations one at a time. Prefetch is pinned to 1 so the broker
// never hands this node a second message while one is in flight; combined
// with the file lock in the service layer this serializes all mount work
// on the node.
type Dispatcher struct {
	cfg     Config
	url     string
	queue   string
	tag     string
	ops     Operations
	metrics *metrics.OpsMetrics

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewDispatcher validates the configuration and returns an unconnected
// dispatcher. A malformed broker URL is a configuration defect and is
// reported here, before the daemon commits to running.
func NewDispatcher(cfg Config, ops Operations, m *metrics.OpsMetrics) (*Dispatcher, error) {
	if ops == nil {
		return nil, fmt.Errorf("dispatcher requires operations")
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("dispatcher requires a node id")
	}
	normalized, err := NormalizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	return &Dispatcher{
		cfg:     cfg,
		url:     normalized,
		queue:   QueueName(cfg.QueuePrefix, cfg.NodeID),
		tag:     "mountd-" + cfg.NodeID,
		ops:     ops,
		metrics: m,
	}, nil
}

// Queue returns the queue name this dispatcher consumes.
func (d *Dispatcher) Queue() string {
	return d.queue
}

// Connect dials the broker, opens a channel and declares the node queue.
// The queue is durable with a one-hour message TTL: requests survive a
// broker restart, but a request nobody consumed within the hour is dropped
// rather than executed long after its job gave up.
func (d *Dispatcher) Connect() error {
	conn, err := amqp.Dial(d.url)
	if err != nil {
		return fmt.Errorf("broker dial %s: %w", SafeURL(d.url), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker qos: %w", err)
	}

	if _, err := ch.QueueDeclare(
		d.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{"x-message-ttl": int32(MessageTTL / time.Millisecond)},
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue %s: %w", d.queue, err)
	}

	d.conn = conn
	d.ch = ch

	logger.Info("connected to broker",
		"url", SafeURL(d.url),
		"queue", d.queue,
		"node_id", d.cfg.NodeID)
	return nil
}

// Run consumes the node queue until ctx is canceled or the connection
// drops. Messages are handled strictly one at a time. On cancellation the
// consumer is canceled first, then any delivery already handed to us is
// finished and acknowledged before Run returns; the message in flight is
// never abandoned halfway through a mount.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.ch == nil {
		return fmt.Errorf("dispatcher is not connected")
	}

	deliveries, err := d.ch.Consume(
		d.queue,
		d.tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", d.queue, err)
	}

	closed := d.conn.NotifyClose(make(chan *amqp.Error, 1))
	logger.Info("dispatcher consuming", "queue", d.queue, "node_id", d.cfg.NodeID)

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatcher stopping", "queue", d.queue)
			if err := d.ch.Cancel(d.tag, false); err != nil {
				logger.Warn("consumer cancel failed", "error", err)
			}
			// Finish whatever the broker already delivered. Shutdown must
			// not abort an operation in progress: a half-done mount leaves
			// the ledger and the kernel disagreeing.
			for delivery := range deliveries {
				d.handle(context.Background(), delivery)
			}
			return nil

		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("broker connection lost: %w", amqpErr)
			}
			return errors.New("broker connection closed")

		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("consume channel closed")
			}
			d.handle(ctx, delivery)
		}
	}
}

// Close tears down the channel and connection. Safe to call after Run
// returns, or on a dispatcher that never connected.
func (d *Dispatcher) Close() error {
	var firstErr error
	if d.ch != nil {
		if err := d.ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.ch = nil
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.conn = nil
	}
	return firstErr
}

// handle processes one delivery end to end: decode, execute, reply, ack.
func (d *Dispatcher) handle(ctx context.Context, delivery amqp.Delivery) {
	reply, deterministic := d.process(ctx, delivery.Body, delivery.CorrelationId, delivery.Redelivered)

	if delivery.ReplyTo != "" && reply != nil {
		if err := d.publishReply(delivery.ReplyTo, delivery.CorrelationId, reply); err != nil {
			logger.ErrorCtx(ctx, "reply publish failed",
				"reply_to", delivery.ReplyTo,
				"correlation_id", delivery.CorrelationId,
				"error", err)
		}
	}

	if deterministic {
		if err := delivery.Ack(false); err != nil {
			logger.ErrorCtx(ctx, "ack failed", "error", err)
		}
	} else {
		if err := delivery.Nack(false, false); err != nil {
			logger.ErrorCtx(ctx, "nack failed", "error", err)
		}
	}
}

// process decodes and executes one request body. It returns the reply to
// publish (nil only when there is nothing useful to say) and whether the
// delivery should be positively acknowledged. Deterministic outcomes,
// including business-level failures, are acked; malformed input and
// wrong-node requests are rejected without requeue.
func (d *Dispatcher) process(ctx context.Context, body []byte, correlationID string, redelivered bool) (*Reply, bool) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		d.metrics.RecordMessage("malformed")
		logger.WarnCtx(ctx, "malformed request body", "error", err)
		return &Reply{
			Success:      false,
			Message:      "malformed request: " + err.Error(),
			ServerNodeID: d.cfg.NodeID,
		}, false
	}

	if err := req.Validate(); err != nil {
		d.metrics.RecordMessage("malformed")
		logger.WarnCtx(ctx, "invalid request", "error", err, "operation", req.Operation)
		return &Reply{
			Success:      false,
			Message:      "invalid request: " + err.Error(),
			ServerNodeID: d.cfg.NodeID,
		}, false
	}

	if req.NodeID != d.cfg.NodeID {
		d.metrics.RecordMessage("wrong_node")
		logger.WarnCtx(ctx, "request for another node",
			"request_node_id", req.NodeID,
			"node_id", d.cfg.NodeID,
			"job_id", req.JobID,
			"target_id", req.TargetID)
		return &Reply{
			Success:       false,
			Message:       fmt.Sprintf("request addressed to node %q but received by node %q", req.NodeID, d.cfg.NodeID),
			ServerNodeID:  d.cfg.NodeID,
			RequestNodeID: req.NodeID,
		}, false
	}

	oc := logger.NewOpContext(req.Operation)
	oc.JobID = req.JobID
	oc.TargetID = req.TargetID
	oc.NodeID = d.cfg.NodeID
	oc.CorrelationID = correlationID
	ctx = logger.WithContext(ctx, oc)

	// The span covers the whole operation; it is passed through the context
	// to the service, drivers and credential fetch below.
	ctx, span := telemetry.StartOpSpan(ctx, req.Operation, req.JobID, req.TargetID,
		telemetry.NodeID(d.cfg.NodeID),
		telemetry.Queue(d.queue),
		telemetry.CorrelationID(correlationID),
		telemetry.Redelivered(redelivered))
	defer span.End()

	start := time.Now()
	reply := d.dispatch(ctx, &req)
	d.metrics.RecordOperation(req.Operation, reply.Success, time.Since(start))
	d.metrics.RecordMessage("handled")

	telemetry.SetAttributes(ctx, telemetry.Success(reply.Success))

	logger.InfoCtx(ctx, "request handled",
		"success", reply.Success,
		"duration_ms", logger.Duration(start))
	return reply, true
}

// dispatch routes a validated request to the mount service and converts
// the result into a wire reply.
func (d *Dispatcher) dispatch(ctx context.Context, req *Request) *Reply {
	switch req.Operation {
	case OpMount:
		res, err := d.mount(ctx, req)
		if err != nil {
			telemetry.RecordError(ctx, err)
			telemetry.SetAttributes(ctx, telemetry.ErrorKind(string(service.KindOf(err))))
			return d.errorReply(err)
		}
		telemetry.SetAttributes(ctx,
			telemetry.Reused(res.ReusedExisting),
			telemetry.Physical(res.PhysicallyMounted))
		return &Reply{
			Success:           true,
			Message:           "mounted",
			MountPath:         res.MountPath,
			ReusedExisting:    &res.ReusedExisting,
			PhysicallyMounted: &res.PhysicallyMounted,
			ServerNodeID:      d.cfg.NodeID,
		}

	default: // OpUnmount; Validate rejected everything else
		res, err := d.unmount(ctx, req)
		if err != nil {
			telemetry.RecordError(ctx, err)
			telemetry.SetAttributes(ctx, telemetry.ErrorKind(string(service.KindOf(err))))
			return d.errorReply(err)
		}
		telemetry.SetAttributes(ctx,
			telemetry.Physical(res.PhysicallyUnmounted),
			telemetry.Remaining(res.Remaining))
		message := "unmounted"
		if res.NoActiveMount {
			message = "no active mount for job"
		} else if !res.PhysicallyUnmounted {
			message = "released, target still in use"
		}
		return &Reply{
			Success:               true,
			Message:               message,
			MountPath:             res.MountPath,
			PhysicallyUnmounted:   &res.PhysicallyUnmounted,
			ActiveMountsRemaining: &res.Remaining,
			ServerNodeID:          d.cfg.NodeID,
		}
	}
}

// mount runs the mount operation, retrying once on a transient failure.
func (d *Dispatcher) mount(ctx context.Context, req *Request) (*service.MountResult, error) {
	res, err := d.ops.Mount(ctx, req.JobID, req.TargetID, req.Token)
	if err != nil && service.KindOf(err).Retryable() {
		logger.WarnCtx(ctx, "transient mount failure, retrying once", "error", err)
		if !d.backoff(ctx) {
			return nil, err
		}
		res, err = d.ops.Mount(ctx, req.JobID, req.TargetID, req.Token)
	}
	return res, err
}

// unmount runs the unmount operation, retrying once on a transient failure.
func (d *Dispatcher) unmount(ctx context.Context, req *Request) (*service.UnmountResult, error) {
	res, err := d.ops.Unmount(ctx, req.JobID, req.TargetID)
	if err != nil && service.KindOf(err).Retryable() {
		logger.WarnCtx(ctx, "transient unmount failure, retrying once", "error", err)
		if !d.backoff(ctx) {
			return nil, err
		}
		res, err = d.ops.Unmount(ctx, req.JobID, req.TargetID)
	}
	return res, err
}

// backoff sleeps for the retry backoff, reporting false if the context
// was canceled first.
func (d *Dispatcher) backoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d.cfg.RetryBackoff):
		return true
	}
}

func (d *Dispatcher) errorReply(err error) *Reply {
	return &Reply{
		Success:      false,
		Message:      err.Error(),
		ServerNodeID: d.cfg.NodeID,
	}
}

// publishReply sends a reply to the caller's queue through the default
// exchange, echoing the request's correlation id.
func (d *Dispatcher) publishReply(replyTo, correlationID string, reply *Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return d.ch.Publish(
		"",      // default exchange
		replyTo, // routed straight to the reply queue
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
}
