// Package client is the caller side of the mount protocol: it publishes
// mount and unmount requests to a node's queue and waits for the reply.
// Job runners embed it to claim a backup target for the duration of their
// work.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/pkg/broker"
	"github.com/marmos91/mountd/pkg/service"
)

// DefaultTimeout bounds a synchronous call end to end. Mounts can be slow
// (hard NFS mounts retry inside the kernel), so the default is generous.
const DefaultTimeout = 300 * time.Second

// ErrTimeout is returned when no reply arrived within the call timeout.
// The server side of the operation may still be running.
var ErrTimeout = errors.New("timed out waiting for reply")

// Config holds the client's broker settings.
type Config struct {
	// URL is the broker URL, same schemes as the daemon accepts.
	URL string

	// NodeID names the daemon whose queue receives the requests.
	// Defaults to the local hostname.
	NodeID string

	// QueuePrefix must match the daemon's. Defaults to "dms.ops".
	QueuePrefix string

	// Timeout bounds each synchronous call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Client publishes requests to one node's queue and consumes replies from
// a private callback queue. Calls are serialized: a Client carries one
// callback consumer, so concurrent use from many goroutines queues behind
// a mutex rather than interleaving correlation ids.
type Client struct {
	cfg      Config
	queue    string
	conn     *amqp.Connection
	ch       *amqp.Channel
	replies  <-chan amqp.Delivery
	callback string

	mu sync.Mutex
}

// New dials the broker and prepares both queues: the node's request queue
// (declared with the same durability and TTL as the daemon uses, so either
// side can start first) and an exclusive auto-delete callback queue for
// replies.
func New(cfg Config) (*Client, error) {
	url, err := broker.NormalizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.NodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("node id not set and hostname unavailable: %w", err)
		}
		cfg.NodeID = hostname
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker dial %s: %w", broker.SafeURL(url), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker channel: %w", err)
	}

	queue := broker.QueueName(cfg.QueuePrefix, cfg.NodeID)
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{"x-message-ttl": int32(broker.MessageTTL / time.Millisecond)},
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	callbackQueue, err := ch.QueueDeclare(
		"",    // broker-assigned name
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare callback queue: %w", err)
	}

	replies, err := ch.Consume(
		callbackQueue.Name,
		"",    // broker-assigned consumer tag
		true,  // autoAck: replies are best effort, a lost one times out
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consume callback queue: %w", err)
	}

	return &Client{
		cfg:      cfg,
		queue:    queue,
		conn:     conn,
		ch:       ch,
		replies:  replies,
		callback: callbackQueue.Name,
	}, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	var firstErr error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}
	return firstErr
}

// Mount asks the node to mount targetID on behalf of jobID and waits for
// the reply. A reply with Success=false is returned without error: the
// call worked, the operation did not.
func (c *Client) Mount(ctx context.Context, jobID uint64, targetID, token string) (*broker.Reply, error) {
	return c.call(ctx, &broker.Request{
		Operation: broker.OpMount,
		JobID:     jobID,
		TargetID:  targetID,
		Token:     token,
		NodeID:    c.cfg.NodeID,
	})
}

// Unmount releases jobID's claim on targetID and waits for the reply.
func (c *Client) Unmount(ctx context.Context, jobID uint64, targetID string) (*broker.Reply, error) {
	return c.call(ctx, &broker.Request{
		Operation: broker.OpUnmount,
		JobID:     jobID,
		TargetID:  targetID,
		NodeID:    c.cfg.NodeID,
	})
}

// MountAsync publishes a mount request without waiting for a reply.
func (c *Client) MountAsync(ctx context.Context, jobID uint64, targetID, token string) error {
	return c.publish(&broker.Request{
		Operation: broker.OpMount,
		JobID:     jobID,
		TargetID:  targetID,
		Token:     token,
		NodeID:    c.cfg.NodeID,
	}, uuid.New().String(), "")
}

// UnmountAsync publishes an unmount request without waiting for a reply.
func (c *Client) UnmountAsync(ctx context.Context, jobID uint64, targetID string) error {
	return c.publish(&broker.Request{
		Operation: broker.OpUnmount,
		JobID:     jobID,
		TargetID:  targetID,
		NodeID:    c.cfg.NodeID,
	}, uuid.New().String(), "")
}

// call publishes the request and waits for its correlated reply.
func (c *Client) call(ctx context.Context, req *broker.Request) (*broker.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	correlationID := uuid.New().String()
	if err := c.publish(req, correlationID, c.callback); err != nil {
		return nil, fmt.Errorf("publish %s request: %w", req.Operation, err)
	}

	logger.Debug("request published",
		"operation", req.Operation,
		"job_id", req.JobID,
		"target_id", req.TargetID,
		"queue", c.queue,
		"correlation_id", correlationID)

	reply, err := awaitReply(ctx, c.replies, correlationID)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, &service.OpError{
				Kind:     service.KindTimeout,
				Op:       req.Operation,
				TargetID: req.TargetID,
				JobID:    req.JobID,
				Err:      err,
			}
		}
		return nil, err
	}
	return reply, nil
}

// publish sends one request to the node queue. Requests are persistent so
// they survive a broker restart while the daemon is down.
func (c *Client) publish(req *broker.Request, correlationID, replyTo string) error {
	if req.Timestamp == "" {
		req.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.ch.Publish(
		"",      // default exchange
		c.queue, // routed straight to the node queue
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			ReplyTo:       replyTo,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			Headers:       amqp.Table{"node_id": req.NodeID},
			Body:          body,
		},
	)
}

// awaitReply reads deliveries until one matches the correlation id or the
// context expires. Replies with a foreign correlation id are stale: they
// answer an earlier call that already timed out, and are dropped.
func awaitReply(ctx context.Context, deliveries <-chan amqp.Delivery, correlationID string) (*broker.Reply, error) {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return nil, errors.New("reply channel closed")
			}
			if d.CorrelationId != correlationID {
				logger.Debug("dropping stale reply", "correlation_id", d.CorrelationId)
				continue
			}
			var reply broker.Reply
			if err := json.Unmarshal(d.Body, &reply); err != nil {
				return nil, fmt.Errorf("malformed reply: %w", err)
			}
			return &reply, nil
		}
	}
}
