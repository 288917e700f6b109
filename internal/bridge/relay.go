// Package bridge mirrors realtime traffic and connection status to Redis
// pub/sub so other local services can follow the session.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/matchline/internal/config"
	"github.com/rickgao/matchline/internal/router"
	"github.com/rickgao/matchline/internal/status"
)

// StatusChannel is the channel suffix carrying connection status.
const StatusChannel = "status"

// Publisher publishes to a Redis channel. *redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NewClient creates a Redis client from config.
func NewClient(cfg config.BridgeConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// envelope wraps a relayed event with the originating instance ID.
type envelope struct {
	InstanceID string    `json:"instance_id"`
	Kind       string    `json:"kind"`
	Payload    any       `json:"payload"`
	At         time.Time `json:"at"`
}

type outbound struct {
	channel string
	env     envelope
}

// Stats counts relay activity.
type Stats struct {
	Published int64
	Dropped   int64 // Events discarded because the queue was full
	Errors    int64 // Publish or marshal failures
}

// RedisRelay is both a router.Handler and a status observer. Handlers only
// enqueue; Run does the network I/O.
type RedisRelay struct {
	client     Publisher
	prefix     string
	instanceID string
	queue      chan outbound
	logger     *slog.Logger
	now        func() time.Time

	published atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
}

// NewRedisRelay creates a relay publishing under prefix.
func NewRedisRelay(client Publisher, prefix string, queueSize int, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize < 1 {
		queueSize = config.DefaultBridgeQueueSize
	}
	return &RedisRelay{
		client:     client,
		prefix:     prefix,
		instanceID: uuid.New().String(),
		queue:      make(chan outbound, queueSize),
		logger:     logger.With("component", "redis-relay"),
		now:        time.Now,
	}
}

// InstanceID identifies this process in published envelopes.
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

// Handle relays a validated inbound message on <prefix><kind>.
func (r *RedisRelay) Handle(kind router.Kind, payload any) {
	r.enqueue(string(kind), string(kind), payload)
}

// ObserveStatus relays a status transition on <prefix>status.
func (r *RedisRelay) ObserveStatus(s status.Status) {
	r.enqueue(StatusChannel, StatusChannel, s)
}

func (r *RedisRelay) enqueue(channel, kind string, payload any) {
	item := outbound{
		channel: r.prefix + channel,
		env: envelope{
			InstanceID: r.instanceID,
			Kind:       kind,
			Payload:    payload,
			At:         r.now().UTC(),
		},
	}

	select {
	case r.queue <- item:
	default:
		r.dropped.Add(1)
		r.logger.Warn("relay queue full, dropping event", "channel", item.channel)
	}
}

// Run publishes queued events until ctx is cancelled. Events still queued
// at cancellation are discarded.
func (r *RedisRelay) Run(ctx context.Context) error {
	r.logger.Info("redis relay started", "instance_id", r.instanceID, "prefix", r.prefix)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("redis relay stopped", "pending", len(r.queue))
			return nil
		case item := <-r.queue:
			r.publish(ctx, item)
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, item outbound) {
	data, err := json.Marshal(item.env)
	if err != nil {
		r.errors.Add(1)
		r.logger.Error("marshal relay envelope", "error", err, "channel", item.channel)
		return
	}
	if err := r.client.Publish(ctx, item.channel, data).Err(); err != nil {
		r.errors.Add(1)
		r.logger.Warn("redis publish failed", "error", err, "channel", item.channel)
		return
	}
	r.published.Add(1)
}

// Stats returns relay counters.
func (r *RedisRelay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Errors:    r.errors.Load(),
	}
}
