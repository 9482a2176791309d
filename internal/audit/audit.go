// Package audit emits audit events for mutating admin actions. The events
// are consumed and stored by an external audit collector; this service's
// responsibility ends at enqueueing them.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"lenspay/internal/logger"
)

type Event struct {
	Actor  string      `json:"actor"`
	Action string      `json:"action"`
	Target string      `json:"target"`
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
	At     time.Time   `json:"at"`
}

type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// RedisEmitter queues audit events onto a redis list for the external
// collector. Enqueue failures are logged and swallowed so an audit outage
// never blocks an admin action.
type RedisEmitter struct {
	redis    *redis.Client
	queueKey string
}

func NewRedisEmitter(addr, queueKey string) *RedisEmitter {
	return &RedisEmitter{
		redis: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		queueKey: queueKey,
	}
}

// NewRedisEmitterWithClient is used by tests to inject a mock client.
func NewRedisEmitterWithClient(client *redis.Client, queueKey string) *RedisEmitter {
	return &RedisEmitter{redis: client, queueKey: queueKey}
}

func (e *RedisEmitter) Emit(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("Failed to marshal audit event: %v", err)
		return
	}

	if err := e.redis.LPush(ctx, e.queueKey, data).Err(); err != nil {
		logger.Error("Failed to queue audit event",
			"action", event.Action,
			"target", event.Target,
			"error", err.Error(),
		)
		return
	}

	logger.Debug("Audit event queued", "action", event.Action, "target", event.Target)
}

func (e *RedisEmitter) Close() error {
	return e.redis.Close()
}

// LogEmitter writes audit events to the application log. Used when no redis
// address is configured (local development).
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event Event) {
	logger.Info("audit",
		"actor", event.Actor,
		"action", event.Action,
		"target", event.Target,
	)
}
