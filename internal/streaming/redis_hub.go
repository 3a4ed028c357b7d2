package streaming

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultRedisPrefix namespaces the Redis pub/sub channels.
const DefaultRedisPrefix = "nodeflow:status:"

// RedisHub is an EventHub over Redis pub/sub, for deployments where runs
// and subscribers live in different processes.
type RedisHub struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisHub creates a hub publishing under prefix.
func NewRedisHub(client *redis.Client, prefix string, logger *slog.Logger) *RedisHub {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisHub{client: client, prefix: prefix, logger: logger}
}

func (h *RedisHub) Publish(ctx context.Context, event StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeNonRetryable, "encode status event: %s", err.Error()).WithCause(err)
	}
	if err := h.client.Publish(ctx, h.prefix+event.Channel, payload).Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "publish status event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// Subscribe listens on filter.Channel, or on every status channel when
// the filter names none.
func (h *RedisHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	var ps *redis.PubSub
	if filter.Channel != "" {
		ps = h.client.Subscribe(ctx, h.prefix+filter.Channel)
	} else {
		ps = h.client.PSubscribe(ctx, h.prefix+"*")
	}
	// Wait for the subscription to be confirmed so no event published
	// after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, schema.NewErrorf(schema.ErrCodeExecution, "subscribe: %s", err.Error()).WithCause(err)
	}

	out := make(chan StreamEvent, defaultChannelBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev StreamEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.logger.Warn("dropping malformed status event", "channel", msg.Channel, "error", err)
					continue
				}
				if !matchFilter(filter, ev) {
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
