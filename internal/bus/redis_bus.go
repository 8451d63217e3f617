package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blackforestdev/njord-quant-sub000/internal/config"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
)

// RedisBus is the production Bus backend, fanning out publishes through
// Redis pub/sub so every telemetry/execution process shares one stream
// regardless of which binary produced it.
type RedisBus struct {
	client *redis.Client
	logger *observability.Logger

	mu   sync.Mutex
	subs []*redisSub
}

type redisSub struct {
	pattern string
	pubsub  *redis.PubSub
	out     chan Message
	cancel  context.CancelFunc
}

// NewRedisBus dials Redis using cfg and verifies connectivity with a ping.
func NewRedisBus(cfg config.RedisConfig, logger *observability.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.PoolTimeout = cfg.PoolTimeout
	opt.MaxRetries = cfg.MaxRetries
	opt.MinRetryBackoff = cfg.MinRetryBackoff
	opt.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info(ctx, "redis bus connected", map[string]interface{}{
		"pool_size": opt.PoolSize,
	})

	return &RedisBus{client: client, logger: logger}, nil
}

// Ping verifies the underlying Redis connection is still reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Publish writes payload to topic. Redis pub/sub is fire-and-forget: a
// publish with no subscribers is simply dropped by the server.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis pub/sub channel for topic. A topic ending in "*"
// subscribes via PSubscribe (Redis glob patterns); anything else uses a
// plain Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if len(topic) > 0 && topic[len(topic)-1] == '*' {
		pubsub = b.client.PSubscribe(ctx, topic)
	} else {
		pubsub = b.client.Subscribe(ctx, topic)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{
		pattern: topic,
		pubsub:  pubsub,
		out:     make(chan Message, subscriberBufferSize),
		cancel:  cancel,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.pump(subCtx, sub)

	closer := func() {
		cancel()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		_ = pubsub.Close()
	}

	return &Subscription{
		C:      sub.out,
		closed: make(chan struct{}),
		closer: closer,
	}, nil
}

func (b *RedisBus) pump(ctx context.Context, sub *redisSub) {
	defer close(sub.out)
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m := Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
			select {
			case sub.out <- m:
			default:
				select {
				case <-sub.out:
				default:
				}
				select {
				case sub.out <- m:
				default:
				}
			}
		}
	}
}

// Close shuts down every open subscription and the underlying client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.cancel()
		_ = s.pubsub.Close()
	}
	return b.client.Close()
}
