// Package bus implements the pub/sub transport over Redis
// (github.com/redis/go-redis/v9), holding two separate connections —
// one for publishing, one for subscribing — so an incoming command
// can never head-of-line-block behind an outgoing publish or vice
// versa (SPEC_FULL §6, spec §5's "two logically distinct channels").
package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Bus owns the two Redis connections the daemon needs.
type Bus struct {
	pub *redis.Client
	sub *redis.Client
	ps  *redis.PubSub
}

// Dial opens the publish and subscribe connections to addr (host:port)
// and subscribes to every topic in RequestTopics.
func Dial(ctx context.Context, host string, port int) (*Bus, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	pub := redis.NewClient(&redis.Options{Addr: addr})
	if err := pub.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: publish connection: %w", err)
	}

	sub := redis.NewClient(&redis.Options{Addr: addr})
	if err := sub.Ping(ctx).Err(); err != nil {
		pub.Close()
		return nil, fmt.Errorf("bus: subscribe connection: %w", err)
	}

	ps := sub.Subscribe(ctx, RequestTopics...)
	if _, err := ps.Receive(ctx); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}

	return &Bus{pub: pub, sub: sub, ps: ps}, nil
}

// Publish sends payload on topic using the publish connection.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.pub.Publish(ctx, topic, payload).Err()
}

// Messages returns the channel of incoming messages on the subscribed
// topics.
func (b *Bus) Messages() <-chan *redis.Message {
	return b.ps.Channel()
}

// Close tears down both connections in order: subscription first, then
// the underlying clients.
func (b *Bus) Close() error {
	if err := b.ps.Close(); err != nil {
		return err
	}
	if err := b.sub.Close(); err != nil {
		return err
	}
	return b.pub.Close()
}
