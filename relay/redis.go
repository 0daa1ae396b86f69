package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "typewriter:"

// RedisBroker publishes each document's messages on its own Redis channel.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, doc string, payload []byte) error {
	return b.rdb.Publish(ctx, channelPrefix+doc, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, doc string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channelPrefix+doc)
	// Wait for the confirmation so that publishes after this point are seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := &redisSubscription{pubsub: pubsub, ch: make(chan []byte)}
	go func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			sub.ch <- []byte(msg.Payload)
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan []byte
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
