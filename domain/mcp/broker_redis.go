package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisBroker fans a publish out across every server instance subscribed to a topic, using Redis
// Pub/Sub as the transport. Delivery to Redis is best-effort (a publish with no connected instance
// drops, matching Redis Pub/Sub semantics); within a connected subscriber's channel it is
// at-least-once, same as memoryBroker.
type redisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker constructs the cross-instance Broker variant.
func NewRedisBroker(client *redis.Client) Broker {
	return &redisBroker{rdb: client}
}

type wireEnvelope struct {
	EventID int64           `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

func (b *redisBroker) Publish(ctx context.Context, topic string, eventID int64, payload json.RawMessage) error {
	blob, err := json.Marshal(wireEnvelope{EventID: eventID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode broker envelope: %w", err)
	}
	return b.rdb.Publish(ctx, topic, blob).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan BrokerMessage
	done   chan struct{}
}

func (s *redisSubscription) C() <-chan BrokerMessage { return s.ch }

func (s *redisSubscription) Close() error {
	close(s.done)
	return s.pubsub.Close()
}

func (b *redisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan BrokerMessage, subscriberBufSize),
		done:   make(chan struct{}),
	}
	go sub.pump(topic, pubsub.Channel())
	return sub, nil
}

func (s *redisSubscription) pump(topic string, in <-chan *redis.Message) {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			var env wireEnvelope
			if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
				continue
			}
			select {
			case s.ch <- BrokerMessage{Topic: topic, EventID: env.EventID, Payload: env.Payload}:
			case <-s.done:
				return
			}
		}
	}
}
