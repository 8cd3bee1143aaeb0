package realtime

import (
	"context"
	"log"

	"signal-scout/cache"
)

// RedisBridge relays pipeline events through a redis channel so clients
// connected to any process see them, not only clients of the process
// that ran the pipeline. Events published here come back through the
// subscription in Run, which feeds the local broker.
type RedisBridge struct {
	broker  *Broker
	redis   *cache.RedisClient
	channel string
}

func NewRedisBridge(broker *Broker, redisClient *cache.RedisClient, channel string) *RedisBridge {
	return &RedisBridge{broker: broker, redis: redisClient, channel: channel}
}

// Publish implements the pipeline's event sink. On a redis failure the
// event still reaches this process's clients directly.
func (br *RedisBridge) Publish(event string, payload interface{}) {
	data := map[string]interface{}{
		"event":   event,
		"payload": payload,
	}
	if err := br.redis.Publish(context.Background(), br.channel, data); err != nil {
		log.Printf("⚠️  Event publish to redis failed, broadcasting locally: %v", err)
		br.broker.Publish(event, payload)
	}
}

// Run subscribes to the event channel and relays messages into the
// local broker until ctx is cancelled.
func (br *RedisBridge) Run(ctx context.Context) {
	pubsub := br.redis.Subscribe(ctx, br.channel)
	defer pubsub.Close()

	log.Printf("📡 Event bridge subscribed to %s", br.channel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			br.broker.enqueue([]byte(msg.Payload))
		}
	}
}
