package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/config"
)

// RedisBus broadcasts submission events over Redis PubSub so every server
// instance can notify its own WebSocket listeners.
type RedisBus struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisBus creates a RedisBus.
func NewRedisBus(rdb *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		rdb: rdb,
		log: log.With().Str("component", "event_bus").Logger(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev SubmitEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to encode submit event")
		return
	}
	if err := b.rdb.Publish(ctx, config.CacheKey.ChallengeEventsChannel(), raw).Err(); err != nil {
		b.log.Warn().Err(err).Str("challenge_id", ev.ChallengeID).Msg("Failed to publish submit event")
	}
}

func (b *RedisBus) Subscribe(ctx context.Context) <-chan SubmitEvent {
	out := make(chan SubmitEvent, subscriberBuffer)
	pubsub := b.rdb.Subscribe(ctx, config.CacheKey.ChallengeEventsChannel())

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev SubmitEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Msg("Discarding malformed submit event")
					continue
				}
				select {
				case out <- ev:
				default:
					b.log.Warn().Str("challenge_id", ev.ChallengeID).Msg("Subscriber lagging, event dropped")
				}
			}
		}
	}()

	return out
}
