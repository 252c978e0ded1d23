package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// TypeChallengeSubmit is the type of SubmitEvent.
const TypeChallengeSubmit = "challenge:submit"

// subscriberBuffer bounds how far a slow listener may lag before events
// are dropped for it.
const subscriberBuffer = 16

// SubmitEvent is broadcast whenever a tab submits a challenge.
type SubmitEvent struct {
	Type        string `json:"type"`
	TabID       string `json:"tab_id"`
	ChallengeID string `json:"id"`
	Timestamp   int64  `json:"timestamp"`
}

// Bus fans submission events out to listeners such as solved-badge UIs.
type Bus interface {
	Publish(ctx context.Context, ev SubmitEvent)
	// Subscribe returns a channel that is closed once ctx is done.
	Subscribe(ctx context.Context) <-chan SubmitEvent
}

// LocalBus is an in-process Bus.
type LocalBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan SubmitEvent
	log    zerolog.Logger
}

// NewLocalBus creates a LocalBus.
func NewLocalBus(log zerolog.Logger) *LocalBus {
	return &LocalBus{
		subs: make(map[int]chan SubmitEvent),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

func (b *LocalBus) Publish(_ context.Context, ev SubmitEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn().Int("subscriber", id).Str("challenge_id", ev.ChallengeID).Msg("Subscriber lagging, event dropped")
		}
	}
}

func (b *LocalBus) Subscribe(ctx context.Context) <-chan SubmitEvent {
	ch := make(chan SubmitEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}
