package interfaces

import (
	"context"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Feed is the change-feed transport keyed by session topic
// TECHNICAL DISCOVERY: Delivery is at-least-once and may coalesce, consumers
// must treat the latest row as authoritative
type Feed interface {
	// Subscribe opens a subscription and returns once the topic is confirmed
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish delivers an event to every subscriber of event.Topic
	Publish(ctx context.Context, event *types.ChangeEvent) error
}

// Subscription is a single consumer's view of one topic
type Subscription interface {
	// Events is closed when the subscription ends for any reason
	Events() <-chan *types.ChangeEvent

	// Close ends the subscription; safe to call more than once
	Close() error
}
