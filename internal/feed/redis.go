package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

var _ interfaces.Feed = (*RedisFeed)(nil)

// RedisFeed carries change events over Redis pub/sub so several server
// processes share one feed
type RedisFeed struct {
	client     *redis.Client
	bufferSize int
}

// NewRedisFeed wraps an existing client; bufferSize <= 0 selects DefaultBufferSize
func NewRedisFeed(client *redis.Client, bufferSize int) *RedisFeed {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &RedisFeed{client: client, bufferSize: bufferSize}
}

// Publish encodes the event as JSON on its topic channel
func (f *RedisFeed) Publish(ctx context.Context, event *types.ChangeEvent) error {
	if event == nil || event.Topic == "" {
		return ErrInvalidTopic
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, event.Topic, data).Err(); err != nil {
		return types.TransportError("publish", err)
	}
	return nil
}

// Subscribe returns once Redis confirms the channel subscription
// TECHNICAL DISCOVERY: The receive loop ends on the first transport error
// instead of letting go-redis reconnect silently, so consumers observe the
// gap and refetch
func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (interfaces.Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}

	pubsub := f.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, types.TransportError("subscribe", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan *types.ChangeEvent, f.bufferSize),
		cancel: cancel,
	}
	go sub.receiveLoop(loopCtx, topic)
	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	events    chan *types.ChangeEvent
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *redisSubscription) receiveLoop(ctx context.Context, topic string) {
	defer close(s.events)

	for {
		msg, err := s.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Redis feed subscription to %s lost: %v", topic, err)
			}
			return
		}

		switch m := msg.(type) {
		case *redis.Message:
			var event types.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				log.Printf("Discarding undecodable feed payload on %s: %v", topic, err)
				continue
			}
			deliver(s.events, &event)
		case *redis.Subscription:
			if m.Kind == "unsubscribe" && m.Count == 0 {
				return
			}
		}
	}
}

func (s *redisSubscription) Events() <-chan *types.ChangeEvent {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}
