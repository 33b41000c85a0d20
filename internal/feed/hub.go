package feed

import (
	"context"
	"log"
	"sync"

	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

var _ interfaces.Feed = (*Hub)(nil)

// DefaultBufferSize is the per-subscriber event buffer
const DefaultBufferSize = 16

// Hub is the in-process change feed
// ARCHITECTURAL DISCOVERY: A single run loop owns the topic table, so
// delivery order per topic equals publish order
type Hub struct {
	subscribeChannel   chan *subscribeRequest
	unsubscribeChannel chan *memorySubscription
	publishChannel     chan *types.ChangeEvent
	interruptChannel   chan string
	shutdownChannel    chan struct{}
	done               chan struct{}

	bufferSize int
	nextID     uint64

	running bool
	started bool
	mu      sync.RWMutex
}

type subscribeRequest struct {
	topic string
	reply chan *memorySubscription
}

// NewHub creates a stopped hub; bufferSize <= 0 selects DefaultBufferSize
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subscribeChannel:   make(chan *subscribeRequest),
		unsubscribeChannel: make(chan *memorySubscription),
		publishChannel:     make(chan *types.ChangeEvent, 1000),
		interruptChannel:   make(chan string),
		shutdownChannel:    make(chan struct{}),
		done:               make(chan struct{}),
		bufferSize:         bufferSize,
	}
}

// Start begins hub processing; a stopped hub cannot be restarted
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.started {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.started = true

	log.Println("Starting change feed hub...")
	go h.run(ctx)
	return nil
}

// Stop ends every subscription and shuts the hub down
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	log.Println("Stopping change feed hub...")
	<-h.done
	return nil
}

// IsRunning reports whether the run loop is accepting work
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Subscribe registers a subscriber; the returned subscription is live
func (h *Hub) Subscribe(ctx context.Context, topic string) (interfaces.Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if !h.IsRunning() {
		return nil, types.TransportError("subscribe", ErrHubNotRunning)
	}

	req := &subscribeRequest{topic: topic, reply: make(chan *memorySubscription, 1)}
	select {
	case h.subscribeChannel <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, types.TransportError("subscribe", ErrHubNotRunning)
	}

	select {
	case sub := <-req.reply:
		return sub, nil
	case <-h.done:
		return nil, types.TransportError("subscribe", ErrHubNotRunning)
	}
}

// Publish queues an event for delivery to every subscriber of its topic
func (h *Hub) Publish(ctx context.Context, event *types.ChangeEvent) error {
	if event == nil || event.Topic == "" {
		return ErrInvalidTopic
	}
	if !h.IsRunning() {
		return types.TransportError("publish", ErrHubNotRunning)
	}

	select {
	case h.publishChannel <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return types.TransportError("publish", ErrHubNotRunning)
	}
}

// Interrupt closes every subscription on topic as a transport loss would
func (h *Hub) Interrupt(topic string) {
	select {
	case h.interruptChannel <- topic:
	case <-h.done:
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	topics := make(map[string]map[uint64]*memorySubscription)

	defer func() {
		for _, subs := range topics {
			for _, sub := range subs {
				close(sub.events)
			}
		}
		close(h.done)
		log.Println("Change feed hub stopped")
	}()

	remove := func(sub *memorySubscription) {
		subs, ok := topics[sub.topic]
		if !ok {
			return
		}
		if _, ok := subs[sub.id]; !ok {
			return
		}
		delete(subs, sub.id)
		close(sub.events)
		if len(subs) == 0 {
			delete(topics, sub.topic)
		}
	}

	for {
		select {
		case req := <-h.subscribeChannel:
			h.nextID++
			sub := &memorySubscription{
				id:     h.nextID,
				topic:  req.topic,
				events: make(chan *types.ChangeEvent, h.bufferSize),
				hub:    h,
			}
			if topics[req.topic] == nil {
				topics[req.topic] = make(map[uint64]*memorySubscription)
			}
			topics[req.topic][sub.id] = sub
			req.reply <- sub

		case sub := <-h.unsubscribeChannel:
			remove(sub)

		case topic := <-h.interruptChannel:
			for _, sub := range topics[topic] {
				remove(sub)
			}

		case event := <-h.publishChannel:
			for _, sub := range topics[event.Topic] {
				deliver(sub.events, event)
			}

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// deliver pushes event into ch, discarding the oldest queued event when full
// FUNCTIONAL DISCOVERY: Consumers re-read the row they are told about, so
// a slow subscriber only needs the newest notifications
func deliver(ch chan *types.ChangeEvent, event *types.ChangeEvent) {
	for {
		select {
		case ch <- event:
			return
		default:
		}
		select {
		case dropped := <-ch:
			log.Printf("Feed subscriber lagging on %s, dropped %s event", dropped.Topic, dropped.Kind)
		default:
		}
	}
}

type memorySubscription struct {
	id        uint64
	topic     string
	events    chan *types.ChangeEvent
	hub       *Hub
	closeOnce sync.Once
}

func (s *memorySubscription) Events() <-chan *types.ChangeEvent {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		select {
		case s.hub.unsubscribeChannel <- s:
		case <-s.hub.done:
		}
	})
	return nil
}
