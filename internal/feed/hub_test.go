package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

func startHub(t *testing.T, bufferSize int) *Hub {
	t.Helper()
	hub := NewHub(bufferSize)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if hub.IsRunning() {
			_ = hub.Stop()
		}
	})
	return hub
}

func event(topic string, slide int) *types.ChangeEvent {
	return &types.ChangeEvent{
		Topic: topic,
		Table: types.TableSessions,
		Kind:  types.ChangeUpdate,
		Session: &types.PresentationSession{
			ID:           "s1",
			CurrentSlide: slide,
			TotalSlides:  100,
		},
		Timestamp: time.Now(),
	}
}

func recv(t *testing.T, sub interfaces.Subscription) *types.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("Subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return nil
}

func TestHub_StartStop(t *testing.T) {
	hub := NewHub(0)
	ctx := context.Background()

	if err := hub.Start(ctx); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}
	if err := hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Stopped hub should not restart, got %v", err)
	}
}

func TestHub_SubscribeRequiresRunning(t *testing.T) {
	hub := NewHub(0)
	_, err := hub.Subscribe(context.Background(), "topic")
	if !errors.Is(err, types.ErrTransport) {
		t.Errorf("Expected transport error from stopped hub, got %v", err)
	}
	if err := hub.Publish(context.Background(), event("topic", 1)); !errors.Is(err, types.ErrTransport) {
		t.Errorf("Expected transport error from stopped hub, got %v", err)
	}
}

func TestHub_DeliversInOrderPerTopic(t *testing.T) {
	hub := startHub(t, 64)
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := hub.Subscribe(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 10; i++ {
		if err := hub.Publish(ctx, event("a", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := hub.Publish(ctx, event("b", 99)); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 10; i++ {
		if got := recv(t, a).Session.CurrentSlide; got != i {
			t.Fatalf("Expected slide %d, got %d", i, got)
		}
	}
	if got := recv(t, b).Session.CurrentSlide; got != 99 {
		t.Errorf("Topic b should only see its own event, got %d", got)
	}
	select {
	case ev := <-a.Events():
		t.Errorf("Topic a received foreign event %+v", ev)
	default:
	}
}

func TestHub_FanOut(t *testing.T) {
	hub := startHub(t, 0)
	ctx := context.Background()

	subs := make([]interfaces.Subscription, 3)
	for i := range subs {
		sub, err := hub.Subscribe(ctx, "s")
		if err != nil {
			t.Fatal(err)
		}
		subs[i] = sub
	}

	if err := hub.Publish(ctx, event("s", 5)); err != nil {
		t.Fatal(err)
	}
	for _, sub := range subs {
		if got := recv(t, sub).Session.CurrentSlide; got != 5 {
			t.Errorf("Expected slide 5, got %d", got)
		}
	}
}

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	hub := startHub(t, 2)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	marker, err := hub.Subscribe(ctx, "marker")
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 5; i++ {
		if err := hub.Publish(ctx, event("s", i)); err != nil {
			t.Fatal(err)
		}
	}
	// The marker event is processed after the five above
	if err := hub.Publish(ctx, event("marker", 0)); err != nil {
		t.Fatal(err)
	}
	recv(t, marker)

	first := recv(t, sub).Session.CurrentSlide
	second := recv(t, sub).Session.CurrentSlide
	if first != 4 || second != 5 {
		t.Errorf("Expected newest events 4,5, got %d,%d", first, second)
	}
}

func TestHub_CloseEndsStream(t *testing.T) {
	hub := startHub(t, 0)
	sub, err := hub.Subscribe(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}

	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Events channel was not closed")
	}
}

func TestHub_InterruptAndStopCloseSubscriptions(t *testing.T) {
	hub := startHub(t, 0)
	ctx := context.Background()

	interrupted, _ := hub.Subscribe(ctx, "x")
	other, _ := hub.Subscribe(ctx, "y")

	hub.Interrupt("x")
	if _, ok := <-interrupted.Events(); ok {
		t.Error("Interrupted subscription should be closed")
	}

	if err := hub.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-other.Events(); ok {
		t.Error("Stop should close remaining subscriptions")
	}
	if err := other.Close(); err != nil {
		t.Errorf("Close after Stop should not fail, got %v", err)
	}
}

func TestHub_ContextCancelStopsHub(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	if err := hub.Start(ctx); err != nil {
		t.Fatal(err)
	}
	sub, err := hub.Subscribe(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscription not closed after context cancel")
	}
	if hub.IsRunning() {
		t.Error("Hub should report stopped after context cancel")
	}
}

func TestNew_Drivers(t *testing.T) {
	tr, err := New(context.Background(), Options{Driver: DriverMemory})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Hub == nil || tr.Feed() == nil {
		t.Error("Memory transport should expose its hub")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if _, err := New(context.Background(), Options{Driver: "kafka"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Expected ErrUnknownDriver, got %v", err)
	}
}
