package events

import "testing"

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{InternalID: "a1", Status: "filled", FilledQty: 5})
	evt := <-ch
	if evt.InternalID != "a1" || evt.Status != "filled" || evt.FilledQty != 5 {
		t.Fatalf("got %+v", evt)
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	// double unsubscribe must not panic
	b.Unsubscribe(ch)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 500; i++ {
		b.Publish(Event{InternalID: "spam"})
	}
	// buffer holds 100; the rest were dropped without stalling Publish
	if got := len(ch); got != 100 {
		t.Fatalf("buffered = %d, want 100", got)
	}
}
