package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := New(0, nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(context.Background(), agentloop.NewToken("hi"))

	select {
	case ev := <-sub.Events():
		if ev.Token == nil || ev.Token.Content != "hi" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_FansOutToMultipleSubscribers(t *testing.T) {
	b := New(0, nil)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(context.Background(), agentloop.NewToken("fan"))

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events():
			if ev.Token.Content != "fan" {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublish_TerminalEventClosesChannel(t *testing.T) {
	b := New(0, nil)
	sub := b.Subscribe()

	b.Publish(context.Background(), agentloop.NewComplete(agentloop.TokenUsage{}))

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("expected Complete event delivered before close")
		}
		if ev.Type != agentloop.EventComplete {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected channel closed after terminal event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber removed after terminal event, got count %d", b.SubscriberCount())
	}
}

func TestUnsubscribe_RemovesAndClosesChannel(t *testing.T) {
	b := New(0, nil)
	sub := b.Subscribe()
	sub.Unsubscribe()

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after Unsubscribe, got %d", b.SubscriberCount())
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected channel already closed")
		}
	default:
		t.Fatal("expected channel to be immediately closed and drainable")
	}
}

func TestPublish_RespectsContextCancellation(t *testing.T) {
	b := New(1, nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	// Fill the buffered channel so the next Publish would block.
	b.Publish(context.Background(), agentloop.NewToken("one"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		b.Publish(ctx, agentloop.NewToken("two"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish did not respect a cancelled context")
	}
}
