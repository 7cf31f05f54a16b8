package eventbus

import "testing"

type fakeVerifier struct{ valid string }

func (f fakeVerifier) Verify(token string) bool { return token == f.valid }

func TestSubscribeRejectsBadToken(t *testing.T) {
	b := New(fakeVerifier{valid: "good"})
	if _, ok := b.Subscribe("bad"); ok {
		t.Fatalf("expected subscribe with bad token to fail")
	}
	if _, ok := b.Subscribe("good"); !ok {
		t.Fatalf("expected subscribe with good token to succeed")
	}
}

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := New(nil)
	ch1, _ := b.Subscribe("")
	ch2, _ := b.Subscribe("")

	b.Broadcast(Event{EventType: TypeHTTPFlow, Data: "x"})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.EventType != TypeHTTPFlow {
				t.Fatalf("unexpected event type %q", ev.EventType)
			}
		default:
			t.Fatalf("expected subscriber to receive broadcast event")
		}
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	b := New(nil)
	ch, _ := b.Subscribe("")

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Broadcast(Event{EventType: TypeFinding})
	}

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected overflowed subscriber to be dropped, count=%d", b.SubscriberCount())
	}
	for range ch {
		// drain buffered events until the closed channel is exhausted
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(nil)
	ch, _ := b.Subscribe("")
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected zero subscribers after unsubscribe, got %d", b.SubscriberCount())
	}
}
