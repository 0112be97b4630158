package eventbus

import (
	"testing"
	"time"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe(nil, EntityCreated)

	bus.Publish(Event{Type: EntityCreated, EntityID: "sym:a"})

	select {
	case ev := <-sub.C:
		if ev.EntityID != "sym:a" {
			t.Fatalf("unexpected entity id: %s", ev.EntityID)
		}
		if ev.Sequence == 0 {
			t.Fatalf("expected nonzero sequence")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event to be delivered")
	}
}

func TestBus_SubscriberOnlyReceivesSubscribedTypes(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe(nil, EntityCreated)

	bus.Publish(Event{Type: EntityDeleted, EntityID: "sym:a"})

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_EmptyTypesSubscribesToEverything(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe(nil)

	bus.Publish(Event{Type: SyncStatus, SyncStatusMsg: "idle"})

	select {
	case ev := <-sub.C:
		if ev.SyncStatusMsg != "idle" {
			t.Fatalf("unexpected payload: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event to be delivered")
	}
}

func TestBus_FilterExcludesNonMatchingEvents(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe(func(e Event) bool { return e.EntityID == "wanted" }, EntityCreated)

	bus.Publish(Event{Type: EntityCreated, EntityID: "other"})
	bus.Publish(Event{Type: EntityCreated, EntityID: "wanted"})

	select {
	case ev := <-sub.C:
		if ev.EntityID != "wanted" {
			t.Fatalf("expected only 'wanted', got %s", ev.EntityID)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected filtered event to be delivered")
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("expected no second event, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_RecencyReplayOnSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Publish(Event{Type: EntityCreated, EntityID: "sym:a"})

	late := bus.Subscribe(nil, EntityCreated)
	select {
	case ev := <-late.C:
		if ev.EntityID != "sym:a" {
			t.Fatalf("expected replay of last event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected recency replay to deliver the last event")
	}
}

func TestBus_BackpressureDropsRatherThanBlocks(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe(nil, EntityCreated)

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Event{Type: EntityCreated, EntityID: "sym:a"})
	}

	if sub.Dropped() == 0 {
		t.Fatalf("expected some events to be dropped under backpressure")
	}
}

func TestBus_CloseClosesSubscriberChannel(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(nil, EntityCreated)
	bus.Close()

	_, ok := <-sub.C
	if ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe(nil, EntityCreated)
	sub.Close()

	bus.Publish(Event{Type: EntityCreated, EntityID: "sym:a"})

	_, ok := <-sub.C
	if ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}
