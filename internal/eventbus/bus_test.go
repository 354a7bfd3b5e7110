package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/flowindex/latencyctl/internal/latency"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe("aggregator.tick", received)

	bus.Publish(Event{
		Type:      "aggregator.tick",
		RegionID:  7,
		Timestamp: time.Now(),
		Data:      map[string]string{"tier": "raw-to-5m"},
	})

	select {
	case evt := <-received:
		if evt.Type != "aggregator.tick" {
			t.Errorf("expected aggregator.tick, got %s", evt.Type)
		}
		if evt.RegionID != 7 {
			t.Errorf("expected region 7, got %d", evt.RegionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe("ingest.committed", ch1)
	bus.Subscribe("ingest.committed", ch2)

	bus.Publish(Event{Type: "ingest.committed", RegionID: 1})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	ingestCh := make(chan Event, 10)
	tickCh := make(chan Event, 10)
	bus.Subscribe("ingest.committed", ingestCh)
	bus.Subscribe("aggregator.tick", tickCh)

	bus.Publish(Event{Type: "ingest.committed", RegionID: 1})

	select {
	case <-ingestCh:
	case <-time.After(time.Second):
		t.Fatal("ingest subscriber did not receive event")
	}

	select {
	case <-tickCh:
		t.Fatal("tick subscriber should NOT receive ingest.committed event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe("ingest.committed", received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(r latency.RegionID) {
			defer wg.Done()
			bus.Publish(Event{Type: "ingest.committed", RegionID: r})
		}(latency.RegionID(i))
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
