package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	received := []Event{}

	unsub := bus.Subscribe(EventTaskDispatched, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer unsub()

	bus.Publish(EventTaskDispatched, map[string]any{"task_id": "migrate_001"})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventTaskDispatched {
		t.Errorf("expected type %s, got %s", EventTaskDispatched, received[0].Type)
	}
	if taskID, ok := received[0].Data["task_id"].(string); !ok || taskID != "migrate_001" {
		t.Errorf("expected task_id migrate_001, got %v", received[0].Data["task_id"])
	}
}

func TestBus_OnlyMatchingTypeDelivered(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventStalled, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(EventTaskDispatched, nil)
	bus.Publish(EventStalled, nil)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 stalled event, got %d", count)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	var types []EventType
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	bus.Publish(EventRunStarted, nil)
	bus.Publish(EventBatchSelected, nil)
	bus.Publish(EventRunFinished, nil)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 3 || types[0] != EventRunStarted || types[2] != EventRunFinished {
		t.Errorf("unexpected delivery order: %v", types)
	}
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(EventTaskDispatched, func(e Event) {
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(EventTaskDispatched, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(block)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(EventReconciled, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(EventReconciled, nil)
	unsub()
	bus.Publish(EventReconciled, nil)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 event before unsubscribe, got %d", count)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventDispatchFailed, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
		panic("subscriber bug")
	})

	bus.Publish(EventDispatchFailed, nil)
	bus.Publish(EventDispatchFailed, nil)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("expected delivery to continue after panic, got %d", count)
	}
}

func TestBus_PublishAfterCloseIsIgnored(t *testing.T) {
	bus := NewBus(10)
	bus.Close()
	bus.Publish(EventRunFinished, nil)
	unsub := bus.Subscribe(EventRunFinished, func(Event) {})
	unsub()
	bus.Close()
}

func BenchmarkBus_Publish(b *testing.B) {
	bus := NewBus(1000)
	defer bus.Close()
	bus.Subscribe(EventTaskDispatched, func(e Event) {})

	data := map[string]any{"task_id": "migrate_001"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(EventTaskDispatched, data)
	}
}
