package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return NewBus(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestBus_EmitDeliversToSubscribersOfType(t *testing.T) {
	bus := newTestBus()

	var got []*Event
	bus.Subscribe(GreeksAlertRaised, func(e *Event) { got = append(got, e) })
	bus.Subscribe(GreeksSnapshotSaved, func(e *Event) { t.Fatal("wrong type delivered") })

	bus.Emit(GreeksAlertRaised, "greeks_monitor", map[string]interface{}{"alert_id": "a1"})

	require.Len(t, got, 1)
	assert.Equal(t, GreeksAlertRaised, got[0].Type)
	assert.Equal(t, "greeks_monitor", got[0].Module)
	assert.Equal(t, "a1", got[0].Data["alert_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := newTestBus()

	calls := 0
	first := bus.Subscribe(ErrorOccurred, func(*Event) { calls++ })
	bus.Subscribe(ErrorOccurred, func(*Event) { calls += 10 })
	assert.Equal(t, 2, bus.SubscriberCount(ErrorOccurred))

	bus.Unsubscribe(ErrorOccurred, first)
	bus.Unsubscribe(ErrorOccurred, SubscriptionID(9999))
	bus.Emit(ErrorOccurred, "test", nil)

	assert.Equal(t, 10, calls)
	assert.Equal(t, 1, bus.SubscriberCount(ErrorOccurred))
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := newTestBus()

	delivered := false
	bus.Subscribe(ErrorOccurred, func(*Event) { panic("boom") })
	bus.Subscribe(ErrorOccurred, func(*Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(ErrorOccurred, "test", nil) })
	assert.True(t, delivered)
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(GreeksSnapshotSaved, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := bus.Subscribe(GreeksAlertRaised, func(*Event) {})
			bus.Emit(GreeksSnapshotSaved, "test", nil)
			bus.Unsubscribe(GreeksAlertRaised, id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
	assert.Equal(t, 0, bus.SubscriberCount(GreeksAlertRaised))
}
