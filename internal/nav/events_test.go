package nav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleEventBusDeliversToSubscribers(t *testing.T) {
	bus := NewSimpleEventBus()
	got := make(chan Event, 2)
	bus.Subscribe("snapshots", func(ev Event) { got <- ev })

	bus.Publish(Event{Type: EventFieldPublished, Layer: "default"})
	select {
	case ev := <-got:
		assert.Equal(t, EventFieldPublished, ev.Type)
		assert.Equal(t, "default", ev.Layer)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	bus.Unsubscribe("snapshots")
	bus.Publish(Event{Type: EventBuildDiscarded})
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %s after unsubscribe", ev.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEventTypeString(t *testing.T) {
	names := map[EventType]string{
		EventRegionCostChanged: "RegionCostChanged",
		EventRoutePlanned:      "RoutePlanned",
		EventRouteUnreachable:  "RouteUnreachable",
		EventFieldPublished:    "FieldPublished",
		EventBuildDiscarded:    "BuildDiscarded",
		EventType(99):          "Unknown",
	}
	for typ, want := range names {
		assert.Equal(t, want, typ.String())
	}
}

func TestNullEventBusIgnoresEverything(t *testing.T) {
	bus := NewNullEventBus()
	called := false
	bus.Subscribe("x", func(Event) { called = true })
	bus.Publish(Event{Type: EventRoutePlanned})
	bus.Unsubscribe("x")
	require.False(t, called)
}
