package nav

import (
	"sync"
	"time"

	"github.com/gravitas-games/flowfield/internal/cache"
	"github.com/gravitas-games/flowfield/internal/field"
	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/grid"
)

// EventType represents the type of pipeline event.
type EventType int

const (
	// EventRegionCostChanged is emitted when a mutation batch changed the
	// cost view of one or more regions of a layer.
	EventRegionCostChanged EventType = iota
	// EventRoutePlanned is emitted when a path request resolved to a route.
	EventRoutePlanned
	// EventRouteUnreachable is emitted when a path request has no route.
	EventRouteUnreachable
	// EventFieldPublished is emitted when a flow field reaches the cache.
	EventFieldPublished
	// EventBuildDiscarded is emitted when a field build was dropped because
	// its region changed while it ran.
	EventBuildDiscarded
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventRegionCostChanged:
		return "RegionCostChanged"
	case EventRoutePlanned:
		return "RoutePlanned"
	case EventRouteUnreachable:
		return "RouteUnreachable"
	case EventFieldPublished:
		return "FieldPublished"
	case EventBuildDiscarded:
		return "BuildDiscarded"
	default:
		return "Unknown"
	}
}

// Event represents a pipeline event.
type Event struct {
	Type      EventType        `json:"type"`
	Layer     string           `json:"layer"`
	RequestID string           `json:"request_id,omitempty"`
	Regions   []grid.RegionID  `json:"regions,omitempty"`
	Route     *graph.Route     `json:"route,omitempty"`
	Key       cache.FieldKey   `json:"key"`
	Field     *field.FlowField `json:"-"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventBus manages event subscriptions and delivery.
type EventBus interface {
	// Subscribe registers a handler under a subscriber name.
	Subscribe(name string, handler func(Event))

	// Unsubscribe removes the handler registered under name.
	Unsubscribe(name string)

	// Publish sends an event to every subscribed handler.
	Publish(event Event)
}

// SimpleEventBus is a basic in-memory event bus implementation.
type SimpleEventBus struct {
	mu       sync.RWMutex
	handlers map[string]func(Event)
}

// NewSimpleEventBus creates a new event bus.
func NewSimpleEventBus() *SimpleEventBus {
	return &SimpleEventBus{handlers: make(map[string]func(Event))}
}

// Subscribe registers a handler under a subscriber name, replacing any
// previous handler with that name.
func (bus *SimpleEventBus) Subscribe(name string, handler func(Event)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handlers[name] = handler
}

// Unsubscribe removes the handler registered under name.
func (bus *SimpleEventBus) Unsubscribe(name string) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.handlers, name)
}

// Publish sends an event to every subscribed handler.
// Handlers are called asynchronously in separate goroutines to prevent blocking.
func (bus *SimpleEventBus) Publish(event Event) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, handler := range bus.handlers {
		go handler(event)
	}
}

// NullEventBus is an event bus that does nothing.
type NullEventBus struct{}

// NewNullEventBus creates a new null event bus.
func NewNullEventBus() *NullEventBus {
	return &NullEventBus{}
}

// Subscribe does nothing.
func (bus *NullEventBus) Subscribe(name string, handler func(Event)) {}

// Unsubscribe does nothing.
func (bus *NullEventBus) Unsubscribe(name string) {}

// Publish does nothing.
func (bus *NullEventBus) Publish(event Event) {}
