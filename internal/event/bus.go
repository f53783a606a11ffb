// Package event provides the typed publish/subscribe bus used by the
// workspace to announce state changes.
package event

import "sync"

// Name identifies one event in the fixed vocabulary. Events carry no payload;
// subscribers re-read current state from the workspace.
type Name string

const (
	StatusChange      Name = "status-change"
	ModeChange        Name = "mode-change"
	MappingChange     Name = "mapping-change"
	IntensitiesChange Name = "intensities-change"
	ErrorsChange      Name = "errors-change"
	AutoMappingChange Name = "auto-mapping-change"
	SettingsChange    Name = "settings-change"
	NoTasks           Name = "no-tasks"
)

// All returns the full event vocabulary, in a stable order.
func All() []Name {
	return []Name{
		StatusChange,
		ModeChange,
		MappingChange,
		IntensitiesChange,
		ErrorsChange,
		AutoMappingChange,
		SettingsChange,
		NoTasks,
	}
}

type handler struct {
	id int
	fn func()
}

// Bus delivers events synchronously, in subscription order. Publishing an
// event with no subscribers is a no-op. There is no coalescing: every Publish
// call delivers once per subscriber.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Name][]handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Name][]handler)}
}

// Subscription identifies one registered handler.
type Subscription struct {
	bus  *Bus
	name Name
	id   int
}

// Subscribe registers fn for the named event.
func (b *Bus) Subscribe(name Name, fn func()) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[name] = append(b.handlers[name], handler{id: b.nextID, fn: fn})
	return Subscription{bus: b, name: name, id: b.nextID}
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	hs := s.bus.handlers[s.name]
	for i, h := range hs {
		if h.id == s.id {
			s.bus.handlers[s.name] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler subscribed to name, in subscription order.
// Handlers run on the caller's goroutine.
func (b *Bus) Publish(name Name) {
	b.mu.Lock()
	hs := b.handlers[name]
	snapshot := make([]handler, len(hs))
	copy(snapshot, hs)
	b.mu.Unlock()

	for _, h := range snapshot {
		h.fn()
	}
}
