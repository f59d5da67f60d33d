package resource

// ID is a resource identifier handed to script.
// ID 0 is reserved and always invalid.
type ID uint32

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventClosed
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventClosed:
		return "closed"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event represents a resource lifecycle event.
type Event struct {
	Value any
	Err   error // cleanup error reported by Close, if any
	Tag   string
	ID    ID
	Type  EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnResourceEvent calls f(e).
func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by resource values that need cleanup.
// Values implementing io.Closer are released through Close instead.
type Dropper interface {
	Drop()
}
