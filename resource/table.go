package resource

import (
	"io"

	"github.com/wippyai/js-runtime/errors"
)

// Table maps integer ids to host-owned values handed to script.
//
// A Table is mutated only from the runtime's serialized isolate path and is
// not safe for concurrent use on its own.
type Table struct {
	store     *localStore
	observers []subscription
	nextSub   uint64
	closed    bool
}

type subscription struct {
	o  Observer
	id uint64
}

// NewTable creates an empty table. The first id issued is 1.
func NewTable() *Table {
	return &Table{
		store: newLocalStore(),
	}
}

// Add stores value under tag and returns its id. It always succeeds while the
// table is open. After CloseAll the table still takes ownership: value is
// released at once and the returned id is 0.
func (t *Table) Add(tag string, value any) ID {
	if t.closed {
		_ = release(value)
		return 0
	}
	id := t.store.create(tag, value)
	t.notify(Event{
		Type:  EventCreated,
		ID:    id,
		Tag:   tag,
		Value: value,
	})
	return id
}

// Lookup returns the untyped value stored under id.
func (t *Table) Lookup(id ID) (any, bool) {
	e, ok := t.store.get(id)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Tag returns the tag a resource was added with.
func (t *Table) Tag(id ID) (string, bool) {
	e, ok := t.store.get(id)
	if !ok {
		return "", false
	}
	return e.tag, true
}

// Has reports whether id is live.
func (t *Table) Has(id ID) bool {
	_, ok := t.store.get(id)
	return ok
}

// Close drops the value stored under id, releasing it if it implements
// Dropper or io.Closer. Closing an absent id returns false.
func (t *Table) Close(id ID) bool {
	e, ok := t.store.take(id)
	if !ok {
		return false
	}
	err := release(e.value)
	t.notify(Event{
		Type:  EventClosed,
		ID:    id,
		Tag:   e.tag,
		Value: e.value,
		Err:   err,
	})
	return true
}

// Entries returns a snapshot of live ids and their tags.
func (t *Table) Entries() map[ID]string {
	out := make(map[ID]string, t.store.len())
	for id, e := range t.store.entries {
		out[id] = e.tag
	}
	return out
}

// IDs returns live ids in ascending order.
func (t *Table) IDs() []ID {
	return t.store.ids()
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	return t.store.len()
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it again. Calling the returned function more than once is a
// no-op.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	t.nextSub++
	id := t.nextSub
	t.observers = append(t.observers, subscription{id: id, o: o})
	return func() {
		for i, s := range t.observers {
			if s.id == id {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

// CloseAll releases every remaining resource in id order and stops accepting
// new ones. It is safe to call more than once.
func (t *Table) CloseAll() {
	for _, id := range t.store.ids() {
		t.Close(id)
	}
	t.closed = true
}

func (t *Table) remove(id ID) (entry, bool) {
	e, ok := t.store.take(id)
	if !ok {
		return entry{}, false
	}
	t.notify(Event{
		Type:  EventRemoved,
		ID:    id,
		Tag:   e.tag,
		Value: e.value,
	})
	return e, true
}

func (t *Table) notify(e Event) {
	for _, s := range t.observers {
		s.o.OnResourceEvent(e)
	}
}

func release(v any) error {
	switch r := v.(type) {
	case Dropper:
		r.Drop()
	case io.Closer:
		return r.Close()
	}
	return nil
}

// Get returns the value stored under id typed as T. A missing id or a value
// of another type yields false.
func Get[T any](t *Table, id ID) (T, bool) {
	var zero T
	e, ok := t.store.get(id)
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Require is Get returning a ResourceNotFound error instead of false.
func Require[T any](t *Table, id ID) (T, error) {
	v, ok := Get[T](t, id)
	if !ok {
		return v, errors.ResourceNotFound(uint32(id))
	}
	return v, nil
}

// Remove takes the value stored under id out of the table without releasing
// it; the caller becomes its owner. A type mismatch leaves the entry in place.
func Remove[T any](t *Table, id ID) (T, bool) {
	var zero T
	e, ok := t.store.get(id)
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	t.remove(id)
	return v, true
}
