package resource

import "slices"

// localStore is the in-memory storage behind Table.
// Ids come from a counter and are never recycled, so a stale id held by
// script can never alias a newer resource.
type localStore struct {
	entries map[ID]entry
	next    ID
}

type entry struct {
	value any
	tag   string
}

func newLocalStore() *localStore {
	return &localStore{
		entries: make(map[ID]entry, 64),
	}
}

func (s *localStore) create(tag string, value any) ID {
	s.next++
	s.entries[s.next] = entry{tag: tag, value: value}
	return s.next
}

func (s *localStore) get(id ID) (entry, bool) {
	if id == 0 {
		return entry{}, false
	}
	e, ok := s.entries[id]
	return e, ok
}

func (s *localStore) take(id ID) (entry, bool) {
	e, ok := s.get(id)
	if !ok {
		return entry{}, false
	}
	delete(s.entries, id)
	return e, true
}

func (s *localStore) len() int {
	return len(s.entries)
}

// ids returns live ids in ascending order.
func (s *localStore) ids() []ID {
	out := make([]ID, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
