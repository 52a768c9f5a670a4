package presence

import "sort"

// Set is the local mirror of a topic's present keys.
type Set map[string]struct{}

// NewSet creates a set holding keys.
func NewSet(keys ...string) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Apply folds one event into the set and returns the result. A sync replaces the set;
// join and leave are idempotent. Other events leave it unchanged.
func (s Set) Apply(ev Event) Set {
	switch ev.Type {
	case EventSync:
		return NewSet(ev.Keys...)
	case EventJoin:
		if ev.Key != "" {
			s[ev.Key] = struct{}{}
		}
	case EventLeave:
		delete(s, ev.Key)
	}
	return s
}

// Len is the number of distinct present keys.
func (s Set) Len() int {
	return len(s)
}

// Keys returns the keys in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
