package target

// Set is an ordered, deduplicated collection of targets. Order is first
// occurrence.
type Set struct {
	seen  map[string]struct{}
	items []Target
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add inserts t and reports whether it was new.
func (s *Set) Add(t Target) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	key := t.String()
	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, t)
	return true
}

// Len returns the number of distinct targets.
func (s *Set) Len() int { return len(s.items) }

// Items returns the targets in insertion order.
func (s *Set) Items() []Target {
	out := make([]Target, len(s.items))
	copy(out, s.items)
	return out
}
