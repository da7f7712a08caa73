package collector

import "sync"

// reviewSet is a thread-safe set of natural keys. It never holds more than
// limit keys.
type reviewSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	limit int
}

func newReviewSet(limit int) *reviewSet {
	return &reviewSet{seen: make(map[string]struct{}), limit: limit}
}

// Add returns true if the key was newly added. full reports whether the set
// has reached its limit after this call.
func (s *reviewSet) Add(key string) (added, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.seen) >= s.limit {
		return false, true
	}
	if _, exists := s.seen[key]; exists {
		return false, false
	}
	s.seen[key] = struct{}{}
	return true, len(s.seen) >= s.limit
}

// Full reports whether no further key can be added
func (s *reviewSet) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen) >= s.limit
}

// Size returns the number of unique keys tracked
func (s *reviewSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
