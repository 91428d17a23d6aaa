package monitor

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSeenCapacity is the number of event ids remembered per user and
// source.
const DefaultSeenCapacity = 100

// SeenSet remembers the most recently marked event ids. Once full, marking a
// new id evicts the oldest one.
type SeenSet struct {
	ids *lru.Cache[string, struct{}]
}

// NewSeenSet creates a set holding up to capacity ids.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	// lru.New only fails for a non-positive size.
	ids, _ := lru.New[string, struct{}](capacity)
	return &SeenSet{ids: ids}
}

// Seen reports whether id was marked and not yet evicted.
func (s *SeenSet) Seen(id string) bool {
	return s.ids.Contains(id)
}

// Mark records id as processed.
func (s *SeenSet) Mark(id string) {
	s.ids.Add(id, struct{}{})
}

// Len returns the number of remembered ids.
func (s *SeenSet) Len() int {
	return s.ids.Len()
}

// seenSets hands out one SeenSet per user.
type seenSets struct {
	mu       sync.Mutex
	capacity int
	sets     map[string]*SeenSet
}

func newSeenSets(capacity int) *seenSets {
	return &seenSets{capacity: capacity, sets: make(map[string]*SeenSet)}
}

func (s *seenSets) forUser(userID string) *SeenSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[userID]
	if !ok {
		set = NewSeenSet(s.capacity)
		s.sets[userID] = set
	}
	return set
}
