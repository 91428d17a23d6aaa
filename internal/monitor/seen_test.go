package monitor

import (
	"fmt"
	"testing"
)

func TestSeenSet_MarkAndSeen(t *testing.T) {
	s := NewSeenSet(3)
	if s.Seen("a") {
		t.Error("empty set reports a as seen")
	}
	s.Mark("a")
	if !s.Seen("a") {
		t.Error("a should be seen after Mark")
	}
}

func TestSeenSet_EvictsOldest(t *testing.T) {
	s := NewSeenSet(100)
	for i := 0; i < 150; i++ {
		s.Mark(fmt.Sprintf("m%d", i))
	}
	if s.Len() != 100 {
		t.Errorf("Len = %d, want 100", s.Len())
	}
	for i := 0; i < 50; i++ {
		if s.Seen(fmt.Sprintf("m%d", i)) {
			t.Errorf("m%d should have been evicted", i)
		}
	}
	for i := 50; i < 150; i++ {
		if !s.Seen(fmt.Sprintf("m%d", i)) {
			t.Errorf("m%d should be retained", i)
		}
	}
}

func TestSeenSet_DefaultCapacity(t *testing.T) {
	s := NewSeenSet(0)
	for i := 0; i < DefaultSeenCapacity+1; i++ {
		s.Mark(fmt.Sprintf("m%d", i))
	}
	if s.Len() != DefaultSeenCapacity {
		t.Errorf("Len = %d, want %d", s.Len(), DefaultSeenCapacity)
	}
}

func TestSeenSets_PerUser(t *testing.T) {
	sets := newSeenSets(10)
	sets.forUser("u1").Mark("m1")
	if sets.forUser("u2").Seen("m1") {
		t.Error("ids must not leak between users")
	}
	if !sets.forUser("u1").Seen("m1") {
		t.Error("u1 set not reused")
	}
}
