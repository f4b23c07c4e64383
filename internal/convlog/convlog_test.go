package convlog

import "testing"

func TestAppendAndRecent_ReturnsInOrder(t *testing.T) {
	s := New()
	s.Append("k1", TurnRecord{Content: "a"})
	s.Append("k1", TurnRecord{Content: "b"})
	s.Append("k1", TurnRecord{Content: "c"})

	got := s.Recent("k1", 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	if got[0].Content != "a" || got[2].Content != "c" {
		t.Fatalf("expected turns in append order, got %v", got)
	}
}

func TestAppend_EvictsOldestPastMaxTurns(t *testing.T) {
	s := New()
	for i := 0; i < MaxTurns+10; i++ {
		s.Append("k1", TurnRecord{TimestampMs: int64(i)})
	}

	got := s.Recent("k1", MaxTurns+10)
	if len(got) != MaxTurns {
		t.Fatalf("expected ring capped at %d, got %d", MaxTurns, len(got))
	}
	if got[0].TimestampMs != 10 {
		t.Fatalf("expected oldest 10 entries evicted FIFO, got first=%d", got[0].TimestampMs)
	}
}

func TestRecent_NReturnsOnlyLastN(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Append("k1", TurnRecord{TimestampMs: int64(i)})
	}
	got := s.Recent("k1", 2)
	if len(got) != 2 || got[0].TimestampMs != 3 || got[1].TimestampMs != 4 {
		t.Fatalf("expected last 2 turns [3,4], got %v", got)
	}
}

func TestRecent_NGreaterThanAvailableReturnsAll(t *testing.T) {
	s := New()
	s.Append("k1", TurnRecord{Content: "a"})
	got := s.Recent("k1", 100)
	if len(got) != 1 {
		t.Fatalf("expected 1 turn when fewer exist than requested, got %d", len(got))
	}
}

func TestRecent_UnknownKeyReturnsEmpty(t *testing.T) {
	s := New()
	got := s.Recent("nonexistent", 10)
	if len(got) != 0 {
		t.Fatalf("expected no turns for an unknown key, got %v", got)
	}
}

func TestClear_RemovesAllTurns(t *testing.T) {
	s := New()
	s.Append("k1", TurnRecord{Content: "a"})
	s.Clear("k1")
	if got := s.Recent("k1", 10); len(got) != 0 {
		t.Fatalf("expected no turns after Clear, got %v", got)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	s := New()
	s.Append("k1", TurnRecord{Content: "a"})
	s.Append("k2", TurnRecord{Content: "b"})

	if len(s.Recent("k1", 10)) != 1 || len(s.Recent("k2", 10)) != 1 {
		t.Fatal("expected each key's ring to be independent")
	}
}
