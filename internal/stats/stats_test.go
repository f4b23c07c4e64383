package stats

import (
	"testing"
	"time"
)

func TestOnUserMessage_RecentBufferBoundedAt30(t *testing.T) {
	s := New()
	now := time.Now()

	for i := 0; i < 40; i++ {
		s.OnUserMessage("m1", "g1", now.Add(time.Duration(i)*time.Second), "hi", false)
	}

	m := s.member("m1")
	m.mu.Lock()
	n := len(m.recent)
	total := m.totalMessagesFromUser
	m.mu.Unlock()

	if n > recentMessagesMax {
		t.Fatalf("expected recent buffer capped at %d, got %d", recentMessagesMax, n)
	}
	if total != 40 {
		t.Fatalf("expected total count to keep growing past the cap, got %d", total)
	}
}

func TestOnUserMessage_GroupBufferBoundedAt60(t *testing.T) {
	s := New()
	now := time.Now()

	for i := 0; i < 80; i++ {
		s.OnUserMessage("m1", "g1", now.Add(time.Duration(i)*time.Second), "hi", false)
	}

	g := s.group("g1")
	g.mu.Lock()
	n := len(g.recent)
	g.mu.Unlock()

	if n > groupMessagesMax {
		t.Fatalf("expected group buffer capped at %d, got %d", groupMessagesMax, n)
	}
}

func TestSnapshot_IntimacyGrowsWithBotReplies(t *testing.T) {
	s := New()
	now := time.Now()
	s.OnUserMessage("m1", "g1", now, "hello", false)

	before := s.Snapshot("m1", "g1", now, "hello").Intimacy

	s.OnBotReply("m1", now)
	after := s.Snapshot("m1", "g1", now, "hello").Intimacy

	if after <= before {
		t.Fatalf("expected intimacy to increase after a bot reply: before=%v after=%v", before, after)
	}
}

func TestSnapshot_RepetitionDetectsRepeatedText(t *testing.T) {
	s := New()
	now := time.Now()
	for i := 0; i < 4; i++ {
		s.OnUserMessage("m1", "g1", now.Add(time.Duration(i)*time.Second), "same text", false)
	}

	snap := s.Snapshot("m1", "g1", now.Add(4*time.Second), "same text")
	if snap.Repetition <= 0 {
		t.Fatalf("expected positive repetition score for repeated text, got %v", snap.Repetition)
	}
}

func TestSnapshot_MemeScoreCountsDistinctUsers(t *testing.T) {
	s := New()
	now := time.Now()
	s.OnUserMessage("u1", "g1", now, "lol same", false)
	s.OnUserMessage("u2", "g1", now.Add(time.Second), "lol same", false)
	s.OnUserMessage("u3", "g1", now.Add(2*time.Second), "lol same", false)

	snap := s.Snapshot("u3", "g1", now.Add(2*time.Second), "lol same")
	if snap.MemeScore <= 0 {
		t.Fatalf("expected positive meme score with 3 distinct users repeating text, got %v", snap.MemeScore)
	}
}

func TestSnapshot_HelpSeekingClassification(t *testing.T) {
	s := New()
	now := time.Now()
	for i := 0; i < 3; i++ {
		s.OnUserMessage("u1", "g1", now.Add(time.Duration(i)*time.Second), "why does this happen?", false)
	}

	snap := s.Snapshot("u1", "g1", now.Add(3*time.Second), "why does this happen?")
	if snap.SpamType != SpamHelpSeeking {
		t.Fatalf("expected SpamHelpSeeking classification, got %v", snap.SpamType)
	}
	if snap.Urgency <= 0 {
		t.Fatal("expected urgency to be positive for a help-seeking burst")
	}
}

func TestSnapshot_NoiseClassification(t *testing.T) {
	s := New()
	now := time.Now()
	for i := 0; i < 3; i++ {
		s.OnUserMessage("u1", "g1", now.Add(time.Duration(i)*time.Second), "..", false)
	}

	snap := s.Snapshot("u1", "g1", now.Add(3*time.Second), "..")
	if snap.SpamType != SpamNoise {
		t.Fatalf("expected SpamNoise classification for punctuation-only spam, got %v", snap.SpamType)
	}
}

func TestReset_ClearsMemberAndGroupState(t *testing.T) {
	s := New()
	now := time.Now()
	s.OnUserMessage("m1", "g1", now, "hello", false)
	s.OnBotReply("m1", now)

	s.Reset("m1", "g1")

	snap := s.Snapshot("m1", "g1", now, "hello")
	if snap.TotalMessages != 0 || snap.RepliesFromBot != 0 {
		t.Fatalf("expected Reset to clear member counters, got %+v", snap)
	}

	g := s.group("g1")
	g.mu.Lock()
	n := len(g.recent)
	g.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected Reset to clear the group buffer, got %d entries", n)
	}
}

func TestReset_DoesNotAffectOtherKeys(t *testing.T) {
	s := New()
	now := time.Now()
	s.OnUserMessage("m1", "g1", now, "hello", false)
	s.OnUserMessage("m2", "g2", now, "hi", false)

	s.Reset("m1", "g1")

	snap := s.Snapshot("m2", "g2", now, "hi")
	if snap.TotalMessages != 1 {
		t.Fatalf("expected an unrelated member/group to be unaffected by Reset, got %+v", snap)
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{
		-1:  0,
		0:   0,
		0.5: 0.5,
		1:   1,
		2:   1,
	}
	for in, want := range cases {
		if got := clamp01(in); got != want {
			t.Errorf("clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestIsPunctuationOnly(t *testing.T) {
	cases := map[string]bool{
		"...":   true,
		"":      false,
		"hello": false,
		"!!? ":  true,
	}
	for text, want := range cases {
		if got := isPunctuationOnly(text); got != want {
			t.Errorf("isPunctuationOnly(%q) = %v, want %v", text, got, want)
		}
	}
}
