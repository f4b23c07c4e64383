package preprocess

import (
	"testing"
	"time"

	"github.com/stellarlinkco/myclaw/internal/convlog"
	"github.com/stellarlinkco/myclaw/internal/energy"
	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/stats"
)

func testProcessor() *Processor {
	return &Processor{
		Log:           convlog.New(),
		Stats:         stats.New(),
		GroupActivity: energy.NewTracker(time.Minute, 1),
	}
}

func TestProcess_FromBotStopsWithoutStaleFlag(t *testing.T) {
	p := testProcessor()
	now := time.Now()

	class := p.Process(event.ChatEvent{
		Platform:  "telegram",
		GroupID:   "g1",
		UserID:    "bot",
		RawText:   "echo",
		FromBot:   true,
		Timestamp: now,
	})

	if class.ShouldContinue {
		t.Fatal("expected ShouldContinue=false for bot-originated event")
	}
	if class.Stale {
		t.Error("FromBot event should not be marked Stale")
	}
}

func TestProcess_StaleBackfillIsFlagged(t *testing.T) {
	p := testProcessor()
	old := time.Now().Add(-time.Hour)

	class := p.Process(event.ChatEvent{
		Platform:   "telegram",
		GroupID:    "g1",
		UserID:     "u1",
		RawText:    "old message",
		Timestamp:  old,
		IngestTime: time.Now(),
	})

	if class.ShouldContinue {
		t.Fatal("expected ShouldContinue=false for stale backfill")
	}
	if !class.Stale {
		t.Error("expected Stale=true for backfill past the threshold")
	}
}

func TestProcess_StaleMentionStillContinues(t *testing.T) {
	p := testProcessor()
	old := time.Now().Add(-time.Hour)

	class := p.Process(event.ChatEvent{
		Platform:    "telegram",
		GroupID:     "g1",
		UserID:      "u1",
		RawText:     "hey bot are you there",
		MentionsBot: true,
		Timestamp:   old,
		IngestTime:  time.Now(),
	})

	if !class.ShouldContinue {
		t.Fatal("a mention should continue even when timestamp lag is large")
	}
	if !class.IsMention {
		t.Error("expected IsMention=true")
	}
}

func TestProcess_CommandClassification(t *testing.T) {
	p := testProcessor()

	class := p.Process(event.ChatEvent{
		Platform:  "telegram",
		GroupID:   "g1",
		UserID:    "u1",
		RawText:   "/help",
		Timestamp: time.Now(),
	})

	if !class.ShouldContinue || !class.IsCommand {
		t.Fatalf("expected command to continue and classify as command, got %+v", class)
	}
}

func TestIsCommand(t *testing.T) {
	cases := map[string]bool{
		"/help":   true,
		"！reset":  true,
		"hello":   false,
		"  /help": true,
		"":        false,
	}
	for text, want := range cases {
		if got := IsCommand(text); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", text, got, want)
		}
	}
}
