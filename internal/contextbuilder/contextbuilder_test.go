package contextbuilder

import (
	"errors"
	"testing"

	"github.com/stellarlinkco/myclaw/internal/convlog"
)

type fakeMemory struct {
	should bool
	facts  []string
	err    error
}

func (f *fakeMemory) ShouldRetrieve(query string) bool { return f.should }
func (f *fakeMemory) Retrieve(sessionKey, query string) ([]string, error) {
	return f.facts, f.err
}

func seedLog(t *testing.T, log *convlog.Store, key string) {
	t.Helper()
	log.Append(key, convlog.TurnRecord{Role: "user", Content: "hi", TimestampMs: 1000, UserID: "u1"})
	log.Append(key, convlog.TurnRecord{Role: "bot", Content: "hello there", TimestampMs: 2000})
	log.Append(key, convlog.TurnRecord{Role: "user", Content: "how are you?", TimestampMs: 3000, UserID: "u1"})
}

func TestBuild_NoMemoryProviderLeavesLongTermMemoryNil(t *testing.T) {
	log := convlog.New()
	seedLog(t, log, "k1")

	ctx := Build(log, "k1", 4000, "how are you?", nil)
	if ctx.LongTermMemory != nil {
		t.Fatalf("expected nil LongTermMemory with no provider, got %v", ctx.LongTermMemory)
	}
}

func TestBuild_MemoryRetrievedWhenShouldRetrieveTrue(t *testing.T) {
	log := convlog.New()
	seedLog(t, log, "k1")
	mem := &fakeMemory{should: true, facts: []string{"fact one"}}

	ctx := Build(log, "k1", 4000, "how are you?", mem)
	if len(ctx.LongTermMemory) != 1 || ctx.LongTermMemory[0] != "fact one" {
		t.Fatalf("expected long-term memory to be populated, got %v", ctx.LongTermMemory)
	}
}

func TestBuild_MemorySkippedWhenShouldRetrieveFalse(t *testing.T) {
	log := convlog.New()
	seedLog(t, log, "k1")
	mem := &fakeMemory{should: false, facts: []string{"should not appear"}}

	ctx := Build(log, "k1", 4000, "ok", mem)
	if ctx.LongTermMemory != nil {
		t.Fatalf("expected no retrieval when ShouldRetrieve is false, got %v", ctx.LongTermMemory)
	}
}

func TestBuild_MemoryErrorLeavesLongTermMemoryNil(t *testing.T) {
	log := convlog.New()
	seedLog(t, log, "k1")
	mem := &fakeMemory{should: true, err: errors.New("boom")}

	ctx := Build(log, "k1", 4000, "how are you?", mem)
	if ctx.LongTermMemory != nil {
		t.Fatalf("expected a retrieval error to leave LongTermMemory nil, got %v", ctx.LongTermMemory)
	}
}

func TestBuild_SinceLastBotMsComputedFromLastBotTurn(t *testing.T) {
	log := convlog.New()
	seedLog(t, log, "k1")

	ctx := Build(log, "k1", 5000, "how are you?", nil)
	if ctx.Meta.SinceLastBotMs != 3000 {
		t.Fatalf("expected SinceLastBotMs=3000 (5000-2000), got %d", ctx.Meta.SinceLastBotMs)
	}
}

func TestBuild_NoPriorBotTurnYieldsNegativeSinceLastBot(t *testing.T) {
	log := convlog.New()
	log.Append("k2", convlog.TurnRecord{Role: "user", Content: "first message", TimestampMs: 1000, UserID: "u1"})

	ctx := Build(log, "k2", 2000, "first message", nil)
	if ctx.Meta.SinceLastBotMs != -1 {
		t.Fatalf("expected SinceLastBotMs=-1 with no prior bot turn, got %d", ctx.Meta.SinceLastBotMs)
	}
}

func TestBuild_SameUserBurstAllLandsInNewWindow(t *testing.T) {
	log := convlog.New()
	log.Append("k3", convlog.TurnRecord{Role: "bot", Content: "earlier reply", TimestampMs: 1000})
	log.Append("k3", convlog.TurnRecord{Role: "user", Content: "hello", TimestampMs: 2000, UserID: "u1"})
	log.Append("k3", convlog.TurnRecord{Role: "user", Content: "are you there", TimestampMs: 2500, UserID: "u1"})
	log.Append("k3", convlog.TurnRecord{Role: "user", Content: "bot?", TimestampMs: 3000, UserID: "u1"})

	ctx := Build(log, "k3", 3000, "bot?", nil)

	if ctx.NewWindowStart >= len(ctx.RecentTurns) {
		t.Fatalf("expected NewWindowStart to leave turns in the new window, got start=%d len=%d", ctx.NewWindowStart, len(ctx.RecentTurns))
	}
	newWindow := ctx.RecentTurns[ctx.NewWindowStart:]
	if len(newWindow) != 3 {
		t.Fatalf("expected all 3 burst messages in the new window, got %d: %v", len(newWindow), newWindow)
	}
	for i, want := range []string{"hello", "are you there", "bot?"} {
		if newWindow[i].Content != want {
			t.Fatalf("expected new window turn %d to be %q, got %q", i, want, newWindow[i].Content)
		}
	}

	historical := ctx.RecentTurns[:ctx.NewWindowStart]
	if len(historical) != 1 || historical[0].Content != "earlier reply" {
		t.Fatalf("expected only the prior bot turn in historical, got %v", historical)
	}
}

func TestTopicSummary_QuestionHint(t *testing.T) {
	if s := topicSummary("what is going on?"); s == "" {
		t.Fatal("expected a non-empty topic hint for a question")
	}
}

func TestTopicSummary_DefaultEmpty(t *testing.T) {
	if s := topicSummary("just a plain statement"); s != "" {
		t.Fatalf("expected empty topic summary for plain text, got %q", s)
	}
}
