package sendpipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/session"
)

type zeroRNG struct{}

func (zeroRNG) Float64() float64 { return 0 }

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSender) SendText(groupID, text, replyTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func TestSend_CancellationDuringTypingDelayAbortsSend(t *testing.T) {
	sessions := session.New()
	sender := &fakeSender{}
	p := &Pipeline{Sessions: sessions, Sender: sender, RNG: zeroRNG{}}

	go func() {
		time.Sleep(20 * time.Millisecond)
		sessions.NoteIncoming("sess1", 1)
	}()

	result := p.Send("sess1", event.Enriched{ChatEvent: event.ChatEvent{GroupID: "g1"}}, "short reply text", Style{}, false)
	if result.Sent || !result.Cancelled {
		t.Fatalf("expected the typing-interruption to cancel the send, got %+v", result)
	}
	if sender.count() != 0 {
		t.Fatalf("expected no sends after cancellation, got %d", sender.count())
	}
}

func TestSend_SuccessfulSingleSegmentSend(t *testing.T) {
	sessions := session.New()
	sender := &fakeSender{}
	p := &Pipeline{Sessions: sessions, Sender: sender, RNG: zeroRNG{}}

	result := p.Send("sess1", event.Enriched{ChatEvent: event.ChatEvent{GroupID: "g1"}}, "ok", Style{}, false)
	if !result.Sent || result.Cancelled {
		t.Fatalf("expected a successful send, got %+v", result)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly 1 segment sent, got %d", sender.count())
	}
}

func TestResolveReplyTo_NoQuoteTargetReturnsEmpty(t *testing.T) {
	sessions := session.New()
	p := &Pipeline{Sessions: sessions}
	evt := event.Enriched{ChatEvent: event.ChatEvent{Seq: 10}}
	if got := p.resolveReplyTo("sess1", evt); got != "" {
		t.Fatalf("expected empty replyTo with no quote target, got %q", got)
	}
}

func TestResolveReplyTo_ForceQuoteOverridesGap(t *testing.T) {
	sessions := session.New()
	sessions.MarkForceQuoteNextFlush("sess1")
	p := &Pipeline{Sessions: sessions}

	evt := event.Enriched{
		ChatEvent:   event.ChatEvent{Seq: 1},
		QuoteTarget: &event.QuoteTarget{MessageID: "m1", Seq: 1},
	}
	if got := p.resolveReplyTo("sess1", evt); got != "m1" {
		t.Fatalf("expected forced quote to return target message id, got %q", got)
	}
}

func TestResolveReplyTo_GapBelowThresholdOmitsQuote(t *testing.T) {
	sessions := session.New()
	p := &Pipeline{Sessions: sessions}

	evt := event.Enriched{
		ChatEvent:   event.ChatEvent{Seq: 2},
		QuoteTarget: &event.QuoteTarget{MessageID: "m1", Seq: 1},
	}
	if got := p.resolveReplyTo("sess1", evt); got != "" {
		t.Fatalf("expected no quote below the gap threshold, got %q", got)
	}
}

func TestResolveReplyTo_GapAtOrAboveThresholdQuotes(t *testing.T) {
	sessions := session.New()
	p := &Pipeline{Sessions: sessions}

	evt := event.Enriched{
		ChatEvent:   event.ChatEvent{Seq: 4},
		QuoteTarget: &event.QuoteTarget{MessageID: "m1", Seq: 1},
	}
	if got := p.resolveReplyTo("sess1", evt); got != "m1" {
		t.Fatalf("expected quote once gap reaches threshold, got %q", got)
	}
}

func TestSplitBrkAndNewlines_CapsAtThreeSegments(t *testing.T) {
	segs := splitBrkAndNewlines("a<brk>b<brk>c<brk>d")
	if len(segs) != 3 {
		t.Fatalf("expected at most 3 segments, got %d: %v", len(segs), segs)
	}
}

func TestSplitBrkAndNewlines_DropsEmptyParts(t *testing.T) {
	segs := splitBrkAndNewlines("a<brk>\n<brk>b")
	for _, s := range segs {
		if s == "" {
			t.Fatalf("expected no empty segments, got %v", segs)
		}
	}
}

func TestPlanUtterance_ShortTextIsSingleSegment(t *testing.T) {
	plan := PlanUtterance("短文本", 0.5, 0.5, false, zeroRNG{})
	if len(plan.Segments) != 1 {
		t.Fatalf("expected a single segment for short text, got %d", len(plan.Segments))
	}
}

func TestPlanUtterance_LongLowVerbosityStaysSingle(t *testing.T) {
	text := ""
	for i := 0; i < 60; i++ {
		text += "字"
	}
	plan := PlanUtterance(text, 0.1, 0.1, false, zeroRNG{})
	if len(plan.Segments) != 1 {
		t.Fatalf("expected low verbosity to keep a single segment, got %d", len(plan.Segments))
	}
}

func TestPlanUtterance_LongHighVerbositySplitsMultiple(t *testing.T) {
	text := ""
	for i := 0; i < 30; i++ {
		text += "这是一句话。"
	}
	plan := PlanUtterance(text, 0.8, 0.8, false, zeroRNG{})
	if len(plan.Segments) < 2 {
		t.Fatalf("expected multiple segments for long high-verbosity text, got %d", len(plan.Segments))
	}
	if len(plan.Segments) > 4 {
		t.Fatalf("expected at most 4 segments, got %d", len(plan.Segments))
	}
}

func TestPlanUtterance_FirstSegmentHasNoDelay(t *testing.T) {
	text := ""
	for i := 0; i < 30; i++ {
		text += "这是一句话。"
	}
	plan := PlanUtterance(text, 0.8, 0.8, false, zeroRNG{})
	if plan.Segments[0].DelayMs != 0 {
		t.Fatalf("expected the first segment to have zero delay, got %d", plan.Segments[0].DelayMs)
	}
}

func TestCoalesceTo_MergesDownToTarget(t *testing.T) {
	parts := []string{"a", "b", "c", "d", "e"}
	got := coalesceTo(parts, 2)
	if len(got) != 2 {
		t.Fatalf("expected coalescing down to 2 parts, got %d: %v", len(got), got)
	}
}

func TestStripTrailingPunctuation(t *testing.T) {
	if got := stripTrailingPunctuation("好的。"); got != "好的" {
		t.Fatalf("expected trailing punctuation stripped, got %q", got)
	}
}
