package planner

import (
	"testing"
	"time"

	"github.com/stellarlinkco/myclaw/internal/stats"
)

// fixedRNG returns a scripted sequence of draws, repeating the final
// value once exhausted — deterministic stand-in for the planner's RNG.
type fixedRNG struct {
	vals []float64
	i    int
}

func (f *fixedRNG) Float64() float64 {
	if f.i >= len(f.vals) {
		return f.vals[len(f.vals)-1]
	}
	v := f.vals[f.i]
	f.i++
	return v
}

func TestPlan_CommandShortCircuits(t *testing.T) {
	res := Plan(Input{Text: "/help", Now: time.Now()}, DefaultConfig(), &fixedRNG{vals: []float64{0}})
	if !res.ShouldReply || res.Mode != ModeCommand {
		t.Fatalf("expected command short-circuit, got %+v", res)
	}
}

func TestPlan_MentionShortCircuitsCooldown(t *testing.T) {
	// Boundary scenario: a mention bypasses the hard cooldown entirely,
	// even moments after the last bot reply.
	now := time.Now()
	in := Input{
		Text:           "hey @bot are you there",
		MentionsBot:    true,
		Now:            now,
		LastBotReplyAt: now.Add(-time.Second),
	}
	res := Plan(in, DefaultConfig(), &fixedRNG{vals: []float64{0}})
	if !res.ShouldReply || res.Mode != ModeSmalltalk {
		t.Fatalf("expected mention to short-circuit cooldown, got %+v", res)
	}
}

func TestPlan_HardCooldownSkipsPlainMessage(t *testing.T) {
	// Boundary scenario: a non-question, non-emotional message within
	// the hard cooldown window is always skipped.
	now := time.Now()
	in := Input{
		Text:           "ok cool",
		Now:            now,
		LastBotReplyAt: now.Add(-2 * time.Second),
	}
	cfg := DefaultConfig()
	res := Plan(in, cfg, &fixedRNG{vals: []float64{0}})
	if res.ShouldReply {
		t.Fatalf("expected hard cooldown to suppress reply, got %+v", res)
	}
	if res.DebugReason != "cooldown-hard" {
		t.Errorf("expected debug reason cooldown-hard, got %q", res.DebugReason)
	}
}

func TestPlan_QuestionBypassesHardCooldown(t *testing.T) {
	now := time.Now()
	in := Input{
		Text:           "but why though?",
		Now:            now,
		LastBotReplyAt: now.Add(-2 * time.Second),
	}
	cfg := DefaultConfig()
	res := Plan(in, cfg, &fixedRNG{vals: []float64{0, 0, 0, 0}})
	if res.DebugReason == "cooldown-hard" {
		t.Fatal("a question should bypass the hard cooldown")
	}
}

func TestPlan_SoftCooldownProbabilisticSkip(t *testing.T) {
	now := time.Now()
	in := Input{
		Text:           "ok cool",
		Now:            now,
		LastBotReplyAt: now.Add(-7 * time.Second), // past hard, within soft
	}
	cfg := DefaultConfig()

	// Draw below SoftSkipProbability => skip.
	skip := Plan(in, cfg, &fixedRNG{vals: []float64{0.1}})
	if skip.ShouldReply {
		t.Fatalf("expected soft-cooldown skip on low draw, got %+v", skip)
	}

	// Draw above SoftSkipProbability => proceeds to scoring.
	proceed := Plan(in, cfg, &fixedRNG{vals: []float64{0.99, 0.0, 0.0, 0.0}})
	if proceed.DebugReason == "cooldown-soft" {
		t.Fatal("expected high draw to bypass the soft-cooldown skip")
	}
}

func TestPlan_SpamNoiseSuppressesReply(t *testing.T) {
	now := time.Now()
	in := Input{
		Text: "..",
		Now:  now,
		MemberSnapshot: stats.Snapshot{
			SpamType: stats.SpamNoise,
		},
		EnergyValue: 1,
	}
	res := Plan(in, DefaultConfig(), &fixedRNG{vals: []float64{0.99}})
	if res.ShouldReply {
		t.Fatalf("expected noise-classified spam to very rarely produce a reply on a high draw, got %+v", res)
	}
}

func TestPlan_HelpSeekingUrgencyForcesDirectAnswer(t *testing.T) {
	now := time.Now()
	in := Input{
		Text: "how do i fix this please help",
		Now:  now,
		MemberSnapshot: stats.Snapshot{
			SpamType: stats.SpamHelpSeeking,
			Urgency:  0.9,
		},
		EnergyValue: 1,
	}
	res := Plan(in, DefaultConfig(), &fixedRNG{vals: []float64{0, 0, 0, 0}})
	if !res.ShouldReply || res.Mode != ModeDirectAnswer {
		t.Fatalf("expected urgent help-seeking to produce ModeDirectAnswer, got %+v", res)
	}
}

func TestIsQuestion(t *testing.T) {
	cases := map[string]bool{
		"what time is it?": true,
		"你在吗":              true,
		"just a statement": false,
	}
	for text, want := range cases {
		if got := isQuestion(text); got != want {
			t.Errorf("isQuestion(%q) = %v, want %v", text, got, want)
		}
	}
}
