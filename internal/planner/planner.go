// Package planner implements the reply decision model (C6): a pure
// function from an event plus current signals to a PlanResult, scoring
// energy, group-activity, intimacy, spam classification, and cooldown
// against an injectable RNG so tests stay deterministic.
//
// The weighted-sum-plus-jitter-plus-clamp shape is grounded on the
// corpus's mind.decision.go DesireToSpeak: multiply each signal by a
// fixed weight, add a bounded random term, clamp to [0,1].
package planner

import (
	"strings"
	"time"

	"github.com/stellarlinkco/myclaw/internal/stats"
)

// Mode is the reply style the send/prompt pipelines key off of.
type Mode string

const (
	ModeIgnore             Mode = "ignore"
	ModeCommand            Mode = "command"
	ModeSmalltalk          Mode = "smalltalk"
	ModeCasual             Mode = "casual"
	ModeFragment           Mode = "fragment"
	ModeDirectAnswer       Mode = "directAnswer"
	ModePassiveAcknowledge Mode = "passiveAcknowledge"
	ModePlayfulTease       Mode = "playfulTease"
	ModeEmpathySupport     Mode = "empathySupport"
	ModeDeflect            Mode = "deflect"
)

// RNG is the random source the planner draws from. *rand.Rand (and
// math/rand/v2's *rand.Rand) both satisfy this, and tests can supply a
// fixed-sequence fake for determinism.
type RNG interface {
	Float64() float64
}

// Input bundles everything the planner needs about the current event.
type Input struct {
	Text        string
	MentionsBot bool
	Now         time.Time

	LastBotReplyAt time.Time // zero value == no prior reply this session

	MemberSnapshot  stats.Snapshot
	GroupActivity   float64 // from energy.Tracker.Activity, already normalized
	EnergyValue     float64 // from energy.State.Value()
}

// Result is the planner's decision.
type Result struct {
	ShouldReply bool
	Mode        Mode
	DelayMs     int
	Probability float64
	DebugReason string
}

// Config holds the spec's cooldown knobs; defaults match §6.
type Config struct {
	HardCooldown        time.Duration
	SoftCooldown        time.Duration
	SoftSkipProbability float64
}

// DefaultConfig returns the spec's default cooldown knobs.
func DefaultConfig() Config {
	return Config{
		HardCooldown:        5 * time.Second,
		SoftCooldown:        12 * time.Second,
		SoftSkipProbability: 0.65,
	}
}

var strongEmotionMarkers = []string{"!", "！", "救命", "急", "help", "urgent", "气死", "崩溃"}
var helpWords = []string{"怎么办", "帮我", "求助", "help", "how do i", "can you help"}
var topicKeywords = []string{"今天", "刚才", "然后", "对了"}

func isQuestion(text string) bool {
	return strings.ContainsAny(text, "?？") || containsAny(text, interrogativeLexicon)
}

var interrogativeLexicon = []string{"吗", "呢", "什么", "怎么", "为什么"}

func containsAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func hasStrongEmotion(text string) bool {
	return containsAny(text, strongEmotionMarkers)
}

// Plan scores evt against cfg and rng, returning a deterministic
// decision for the given inputs and RNG state.
func Plan(in Input, cfg Config, rng RNG) Result {
	text := strings.TrimSpace(in.Text)

	if strings.HasPrefix(text, "/") || strings.HasPrefix(text, "！") {
		return Result{ShouldReply: true, Mode: ModeCommand, DelayMs: 0, Probability: 1, DebugReason: "command"}
	}

	if in.MentionsBot {
		return Result{ShouldReply: true, Mode: ModeSmalltalk, DelayMs: 600, Probability: 1, DebugReason: "mention"}
	}

	question := isQuestion(text)
	emotional := hasStrongEmotion(text)

	if !in.LastBotReplyAt.IsZero() {
		since := in.Now.Sub(in.LastBotReplyAt)
		if since < cfg.HardCooldown && !question && !emotional {
			return Result{ShouldReply: false, Mode: ModeIgnore, DebugReason: "cooldown-hard"}
		}
		if since < cfg.SoftCooldown && !question && !emotional {
			if rng.Float64() < cfg.SoftSkipProbability {
				return Result{ShouldReply: false, Mode: ModeIgnore, DebugReason: "cooldown-soft"}
			}
		}
	}

	baseInterest := baseInterestScore(text, rng)
	socialAttention := clamp01(0.5*in.MemberSnapshot.Intimacy+0.5*boolF(in.MentionsBot)) * 0.7
	personaTalkativeness := 0.35
	energyFactor := in.EnergyValue

	p := 0.20*baseInterest + 0.25*socialAttention + 0.10*personaTalkativeness + 0.25*energyFactor

	switch {
	case in.GroupActivity > 0.7:
		p *= 0.3
	case in.GroupActivity > 0.5:
		p *= 0.5
	}

	switch in.MemberSnapshot.SpamType {
	case stats.SpamHelpSeeking:
		p *= 1.2
		if in.MemberSnapshot.Urgency > 0.65 && p < 0.5 {
			p = 0.5
		}
	case stats.SpamMemePlay:
		p *= 0.6
	case stats.SpamNoise:
		p *= 0.2
	}

	if in.MemberSnapshot.Repetition > 0.5 && in.MemberSnapshot.SpamType != stats.SpamHelpSeeking {
		p *= 0.5
	}
	if in.MemberSnapshot.MemeScore > 0.4 {
		p += 0.05
	}
	p = clamp01(p)

	draw := rng.Float64()
	if draw >= p {
		return Result{ShouldReply: false, Mode: ModeIgnore, Probability: p, DebugReason: "dice-skip"}
	}

	mode := pickMode(in.MemberSnapshot, rng)
	return Result{
		ShouldReply: true,
		Mode:        mode,
		DelayMs:     500 + int(rng.Float64()*300),
		Probability: p,
		DebugReason: "reply",
	}
}

func pickMode(snap stats.Snapshot, rng RNG) Mode {
	if snap.SpamType == stats.SpamHelpSeeking && snap.Urgency > 0.7 {
		return ModeDirectAnswer
	}

	if snap.Intimacy > 0.7 && rng.Float64() < 0.25 {
		return ModePlayfulTease
	}

	if snap.Intimacy < 0.3 {
		switch r := rng.Float64(); {
		case r < 0.4:
			return ModeFragment
		case r < 0.7:
			return ModePassiveAcknowledge
		default:
			return ModeCasual
		}
	}

	switch r := rng.Float64(); {
	case r < 0.70:
		return ModeCasual
	case r < 0.90:
		return ModeFragment
	default:
		return ModeSmalltalk
	}
}

func baseInterestScore(text string, rng RNG) float64 {
	if rng.Float64() < 0.10 {
		return 0.05
	}
	score := 0.0
	if strings.ContainsAny(text, "?？") {
		score += 0.25
	}
	if containsAny(text, helpWords) {
		score += 0.25
	}
	score += minF(float64(len([]rune(text)))/100, 0.2)
	if containsAny(text, topicKeywords) {
		score += 0.1
	}
	return clamp01(score) * 0.6
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
