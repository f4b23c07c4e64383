// Package reply implements the reply pipeline (C9): run the planner,
// sleep its delay, build context and prompt messages, call the LLM,
// and hand back a held result for the orchestrator to send and commit.
// Structured as a small struct built fresh per event from the latest
// injected collaborators, mirroring the teacher's pattern of
// constructing request-scoped helpers (e.g. Gateway.runAgent) from
// long-lived stores rather than keeping cross-request state.
package reply

import (
	"context"
	"time"

	"github.com/stellarlinkco/myclaw/internal/contextbuilder"
	"github.com/stellarlinkco/myclaw/internal/convlog"
	"github.com/stellarlinkco/myclaw/internal/energy"
	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/persona"
	"github.com/stellarlinkco/myclaw/internal/planner"
	"github.com/stellarlinkco/myclaw/internal/prompt"
	"github.com/stellarlinkco/myclaw/internal/stats"
)

// LLM is the narrow chat interface the reply pipeline calls.
type LLM interface {
	Chat(ctx context.Context, messages []prompt.Message) (string, error)
}

// Outcome is what a successful plan+generate cycle produces.
type Outcome struct {
	Skip                     bool
	SkipReason               string
	Reply                    string
	PlanMode                 planner.Mode
	Verbosity                float64
	MultiUtterancePreference float64
	IsAtReply                bool
	PlanResult               planner.Result
}

// Pipeline bundles the collaborators needed to run one reply cycle. A
// fresh Pipeline is built per event so it always closes over the
// latest injected persona/LLM/memory-provider.
type Pipeline struct {
	Log            *convlog.Store
	Stats          *stats.Store
	Energy         *energy.State
	GroupActivity  *energy.Tracker
	Memory         contextbuilder.MemoryProvider // nil disables long-term memory
	Persona        persona.Profile
	LLM            LLM
	PlannerConfig  planner.Config
	RNG            planner.RNG
}

// Run executes the C9 reply pipeline for evt, whose TargetText/merged
// content has already been decided by the orchestrator.
func (p *Pipeline) Run(ctx context.Context, evt event.Enriched, sessionKey, memberKey string) (Outcome, error) {
	now := evt.Timestamp
	snap := p.Stats.Snapshot(memberKey, sessionKey, now, evt.TargetText)
	_, groupActivity := p.GroupActivity.Activity(sessionKey, now)

	in := planner.Input{
		Text:           evt.TargetText,
		MentionsBot:    evt.MentionsBot,
		Now:            now,
		MemberSnapshot: snap,
		GroupActivity:  groupActivity,
		EnergyValue:    p.Energy.Value(),
	}

	result := planner.Plan(in, p.PlannerConfig, p.RNG)
	if !result.ShouldReply {
		return Outcome{Skip: true, SkipReason: result.DebugReason, PlanResult: result}, nil
	}
	if result.Mode == planner.ModeCommand {
		return Outcome{Skip: true, SkipReason: "command", PlanResult: result}, nil
	}

	if result.DelayMs > 0 {
		select {
		case <-time.After(time.Duration(result.DelayMs) * time.Millisecond):
		case <-ctx.Done():
			return Outcome{Skip: true, SkipReason: "cancelled", PlanResult: result}, nil
		}
	}

	recCtx := contextbuilder.Build(p.Log, sessionKey, now.UnixMilli(), evt.TargetText, p.Memory)
	style := deriveStyle(result.Mode, snap.Intimacy, in.EnergyValue)

	messages := prompt.Build(prompt.Input{
		Persona:    p.Persona,
		Style:      style,
		Context:    recCtx,
		TargetTurn: recCtx.TargetTurn,
		TargetText: evt.TargetText,
	})

	text, err := p.LLM.Chat(ctx, messages)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Reply:                    text,
		PlanMode:                 result.Mode,
		Verbosity:                style.Verbosity,
		MultiUtterancePreference: style.MultiUtterancePreference,
		IsAtReply:                evt.MentionsBot,
		PlanResult:               result,
	}, nil
}

// CommitReply appends the bot turn, records stats and energy spend.
// Callers must only invoke this after a successful send.
func (p *Pipeline) CommitReply(sessionKey, memberKey string, now time.Time, text string) {
	p.Log.Append(sessionKey, convlog.TurnRecord{
		Role:        "bot",
		Content:     text,
		TimestampMs: now.UnixMilli(),
	})
	p.Stats.OnBotReply(memberKey, now)
	p.Energy.OnReplySent(energy.DefaultCostPerReply)
}

// deriveStyle blends a fixed per-mode table with intimacy and energy,
// producing the dynamic style parameters the prompt builder consumes.
func deriveStyle(mode planner.Mode, intimacy, energyValue float64) prompt.DynamicStyleParams {
	base := modeStyleTable[mode]
	if base == (prompt.DynamicStyleParams{}) {
		base = modeStyleTable[planner.ModeCasual]
	}
	return prompt.DynamicStyleParams{
		Tone:                     base.Tone,
		SlangLevel:               clamp01(base.SlangLevel + 0.15*intimacy),
		IntimacyLevel:            intimacy,
		Verbosity:                clamp01(base.Verbosity + 0.1*energyValue),
		MultiUtterancePreference: clamp01(base.MultiUtterancePreference + 0.1*energyValue),
	}
}

var modeStyleTable = map[planner.Mode]prompt.DynamicStyleParams{
	planner.ModeSmalltalk:          {Tone: "轻松闲聊", SlangLevel: 0.4, Verbosity: 0.3, MultiUtterancePreference: 0.2},
	planner.ModeCasual:             {Tone: "随性简短", SlangLevel: 0.5, Verbosity: 0.35, MultiUtterancePreference: 0.3},
	planner.ModeFragment:           {Tone: "碎碎念式回应", SlangLevel: 0.45, Verbosity: 0.15, MultiUtterancePreference: 0.5},
	planner.ModeDirectAnswer:       {Tone: "认真直接", SlangLevel: 0.2, Verbosity: 0.6, MultiUtterancePreference: 0.2},
	planner.ModePassiveAcknowledge: {Tone: "敷衍应和", SlangLevel: 0.3, Verbosity: 0.1, MultiUtterancePreference: 0.1},
	planner.ModePlayfulTease:       {Tone: "调侃吐槽", SlangLevel: 0.6, Verbosity: 0.3, MultiUtterancePreference: 0.4},
	planner.ModeEmpathySupport:     {Tone: "温和安慰", SlangLevel: 0.25, Verbosity: 0.45, MultiUtterancePreference: 0.3},
	planner.ModeDeflect:            {Tone: "转移话题", SlangLevel: 0.35, Verbosity: 0.2, MultiUtterancePreference: 0.2},
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
