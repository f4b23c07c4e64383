// Package orchestrator implements the conversation orchestration core
// (C12): the single entry point, handleEvent, that every channel
// adapter feeds normalized ChatEvents into, and the debounce/command/
// conversational branches that fan out to the rest of C1-C11 and C16.
//
// A Core is process-wide and serves every session; per-key isolation
// comes entirely from the collaborators it holds (session.Store's
// runQueued actors, debounce.Table's per-user timers), not from any
// locking in this package.
package orchestrator

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/stellarlinkco/myclaw/internal/command"
	"github.com/stellarlinkco/myclaw/internal/config"
	"github.com/stellarlinkco/myclaw/internal/contextbuilder"
	"github.com/stellarlinkco/myclaw/internal/convlog"
	"github.com/stellarlinkco/myclaw/internal/debounce"
	"github.com/stellarlinkco/myclaw/internal/energy"
	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/persona"
	"github.com/stellarlinkco/myclaw/internal/planner"
	"github.com/stellarlinkco/myclaw/internal/preprocess"
	"github.com/stellarlinkco/myclaw/internal/reply"
	"github.com/stellarlinkco/myclaw/internal/sendpipeline"
	"github.com/stellarlinkco/myclaw/internal/session"
	"github.com/stellarlinkco/myclaw/internal/stats"
	"github.com/stellarlinkco/myclaw/internal/turntaking"
)

// maxMergeWindow caps how many buffered texts a debounced burst merges
// into targetText.
const maxMergeWindow = 6

// quoteTargetMinCount is the burst size at which a quote target is
// scored instead of defaulting to the last event in the burst.
const quoteTargetMinCount = 3

// Send is the outbound capability the orchestrator drives: platform
// names the channel adapter to route through, mirroring
// bus.OutboundMessage.Channel. The send and command-dispatch pipelines
// want a per-platform SendText(groupID, text, replyTo) closure, built
// fresh per event by boundSender below.
type Send func(platform, groupID, text, replyTo string) error

// boundSender closes a Send function over one event's platform,
// satisfying both sendpipeline.Sender and command.Sender.
type boundSender struct {
	platform string
	send     Send
}

func (b boundSender) SendText(groupID, text, replyTo string) error {
	return b.send(b.platform, groupID, text, replyTo)
}

// Remember is the long-term memory write path (C14), invoked after
// every successfully committed reply.
type Remember interface {
	Remember(sessionKey, userID, content string) error
}

// globalRNG satisfies planner.RNG/sendpipeline.RNG over math/rand's
// package-level source, which is safe for concurrent use across the
// parallel sessions the orchestrator drives.
type globalRNG struct{}

func (globalRNG) Float64() float64 { return rand.Float64() }

// Core wires C1-C11 and C16 behind the single handleEvent entry point.
type Core struct {
	Sessions      *session.Store
	Debouncer     *debounce.Table
	Log           *convlog.Store
	Stats         *stats.Store
	Energy        *energy.State
	GroupActivity *energy.Tracker
	Personas      *persona.Registry
	Memory        contextbuilder.MemoryProvider // nil disables long-term memory
	MemoryWriter  Remember                      // nil disables memory writes
	LLM           reply.LLM
	Send          Send

	// OnReplyCommitted fires after a reply is sent and committed,
	// letting the caller buffer it for downstream processing (e.g. the
	// memory engine's quiet-gap extraction) without this package
	// depending on that concern directly.
	OnReplyCommitted func(sessionKey, userID, text string)

	PlannerConfig      planner.Config
	RNG                planner.RNG
	InterruptThreshold int
}

// New builds a Core from the orchestrator configuration surface (§6).
// Send, LLM, Memory/MemoryWriter, and Personas are nil until the caller
// wires them in.
func New(cfg config.OrchestratorConfig) *Core {
	return &Core{
		Sessions:      session.New(),
		Debouncer:     debounce.New(time.Duration(cfg.DebounceDelayMs) * time.Millisecond),
		Log:           convlog.New(),
		Stats:         stats.New(),
		Energy:        energy.New(cfg.EnergyRecoveryPerMin),
		GroupActivity: energy.NewTracker(time.Duration(cfg.ActivityWindowMs)*time.Millisecond, cfg.ActivityNormalizer),
		PlannerConfig: planner.Config{
			HardCooldown:        time.Duration(cfg.HardCooldownMs) * time.Millisecond,
			SoftCooldown:        time.Duration(cfg.SoftCooldownMs) * time.Millisecond,
			SoftSkipProbability: cfg.SoftSkipProbability,
		},
		RNG:                globalRNG{},
		InterruptThreshold: cfg.InterruptThreshold,
	}
}

func (c *Core) preprocessor() *preprocess.Processor {
	return &preprocess.Processor{Log: c.Log, Stats: c.Stats, GroupActivity: c.GroupActivity}
}

// HandleEvent is the orchestrator's sole inbound entry point (§6).
// Errors are swallowed and logged; this never returns a value a channel
// adapter could act on.
func (c *Core) HandleEvent(evt event.ChatEvent) {
	if evt.Platform == "" || evt.GroupID == "" {
		log.Printf("[orchestrator] %v: missing platform or groupId", ErrValidation)
		return
	}

	if evt.IngestTime.IsZero() {
		evt.IngestTime = time.Now()
	}

	class := c.preprocessor().Process(evt)
	if !class.ShouldContinue {
		if class.Stale {
			log.Printf("[orchestrator] %v: %s lag=%s", ErrStaleEvent, evt.SessionKey(), evt.IngestTime.Sub(evt.Timestamp))
		}
		return
	}

	sessionKey := evt.SessionKey()
	evt.Seq = c.Sessions.NextMessageSeq(sessionKey)

	turntaking.NotifyIncoming(c.Sessions, sessionKey, c.InterruptThreshold)

	if class.IsCommand || class.IsMention {
		c.Sessions.RunQueued(sessionKey, func() {
			c.processEvent(event.Enriched{
				ChatEvent:  evt,
				TargetText: evt.RawText,
				QuoteTarget: &event.QuoteTarget{
					MessageID: evt.MessageID,
					Seq:       evt.Seq,
				},
			})
		})
		return
	}

	c.Debouncer.Debounce(evt, func(snap debounce.Snapshot) {
		c.Sessions.RunQueued(sessionKey, func() {
			c.handleDebouncedInternal(sessionKey, snap)
		})
	})
}

func (c *Core) handleDebouncedInternal(sessionKey string, snap debounce.Snapshot) {
	events := snap.Events
	if len(events) > maxMergeWindow {
		events = events[len(events)-maxMergeWindow:]
	}

	texts := make([]string, 0, len(events))
	for _, e := range events {
		if t := strings.TrimSpace(e.RawText); t != "" {
			texts = append(texts, t)
		}
	}
	targetText := strings.Join(texts, " ")

	var quote *event.QuoteTarget
	if snap.Count >= quoteTargetMinCount {
		quote = pickQuoteTarget(snap.Events)
	} else {
		last := snap.LastEvent
		quote = &event.QuoteTarget{MessageID: last.MessageID, Seq: last.Seq}
	}

	merged := event.Enriched{
		ChatEvent:   snap.LastEvent,
		TargetText:  targetText,
		QuoteTarget: quote,
	}

	allow := turntaking.Allow(turntaking.GuardInput{
		ForceQuoteNextFlush: c.Sessions.ForceQuoteNextFlush(sessionKey),
		LastBotReplyAt:      c.Sessions.LastBotReplyAt(sessionKey),
		Now:                 snap.LastAt,
		Count:               snap.Count,
		MergedText:          targetText,
	})
	if !allow {
		return
	}

	c.processEvent(merged)
}

// pickQuoteTarget scores each buffered event (+3 question, +2 length >=
// 12 runes, +1 not punctuation-only, +1 being in the last two) and picks
// the highest, tie-breaking toward later arrival.
func pickQuoteTarget(events []event.ChatEvent) *event.QuoteTarget {
	n := len(events)
	bestIdx := n - 1
	bestScore := -1
	for i, e := range events {
		text := strings.TrimSpace(e.RawText)
		score := 0
		if isQuestionText(text) {
			score += 3
		}
		if len([]rune(text)) >= 12 {
			score += 2
		}
		if !isPunctuationOnlyText(text) {
			score += 1
		}
		if i >= n-2 {
			score += 1
		}
		if score >= bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	best := events[bestIdx]
	return &event.QuoteTarget{MessageID: best.MessageID, Seq: best.Seq}
}

var interrogativeLexicon = []string{"吗", "呢", "什么", "怎么", "为什么"}

func isQuestionText(text string) bool {
	if strings.ContainsAny(text, "?？") {
		return true
	}
	for _, lex := range interrogativeLexicon {
		if strings.Contains(text, lex) {
			return true
		}
	}
	return false
}

func isPunctuationOnlyText(text string) bool {
	if text == "" {
		return true
	}
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// processEvent runs the command or conversational path for merged,
// shared by both the command/mention short-circuit and the debounced
// burst path. Any panic inside the reply or send pipeline is caught
// here and logged; it never escapes to break the session queue.
func (c *Core) processEvent(merged event.Enriched) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[orchestrator] recovered panic processing %s: %v", merged.SessionKey(), r)
		}
	}()

	sessionKey := merged.SessionKey()
	memberKey := merged.UserKey()

	sender := boundSender{platform: merged.Platform, send: c.Send}

	if preprocess.IsCommand(merged.RawText) {
		var switcher command.PersonaSwitcher
		if c.Personas != nil {
			switcher = c.Personas
		}
		dispatcher := &command.Dispatcher{
			Log:      c.Log,
			Stats:    c.Stats,
			Sender:   sender,
			Personas: switcher,
		}
		dispatcher.Handle(merged.ChatEvent)
		return
	}

	if c.LLM == nil {
		log.Printf("[orchestrator] no LLM configured, skipping reply for %s", sessionKey)
		return
	}

	activePersona := persona.Default
	if c.Personas != nil {
		activePersona = c.Personas.Active(sessionKey)
	}

	replyPipeline := &reply.Pipeline{
		Log:           c.Log,
		Stats:         c.Stats,
		Energy:        c.Energy,
		GroupActivity: c.GroupActivity,
		Memory:        c.Memory,
		Persona:       activePersona,
		LLM:           c.LLM,
		PlannerConfig: c.PlannerConfig,
		RNG:           c.RNG,
	}
	sendPipeline := &sendpipeline.Pipeline{
		Sessions: c.Sessions,
		Sender:   sender,
		RNG:      c.RNG,
	}

	outcome, err := replyPipeline.Run(context.Background(), merged, sessionKey, memberKey)
	if err != nil {
		log.Printf("[orchestrator] %v for %s: %v", ErrLLMFailure, sessionKey, err)
		return
	}
	if outcome.Skip {
		log.Printf("[orchestrator] %v %s: %s", ErrPlannerSkip, sessionKey, outcome.SkipReason)
		return
	}

	style := sendpipeline.Style{
		Verbosity:                outcome.Verbosity,
		MultiUtterancePreference: outcome.MultiUtterancePreference,
	}
	result := sendPipeline.Send(sessionKey, merged, outcome.Reply, style, outcome.IsAtReply)
	if !result.Sent {
		if result.Cancelled {
			c.Sessions.MarkForceQuoteNextFlush(sessionKey)
		} else {
			log.Printf("[orchestrator] %v for %s", ErrSendFailure, sessionKey)
		}
		return
	}

	now := time.Now()
	c.Sessions.ClearForceQuoteNextFlush(sessionKey)
	replyPipeline.CommitReply(sessionKey, memberKey, now, outcome.Reply)
	c.Sessions.SetLastBotReplyAt(sessionKey, now)

	if c.OnReplyCommitted != nil {
		c.OnReplyCommitted(sessionKey, merged.UserID, outcome.Reply)
	}

	if c.MemoryWriter != nil {
		writer := c.MemoryWriter
		go func() {
			if err := writer.Remember(sessionKey, merged.UserID, outcome.Reply); err != nil {
				log.Printf("[memory] remember warning: %v", err)
			}
		}()
	}
}

// GC retires sessions whose last bot reply is older than ttl, or that
// have none, stopping their per-key actor goroutine. Delete takes the
// Store lock rather than the session's own lock, so it cannot deadlock
// with a running task; it does not coordinate with RunQueued calls in
// flight for the key (see session.Store.Delete).
func (c *Core) GC(now time.Time, ttl time.Duration) int {
	retired := 0
	for _, key := range c.Sessions.Keys() {
		last := c.Sessions.LastBotReplyAt(key)
		if last.IsZero() || now.Sub(last) > ttl {
			c.Sessions.Delete(key)
			retired++
		}
	}
	return retired
}

// Shutdown cancels pending debounce timers. Session actor goroutines
// are left running; each exits only when its session is deleted.
func (c *Core) Shutdown() {
	c.Debouncer.Shutdown()
}
