// Package sendpipeline implements the send pipeline (C10): typing
// delay, segment splitting and dispatch, cancellation polling, and the
// reply-to (quote) decision. Cancellation is driven entirely through
// the session store's TypingToken (C1/C11); the send loop here never
// owns cancellation state itself.
package sendpipeline

import (
	"strings"
	"time"

	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/session"
)

// Sender is the outbound adapter call the send pipeline drives.
type Sender interface {
	SendText(groupID, text string, replyTo string) error
}

// Style bundles the style knobs the send pipeline needs from the
// reply pipeline's outcome, without depending on the reply package.
type Style struct {
	Verbosity                float64
	MultiUtterancePreference float64
}

// Result reports what the send pipeline did.
type Result struct {
	Sent      bool
	Cancelled bool
}

const (
	minTypingDelay = 2800 * time.Millisecond
	maxTypingDelay = 8000 * time.Millisecond
	maxSegmentDelay = 3000 * time.Millisecond
	quoteSeqGap     = 3
)

// Pipeline bundles the collaborators for one send call.
type Pipeline struct {
	Sessions *session.Store
	Sender   Sender
	RNG      RNG
}

// RNG is the jitter source for typing delay and segment delay.
type RNG interface {
	Float64() float64
}

// Send implements §4.10 steps 1-8.
func (p *Pipeline) Send(sessionKey string, evt event.Enriched, text string, style Style, isAtReply bool) Result {
	token := p.Sessions.StartTyping(sessionKey)
	defer p.Sessions.EndTyping(sessionKey, token)

	replyTo := p.resolveReplyTo(sessionKey, evt)

	plan := PlanUtterance(text, style.Verbosity, style.MultiUtterancePreference, isAtReply, p.RNG)

	typingDelay := clampDuration(
		time.Duration(1000+int(60*float64(len([]rune(text)))+p.RNG.Float64()*1500))*time.Millisecond,
		minTypingDelay, maxTypingDelay,
	)
	if !p.sleep(token, typingDelay) {
		return Result{Sent: false, Cancelled: true}
	}

	if strings.Contains(text, "<brk>") || strings.Contains(text, "\n") {
		return p.sendSplit(evt.GroupID, token, text, replyTo)
	}
	return p.sendPlanned(evt.GroupID, token, plan, replyTo)
}

func (p *Pipeline) resolveReplyTo(sessionKey string, evt event.Enriched) string {
	if evt.QuoteTarget == nil || evt.QuoteTarget.MessageID == "" || evt.QuoteTarget.MessageID == "0" {
		return ""
	}
	force := p.Sessions.ForceQuoteNextFlush(sessionKey)
	gapOK := evt.Seq >= evt.QuoteTarget.Seq && (evt.Seq-evt.QuoteTarget.Seq) >= quoteSeqGap
	if force || gapOK {
		return evt.QuoteTarget.MessageID
	}
	return ""
}

func (p *Pipeline) sendSplit(groupID string, token *session.TypingToken, text, replyTo string) Result {
	segments := splitBrkAndNewlines(text)
	prevLen := 0
	for i, seg := range segments {
		if i > 0 {
			delay := clampDuration(
				time.Duration(500+int(40*float64(prevLen)+p.RNG.Float64()*700))*time.Millisecond,
				0, maxSegmentDelay,
			)
			if !p.sleep(token, delay) {
				return Result{Sent: false, Cancelled: true}
			}
		}
		if token.Cancelled() {
			return Result{Sent: false, Cancelled: true}
		}
		rt := ""
		if i == 0 {
			rt = replyTo
		}
		if err := p.Sender.SendText(groupID, seg, rt); err != nil {
			return Result{Sent: i > 0, Cancelled: false}
		}
		prevLen = len([]rune(seg))
	}
	return Result{Sent: true}
}

func (p *Pipeline) sendPlanned(groupID string, token *session.TypingToken, plan UtterancePlan, replyTo string) Result {
	for i, seg := range plan.Segments {
		if seg.DelayMs > 0 {
			if !p.sleep(token, time.Duration(seg.DelayMs)*time.Millisecond) {
				return Result{Sent: false, Cancelled: true}
			}
		}
		if token.Cancelled() {
			return Result{Sent: false, Cancelled: true}
		}
		rt := ""
		if i == 0 {
			rt = replyTo
		}
		if err := p.Sender.SendText(groupID, seg.Text, rt); err != nil {
			return Result{Sent: i > 0, Cancelled: false}
		}
	}
	return Result{Sent: true}
}

// sleep waits for d while polling token.Cancelled at a fine grain, so a
// cancellation mid-sleep is observed promptly rather than only at sleep
// boundaries.
func (p *Pipeline) sleep(token *session.TypingToken, d time.Duration) bool {
	if token.Cancelled() {
		return false
	}
	const tick = 50 * time.Millisecond
	remaining := d
	for remaining > 0 {
		step := tick
		if step > remaining {
			step = remaining
		}
		time.Sleep(step)
		remaining -= step
		if token.Cancelled() {
			return false
		}
	}
	return true
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func splitBrkAndNewlines(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "<brk>") {
		out = append(out, strings.Split(part, "\n")...)
	}
	trimmed := make([]string, 0, len(out))
	for _, s := range out {
		s = strings.TrimSpace(s)
		if s != "" {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) > 3 {
		trimmed = trimmed[:3]
	}
	return trimmed
}
