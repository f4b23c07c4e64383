// Package preprocess implements the event preprocessor and classifier
// (C3): append every event to the conversation log with derived
// fields, skip stats for bot-originated and stale-backfill traffic, and
// classify the remainder as command/mention/conversational for the
// orchestrator's branch.
package preprocess

import (
	"strings"
	"time"

	"github.com/stellarlinkco/myclaw/internal/convlog"
	"github.com/stellarlinkco/myclaw/internal/energy"
	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/stats"
)

// StaleBackfillThreshold is the spec's default (ingestTime-eventTime)
// cutoff past which a non-mention, non-command message is treated as
// backfill: logged for context, but excluded from stats.
const StaleBackfillThreshold = 30 * time.Second

// Classification is the result handed back to the orchestrator.
type Classification struct {
	ShouldContinue bool
	IsCommand      bool
	IsMention      bool

	// Stale reports whether ShouldContinue was cleared because the
	// event's ingest lag exceeded StaleBackfillThreshold, as opposed to
	// being a bot-originated echo.
	Stale bool
}

// Processor bundles the collaborators the preprocessor writes through.
type Processor struct {
	Log           *convlog.Store
	Stats         *stats.Store
	GroupActivity *energy.Tracker
}

// Process appends evt to the conversation log and updates stats/activity
// as appropriate, returning the classification the orchestrator branches
// on.
func (p *Processor) Process(evt event.ChatEvent) Classification {
	sessionKey := evt.SessionKey()
	memberKey := evt.Platform + ":" + evt.GroupID + ":" + evt.UserID

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = evt.IngestTime
	}
	isCommand := IsCommand(evt.RawText)

	p.Log.Append(sessionKey, convlog.TurnRecord{
		Role:        "user",
		Content:     evt.RawText,
		TimestampMs: ts.UnixMilli(),
		UserID:      evt.UserID,
		UserName:    evt.UserName,
		MentionsBot: evt.MentionsBot,
		IsCommand:   isCommand,
	})

	if evt.FromBot {
		return Classification{ShouldContinue: false}
	}

	lag := evt.IngestTime.Sub(evt.Timestamp)
	if !evt.Timestamp.IsZero() && lag > StaleBackfillThreshold && !evt.MentionsBot && !isCommand {
		return Classification{ShouldContinue: false, Stale: true}
	}

	p.Stats.OnUserMessage(memberKey, sessionKey, ts, evt.RawText, evt.MentionsBot)
	p.GroupActivity.Record(sessionKey, ts)

	return Classification{ShouldContinue: true, IsCommand: isCommand, IsMention: evt.MentionsBot}
}

// IsCommand reports whether text begins with a recognized command
// prefix ("/" or "！", the orchestrator's two recognized prefixes).
func IsCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "！")
}
