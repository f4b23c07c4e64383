// Package contextbuilder implements the reply-context assembler (C7):
// selecting the HISTORICAL/NEW_WINDOW turn slices around the last bot
// turn, merging same-speaker runs, and attaching an optional topic-
// summary hint and long-term-memory facts for the prompt builder.
package contextbuilder

import (
	"strings"

	"github.com/stellarlinkco/myclaw/internal/convlog"
)

const (
	fetchWindow  = 40
	mergeGapMs   = 5000
	maxRecent    = 12
	fallbackTail = 6
)

// Meta carries the derived timing facts about the built context.
type Meta struct {
	SinceLastBotMs   int64
	MessagesInWindow int
	IsSameTopic      bool
}

// Context is the output of Build.
type Context struct {
	RecentTurns    []convlog.TurnRecord
	NewWindowStart int
	TargetTurn     *convlog.TurnRecord
	TopicSummary   string
	LongTermMemory []string
	Meta           Meta
}

// MemoryProvider is the narrow interface the context builder uses to
// pull cross-session facts into the MEMORY prompt block. nil disables
// long-term memory entirely.
type MemoryProvider interface {
	Retrieve(sessionKey, query string) ([]string, error)
	ShouldRetrieve(query string) bool
}

// Build assembles a Context for key as of nowMs (unix millis), given the
// just-appended event text (used for the topic heuristic and, if a
// MemoryProvider is configured, long-term-memory retrieval).
func Build(log *convlog.Store, key string, nowMs int64, eventText string, mem MemoryProvider) Context {
	all := log.Recent(key, fetchWindow)

	lastBotIndex := -1
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Role == "bot" {
			lastBotIndex = i
			break
		}
	}

	var sinceLastBotMs int64 = -1
	if lastBotIndex >= 0 {
		sinceLastBotMs = nowMs - all[lastBotIndex].TimestampMs
	}

	var candidate []convlog.TurnRecord
	if lastBotIndex >= 0 && sinceLastBotMs >= 0 && sinceLastBotMs < 2*60*1000 {
		start := lastBotIndex - 5
		if start < 0 {
			start = 0
		}
		candidate = all[start:]
	} else {
		start := len(all) - fallbackTail
		if start < 0 {
			start = 0
		}
		candidate = all[start:]
	}

	newWindowStart := findNewWindowStart(candidate)
	var targetTurn *convlog.TurnRecord
	if len(candidate) > 0 {
		last := candidate[len(candidate)-1]
		targetTurn = &last
	}

	recent := candidate
	if len(recent) > maxRecent {
		trimmed := len(recent) - maxRecent
		recent = recent[trimmed:]
		newWindowStart -= trimmed
		if newWindowStart < 0 {
			newWindowStart = 0
		}
	}

	messagesInWindow := 0
	if lastBotIndex >= 0 {
		messagesInWindow = len(all) - lastBotIndex - 1
	} else {
		messagesInWindow = len(all)
	}

	isSameTopic := sinceLastBotMs >= 0 && sinceLastBotMs < 2*60*1000 && messagesInWindow > 1

	ctx := Context{
		RecentTurns:    recent,
		NewWindowStart: newWindowStart,
		TargetTurn:     targetTurn,
		TopicSummary:   topicSummary(eventText),
		Meta: Meta{
			SinceLastBotMs:   sinceLastBotMs,
			MessagesInWindow: messagesInWindow,
			IsSameTopic:      isSameTopic,
		},
	}

	if mem != nil && mem.ShouldRetrieve(eventText) {
		if facts, err := mem.Retrieve(key, eventText); err == nil {
			ctx.LongTermMemory = facts
		}
	}

	return ctx
}

// findNewWindowStart walks candidate backwards from its end, extending a
// same-speaker run while consecutive turns share UserID and arrive within
// 5s of each other, and returns the index (into candidate) where that run
// begins. Everything from that index onward is the NEW_WINDOW burst;
// everything before it is HISTORICAL.
func findNewWindowStart(candidate []convlog.TurnRecord) int {
	if len(candidate) == 0 {
		return 0
	}
	i := len(candidate) - 1
	for i > 0 {
		prior := candidate[i-1]
		cur := candidate[i]
		if prior.UserID != cur.UserID {
			break
		}
		if cur.TimestampMs-prior.TimestampMs > mergeGapMs {
			break
		}
		i--
	}
	return i
}

func topicSummary(text string) string {
	switch {
	case strings.ContainsAny(text, "?？"):
		return "刚刚在问问题或讨论某个疑问"
	case containsAny(text, emojiLexicon):
		return "在玩表情或梗图"
	case strings.Contains(text, "@"):
		return "在互相调侃艾特"
	case containsAny(text, laughterTokens):
		return "气氛比较活跃"
	default:
		return ""
	}
}

var emojiLexicon = []string{"😂", "🤣", "😭", "👍", "🐶"}
var laughterTokens = []string{"哈哈", "lol", "lmao", "233"}

func containsAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}
