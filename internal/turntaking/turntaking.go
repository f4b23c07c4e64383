// Package turntaking implements the turn-taking guard and typing
// interruption notifier (C11). The guard runs just before a debounced
// snapshot enters the reply pipeline; the interruption notifier runs on
// every incoming event regardless of path, cancelling an in-flight send
// once enough new traffic has arrived mid-typing.
package turntaking

import (
	"strings"
	"time"

	"github.com/stellarlinkco/myclaw/internal/session"
)

// DefaultInterruptThreshold is the spec's default incomingWhileTyping
// cutoff (3+ new messages cancels the active typing token).
const DefaultInterruptThreshold = 3

// DefaultHardQuietPeriod is the spec's sinceLastBotReply allowance.
const DefaultHardQuietPeriod = 5 * time.Second

var interrogativeLexicon = []string{"吗", "呢", "什么", "怎么", "为什么"}

// GuardInput bundles what the guard needs to decide.
type GuardInput struct {
	ForceQuoteNextFlush bool
	LastBotReplyAt      time.Time
	Now                 time.Time
	Count               int
	MergedText          string
}

// Allow implements §4.11's guard: forced quote, quiet period, or a
// multi-message question burst all permit a reply; otherwise skip.
func Allow(in GuardInput) bool {
	if in.ForceQuoteNextFlush {
		return true
	}
	if in.LastBotReplyAt.IsZero() {
		return true
	}
	if in.Now.Sub(in.LastBotReplyAt) >= DefaultHardQuietPeriod {
		return true
	}
	if in.Count >= 2 && isQuestion(in.MergedText) {
		return true
	}
	return false
}

func isQuestion(text string) bool {
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

// NotifyIncoming registers a new user event against sessionKey's active
// typing token, cancelling it once the threshold is reached (C11's
// typing-interruption mechanism). No-op if no send is currently active.
func NotifyIncoming(sessions *session.Store, sessionKey string, threshold int) {
	if threshold <= 0 {
		threshold = DefaultInterruptThreshold
	}
	sessions.NoteIncoming(sessionKey, threshold)
}
