package sendpipeline

import (
	"strings"
)

// UtteranceSegment is one planned outgoing chunk with its pre-send delay.
type UtteranceSegment struct {
	Text    string
	DelayMs int
}

// UtterancePlan is the result of planning how to split text for sending.
type UtterancePlan struct {
	Segments []UtteranceSegment
}

// PlanUtterance implements §4.10.1: decide single vs. multi-send from
// length, verbosity, multiUtterancePreference, and isAtReply, then
// split on sentence punctuation (further splitting long parts on
// commas), merging the parts down to a target of 2-4 segments. The
// first segment has no delay;
// each later one waits (400 + U[0,500)) ms scaled by 1 + 0.3·verbosity.
func PlanUtterance(text string, verbosity, multiPreference float64, isAtReply bool, rng RNG) UtterancePlan {
	runes := []rune(strings.TrimSpace(text))
	length := len(runes)

	switch {
	case length <= 40:
		return single(text)
	case length <= 80 && verbosity < 0.5:
		return single(text)
	case length <= 150 && (verbosity < 0.2 || multiPreference < 0.2):
		return single(text)
	}
	if isAtReply && verbosity < 0.6 && length <= 120 {
		return single(text)
	}

	parts := splitSentences(text)
	var expanded []string
	for _, part := range parts {
		if len([]rune(part)) > 40 {
			expanded = append(expanded, splitOnCommas(part)...)
		} else {
			expanded = append(expanded, part)
		}
	}
	parts = expanded

	target := targetSegmentCount(length, verbosity, multiPreference)
	parts = coalesceTo(parts, target)

	segments := make([]UtteranceSegment, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i < len(parts)-1 {
			part = stripTrailingPunctuation(part)
		}
		var delay int
		if i == 0 {
			delay = 0
		} else {
			delay = int(float64(400+int(rng.Float64()*500)) * (1 + 0.3*verbosity))
		}
		segments = append(segments, UtteranceSegment{Text: part, DelayMs: delay})
	}
	if len(segments) == 0 {
		return single(text)
	}
	return UtterancePlan{Segments: segments}
}

func single(text string) UtterancePlan {
	return UtterancePlan{Segments: []UtteranceSegment{{Text: strings.TrimSpace(text), DelayMs: 0}}}
}

var sentenceDelims = []rune("。！？!?\n")

func splitSentences(text string) []string {
	var parts []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if containsRune(sentenceDelims, r) {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return trimNonEmpty(parts)
}

func splitOnCommas(text string) []string {
	var parts []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '，' || r == ',' {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return trimNonEmpty(parts)
}

func trimNonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsRune(set []rune, r rune) bool {
	for _, c := range set {
		if c == r {
			return true
		}
	}
	return false
}

func targetSegmentCount(length int, verbosity, multiPreference float64) int {
	base := 2
	if length > 100 {
		base = 3
	}
	if length > 200 {
		base = 4
	}
	if multiPreference > 0.6 && base < 4 {
		base++
	}
	if verbosity < 0.3 && base > 2 {
		base--
	}
	if base < 2 {
		base = 2
	}
	if base > 4 {
		base = 4
	}
	return base
}

// coalesceTo merges adjacent parts down to at most target segments,
// folding the shortest neighbor pairs first.
func coalesceTo(parts []string, target int) []string {
	for len(parts) > target && len(parts) > 1 {
		minIdx := 0
		minLen := len(parts[0]) + len(parts[1])
		for i := 0; i < len(parts)-1; i++ {
			l := len(parts[i]) + len(parts[i+1])
			if l < minLen {
				minLen = l
				minIdx = i
			}
		}
		merged := parts[minIdx] + parts[minIdx+1]
		next := make([]string, 0, len(parts)-1)
		next = append(next, parts[:minIdx]...)
		next = append(next, merged)
		next = append(next, parts[minIdx+2:]...)
		parts = next
	}
	return parts
}

func stripTrailingPunctuation(s string) string {
	return strings.TrimRight(s, "。！？!?,，")
}
