// Package stats implements member and group statistics (C4): running
// intimacy, message rate, repetition, meme score, spam classification,
// and urgency. Per-key maps are lazily created and lock-guarded the same
// way internal/session shards session state.
package stats

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	recentMessagesMax = 30
	groupMessagesMax  = 60

	activeWindow     = 5 * time.Minute
	repetitionWindow = 2 * time.Minute
	memeWindow       = 2 * time.Minute
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// timedText is one normalized message with its arrival time, kept in a
// bounded recent buffer for rate/repetition/meme scoring.
type timedText struct {
	at     time.Time
	userID string
	norm   string
}

// Member holds one (platform,group,user) triple's running counters.
type Member struct {
	mu sync.Mutex

	totalMessagesFromUser int
	totalRepliesFromBot   int
	totalMentionsBot      int
	firstSeenAt           time.Time
	lastActiveAt          time.Time
	lastRepliedAt         time.Time

	recent []timedText
}

// Group holds one (platform,group) triple's recent message buffer, used
// for meme-score computation across distinct users.
type Group struct {
	mu     sync.Mutex
	recent []timedText
}

// Store is the process-wide stats registry.
type Store struct {
	mu      sync.RWMutex
	members map[string]*Member
	groups  map[string]*Group
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		members: make(map[string]*Member),
		groups:  make(map[string]*Group),
	}
}

func (s *Store) member(key string) *Member {
	s.mu.RLock()
	m := s.members[key]
	s.mu.RUnlock()
	if m != nil {
		return m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m = s.members[key]; m != nil {
		return m
	}
	m = &Member{}
	s.members[key] = m
	return m
}

func (s *Store) group(key string) *Group {
	s.mu.RLock()
	g := s.groups[key]
	s.mu.RUnlock()
	if g != nil {
		return g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g = s.groups[key]; g != nil {
		return g
	}
	g = &Group{}
	s.groups[key] = g
	return g
}

// Reset discards the running counters for memberKey and groupKey, as
// used by the /reset command to clear a session's stats alongside its
// convlog history.
func (s *Store) Reset(memberKey, groupKey string) {
	s.mu.Lock()
	delete(s.members, memberKey)
	delete(s.groups, groupKey)
	s.mu.Unlock()
}

func normalize(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// OnUserMessage records an incoming user message against memberKey and
// groupKey (P4: recentMessages <= 30 per member, groupMessages <= 60 per
// group, FIFO eviction).
func (s *Store) OnUserMessage(memberKey, groupKey string, ts time.Time, text string, mentionsBot bool) {
	norm := normalize(text)

	m := s.member(memberKey)
	m.mu.Lock()
	m.totalMessagesFromUser++
	if mentionsBot {
		m.totalMentionsBot++
	}
	if m.firstSeenAt.IsZero() {
		m.firstSeenAt = ts
	}
	m.lastActiveAt = ts
	m.recent = append(m.recent, timedText{at: ts, userID: memberKey, norm: norm})
	if over := len(m.recent) - recentMessagesMax; over > 0 {
		m.recent = m.recent[over:]
	}
	m.mu.Unlock()

	g := s.group(groupKey)
	g.mu.Lock()
	g.recent = append(g.recent, timedText{at: ts, userID: memberKey, norm: norm})
	if over := len(g.recent) - groupMessagesMax; over > 0 {
		g.recent = g.recent[over:]
	}
	g.mu.Unlock()
}

// OnBotReply records a bot reply against memberKey (the recipient of
// the reply, i.e. the user whose turn prompted it).
func (s *Store) OnBotReply(memberKey string, ts time.Time) {
	m := s.member(memberKey)
	m.mu.Lock()
	m.totalRepliesFromBot++
	m.lastRepliedAt = ts
	m.mu.Unlock()
}

// Snapshot is a point-in-time read of a member's derived scores, used by
// the planner and context builder.
type Snapshot struct {
	TotalMessages  int
	RepliesFromBot int
	MentionsBot    int
	TenureDays     float64
	Intimacy       float64
	MessageRate    float64
	Repetition     float64
	MemeScore      float64
	SpamType       SpamType
	Urgency        float64
}

// SpamType classifies recent messaging behavior.
type SpamType string

const (
	SpamNormal      SpamType = "NORMAL"
	SpamHelpSeeking SpamType = "HELP_SEEKING"
	SpamMemePlay    SpamType = "MEME_PLAY"
	SpamNoise       SpamType = "NOISE"
)

var interrogatives = []string{"吗", "呢", "什么", "怎么", "为什么", "who", "what", "why", "how", "when", "where"}
var memeLexicon = []string{"哈哈", "草", "绝了", "笑死", "lol", "lmao", "😂", "🤣"}

func containsAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func isPunctuationOnly(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func emojiDensity(s string) float64 {
	if s == "" {
		return 0
	}
	runes := []rune(s)
	var emoji int
	for _, r := range runes {
		if r >= 0x1F300 && r <= 0x1FAFF {
			emoji++
		}
	}
	return float64(emoji) / float64(len(runes))
}

// Snapshot computes derived scores for memberKey/groupKey as of now,
// using text as the message just received (for spam-type lexical cues).
func (s *Store) Snapshot(memberKey, groupKey string, now time.Time, text string) Snapshot {
	m := s.member(memberKey)
	m.mu.Lock()
	totalMessages := m.totalMessagesFromUser
	repliesFromBot := m.totalRepliesFromBot
	mentionsBot := m.totalMentionsBot
	firstSeen := m.firstSeenAt
	recent := make([]timedText, len(m.recent))
	copy(recent, m.recent)
	m.mu.Unlock()

	g := s.group(groupKey)
	g.mu.Lock()
	groupRecent := make([]timedText, len(g.recent))
	copy(groupRecent, g.recent)
	g.mu.Unlock()

	denom := float64(totalMessages)
	if denom < 1 {
		denom = 1
	}
	tenureDays := now.Sub(firstSeen).Hours() / 24
	if firstSeen.IsZero() {
		tenureDays = 0
	}

	intimacy := clamp01(0.15 +
		0.4*clamp01(float64(repliesFromBot)/denom) +
		0.2*clamp01(float64(mentionsBot)/denom) +
		0.25*clamp01(tenureDays/14))

	var inRate int
	cutoffRate := now.Add(-activeWindow)
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].at.Before(cutoffRate) {
			break
		}
		inRate++
	}
	messageRate := clamp01(float64(inRate) / (5 * 10))

	// Repetition: within last 2 minutes, the max count of occurrences
	// of any single normalized text this member sent.
	cutoffRep := now.Add(-repetitionWindow)
	counts := make(map[string]int)
	maxCount := 0
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].at.Before(cutoffRep) {
			break
		}
		counts[recent[i].norm]++
		if counts[recent[i].norm] > maxCount {
			maxCount = counts[recent[i].norm]
		}
	}
	repetition := clamp01(float64(maxCount-1) / 3)

	// Meme score: within last 2 minutes, count of distinct users in the
	// group who sent an identical normalized message.
	cutoffMeme := now.Add(-memeWindow)
	byText := make(map[string]map[string]struct{})
	var windowCount int
	for i := len(groupRecent) - 1; i >= 0; i-- {
		if groupRecent[i].at.Before(cutoffMeme) {
			break
		}
		windowCount++
		set := byText[groupRecent[i].norm]
		if set == nil {
			set = make(map[string]struct{})
			byText[groupRecent[i].norm] = set
		}
		set[groupRecent[i].userID] = struct{}{}
	}
	distinct := 0
	if set, ok := byText[normalize(text)]; ok {
		distinct = len(set)
	}
	memeScore := clamp01(float64(distinct-1) / 4)

	spamType := SpamNormal
	if windowCount >= 3 {
		noise := noiseScore(text)
		help := helpSeekingScore(text)
		meme := memePlayScore(text, repetition, memeScore)
		switch {
		case noise > 0.6:
			spamType = SpamNoise
		case help > 0.5:
			spamType = SpamHelpSeeking
		case meme > 0.5:
			spamType = SpamMemePlay
		}
	}

	var urgency float64
	if spamType == SpamHelpSeeking {
		urgency = clamp01(0.6*minF(float64(windowCount)/5, 1) +
			0.2*intimacy +
			0.2*clamp01(float64(repliesFromBot)/denom))
	}

	return Snapshot{
		TotalMessages:  totalMessages,
		RepliesFromBot: repliesFromBot,
		MentionsBot:    mentionsBot,
		TenureDays:     tenureDays,
		Intimacy:       intimacy,
		MessageRate:    messageRate,
		Repetition:     repetition,
		MemeScore:      memeScore,
		SpamType:       spamType,
		Urgency:        urgency,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func noiseScore(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 1
	}
	score := 0.0
	if isPunctuationOnly(trimmed) {
		score += 0.6
	}
	if len([]rune(trimmed)) <= 2 {
		score += 0.3
	}
	if emojiDensity(trimmed) > 0.5 {
		score += 0.3
	}
	return clamp01(score)
}

func helpSeekingScore(text string) float64 {
	trimmed := strings.TrimSpace(text)
	score := 0.0
	if strings.Contains(trimmed, "?") || strings.Contains(trimmed, "？") {
		score += 0.4
	}
	if containsAny(trimmed, interrogatives) {
		score += 0.3
	}
	if len([]rune(trimmed)) > 20 {
		score += 0.2
	}
	return clamp01(score)
}

func memePlayScore(text string, repetition, memeScore float64) float64 {
	score := 0.3*repetition + 0.3*memeScore
	if containsAny(text, memeLexicon) {
		score += 0.3
	}
	if emojiDensity(text) > 0.2 {
		score += 0.2
	}
	return clamp01(score)
}
