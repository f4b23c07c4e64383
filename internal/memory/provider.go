package memory

import "strings"

// Provider adapts Engine behind the orchestration core's narrow
// long-term-memory contract (C14): a fact lookup keyed by free text, and
// a write path for coarse facts extracted from committed turns. Retrieve
// ignores the session key, so every session searches one shared fact
// store; Remember records the session key as the fact's project.
type Provider struct {
	Engine *Engine
}

// ShouldRetrieve reports whether query is worth a retrieval round trip,
// reusing the teacher's length/code heuristic.
func (p *Provider) ShouldRetrieve(query string) bool {
	return ShouldRetrieve(query)
}

// Retrieve fetches facts relevant to query, rendered as plain strings for
// the context builder's MEMORY prompt block.
func (p *Provider) Retrieve(sessionKey, query string) ([]string, error) {
	memories, err := p.Engine.Retrieve(query)
	if err != nil {
		return nil, err
	}
	facts := make([]string, 0, len(memories))
	for _, m := range memories {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		facts = append(facts, content)
	}
	return facts, nil
}

// Remember writes content as a coarse tier-2 fact. userID becomes the
// fact's topic so later retrieval can still surface who it came from.
func (p *Provider) Remember(sessionKey, userID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	return p.Engine.WriteTier2(FactEntry{
		Content:    content,
		Project:    sessionKey,
		Topic:      userID,
		Category:   "conversation",
		Importance: 0.3,
	})
}
