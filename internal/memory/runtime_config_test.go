package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stellarlinkco/myclaw/internal/config"
)

type fakeExpander struct{}

func (fakeExpander) Expand(query string) (*QueryExpansion, error) {
	return &QueryExpansion{Lexical: []string{query}}, nil
}

type fakeReranker struct{}

func (fakeReranker) Rerank(ctx context.Context, query string, docs []string) ([]RerankScore, error) {
	out := make([]RerankScore, len(docs))
	for i := range docs {
		out[i] = RerankScore{Index: i, Score: 1}
	}
	return out, nil
}

func newRuntimeEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSetRetrievalConfig_EnhancedModeIsNormalized(t *testing.T) {
	e := newRuntimeEngine(t)
	e.SetRetrievalConfig(config.RetrievalConfig{Mode: "Enhanced"})
	got := e.retrievalConfigSnapshot()
	if got.Mode != config.MemoryRetrievalModeEnhanced {
		t.Fatalf("expected normalized enhanced mode, got %q", got.Mode)
	}
}

func TestSetRetrievalConfig_UnknownModeFallsBackToClassic(t *testing.T) {
	e := newRuntimeEngine(t)
	e.SetRetrievalConfig(config.RetrievalConfig{Mode: "bogus"})
	got := e.retrievalConfigSnapshot()
	if got.Mode != config.MemoryRetrievalModeClassic {
		t.Fatalf("expected fallback to classic mode, got %q", got.Mode)
	}
}

func TestSetRetrievalConfig_ZeroLimitsKeepDefaults(t *testing.T) {
	e := newRuntimeEngine(t)
	before := e.retrievalConfigSnapshot()
	e.SetRetrievalConfig(config.RetrievalConfig{Mode: "classic", CandidateLimit: 0, RerankLimit: 0})
	after := e.retrievalConfigSnapshot()
	if after.CandidateLimit != before.CandidateLimit {
		t.Fatalf("expected zero CandidateLimit to leave the default unchanged, got %d", after.CandidateLimit)
	}
	if after.RerankLimit != before.RerankLimit {
		t.Fatalf("expected zero RerankLimit to leave the default unchanged, got %d", after.RerankLimit)
	}
}

func TestSetRetrievalConfig_PositiveLimitsOverrideDefaults(t *testing.T) {
	e := newRuntimeEngine(t)
	e.SetRetrievalConfig(config.RetrievalConfig{Mode: "classic", CandidateLimit: 7, RerankLimit: 3})
	got := e.retrievalConfigSnapshot()
	if got.CandidateLimit != 7 || got.RerankLimit != 3 {
		t.Fatalf("expected explicit limits to be honored, got %+v", got)
	}
}

func TestSetQueryExpander_WiresAndClears(t *testing.T) {
	e := newRuntimeEngine(t)
	if e.queryExpanderSnapshot() != nil {
		t.Fatal("expected no expander by default")
	}

	e.SetQueryExpander(fakeExpander{})
	if e.queryExpanderSnapshot() == nil {
		t.Fatal("expected expander to be wired")
	}

	e.SetQueryExpander(nil)
	if e.queryExpanderSnapshot() != nil {
		t.Fatal("expected expander to be cleared when set to nil")
	}
}

func TestSetReranker_WiresAndClears(t *testing.T) {
	e := newRuntimeEngine(t)
	if e.rerankerSnapshot() != nil {
		t.Fatal("expected no reranker by default")
	}

	e.SetReranker(fakeReranker{})
	if e.rerankerSnapshot() == nil {
		t.Fatal("expected reranker to be wired")
	}

	e.SetReranker(nil)
	if e.rerankerSnapshot() != nil {
		t.Fatal("expected reranker to be cleared when set to nil")
	}
}
