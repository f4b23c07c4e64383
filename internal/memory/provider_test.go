package memory

import (
	"path/filepath"
	"testing"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return &Provider{Engine: e}
}

func TestProvider_ShouldRetrieveDelegatesToPackageFunc(t *testing.T) {
	p := &Provider{}
	if p.ShouldRetrieve("ok") != ShouldRetrieve("ok") {
		t.Fatal("expected Provider.ShouldRetrieve to delegate to the package-level heuristic")
	}
	if !p.ShouldRetrieve("你记得我之前说过什么吗") {
		t.Fatal("expected a trigger-word query to be retrieval-worthy")
	}
}

func TestProvider_RememberWritesTier2Fact(t *testing.T) {
	p := newProvider(t)

	if err := p.Remember("session1", "user1", "喜欢喝咖啡"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	facts, err := p.Retrieve("session1", "咖啡")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, f := range facts {
		if f == "喜欢喝咖啡" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected remembered fact to be retrievable, got %v", facts)
	}
}

func TestProvider_RememberSkipsBlankContent(t *testing.T) {
	p := newProvider(t)
	if err := p.Remember("session1", "user1", "   "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	empty, err := p.Engine.IsEmpty()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !empty {
		t.Fatal("expected blank content to be skipped entirely, leaving the engine empty")
	}
}

func TestProvider_RetrieveReturnsNoMatchesAsEmptySlice(t *testing.T) {
	p := newProvider(t)
	facts, err := p.Retrieve("session1", "完全不存在的内容xyz123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("expected no facts for an unmatched query, got %v", facts)
	}
}
