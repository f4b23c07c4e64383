package memory

import "github.com/stellarlinkco/myclaw/internal/config"

// SetRetrievalConfig switches the engine's retrieval strategy and
// tuning knobs. Safe to call while the engine is serving requests.
func (e *Engine) SetRetrievalConfig(cfg config.RetrievalConfig) {
	e.retrievalMu.Lock()
	defer e.retrievalMu.Unlock()
	e.retrievalCfg = normalizeRetrievalRuntimeConfig(cfg)
}

func (e *Engine) retrievalConfigSnapshot() retrievalRuntimeConfig {
	e.retrievalMu.RLock()
	defer e.retrievalMu.RUnlock()
	return e.retrievalCfg
}

// SetQueryExpander wires the enhanced retrieval path's optional query
// expansion stage. Passing nil disables it.
func (e *Engine) SetQueryExpander(expander QueryExpander) {
	e.expanderMu.Lock()
	defer e.expanderMu.Unlock()
	e.queryExpander = expander
}

func (e *Engine) queryExpanderSnapshot() QueryExpander {
	e.expanderMu.RLock()
	defer e.expanderMu.RUnlock()
	return e.queryExpander
}

// SetReranker wires the enhanced retrieval path's optional reranking
// stage over fused candidates. Passing nil disables it.
func (e *Engine) SetReranker(reranker Reranker) {
	e.rerankMu.Lock()
	defer e.rerankMu.Unlock()
	e.reranker = reranker
}

func (e *Engine) rerankerSnapshot() Reranker {
	e.rerankMu.RLock()
	defer e.rerankMu.RUnlock()
	return e.reranker
}
