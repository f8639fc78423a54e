// Package retrieval implements the hybrid retriever of spec.md §4.1: sparse
// lexical score (SQLite FTS5 BM25) plus dense cosine similarity over
// embeddings plus an optional entity/keyword boost, fused, deduplicated by
// content hash, and truncated to a memory budget.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"github.com/uamm-go/uamm/internal/embedding"
	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/model"
)

// SparseHit, DenseHit and MemoryHit mirror internal/store's query results as
// the shapes Source returns, so Retriever itself depends only on Source;
// StoreSource (store_adapter.go) adapts a store's results into these shapes.
type SparseHit struct {
	ID, Title, Text, URL string
	Rank                 float64 // lower is better (bm25 convention)
}

type DenseHit struct {
	ID, Title, Text, URL string
	Similarity           float64
}

type MemoryHit struct {
	ID, Key, Text string
}

// Source is the corpus/memory backend the retriever queries. A concrete
// *store.WorkspaceDB-backed adapter is StoreSource in store_adapter.go.
type Source interface {
	SparseSearch(ctx context.Context, workspace, query string, limit int) ([]SparseHit, error)
	DenseSearch(ctx context.Context, workspace string, queryEmbedding []float32, limit int) ([]DenseHit, error)
	MemoryByDomain(ctx context.Context, workspace, domain string, limit int) ([]MemoryHit, error)
}

// Weights controls score fusion, sourced from the workspace policy overlay.
type Weights struct {
	Sparse float64
	Dense  float64
	Entity float64
}

// Retriever fuses sparse, dense and memory signals into a ranked Pack.
type Retriever struct {
	Source         Source
	EmbeddingModel embedding.EmbeddingEngine // nil skips the dense signal

	denseDegraded bool // sticky for this Retriever: set once the dense backend errors
}

// Retrieve implements the §4.1 algorithm. It never returns an error: a
// retrieval failure degrades gracefully to an empty Pack (with
// IssueMissingEvidence attached later by the verifier) or sparse-only results.
func (r *Retriever) Retrieve(ctx context.Context, question, workspace, domain string, budget int, weights Weights) model.Pack {
	if budget <= 0 {
		budget = 8
	}
	if strings.TrimSpace(question) == "" || r.Source == nil {
		return model.Pack{}
	}

	sparseHits, err := r.Source.SparseSearch(ctx, workspace, question, budget*3)
	if err != nil {
		logging.RetrievalDebug("sparse search failed workspace=%s: %v", workspace, err)
		sparseHits = nil
	}

	var denseHits []DenseHit
	if r.EmbeddingModel != nil && !r.denseDegraded {
		queryEmbedding, err := r.EmbeddingModel.Embed(ctx, question)
		if err != nil {
			logging.RetrievalDebug("dense embedding failed, degrading to sparse-only: %v", err)
			r.denseDegraded = true
		} else {
			hits, err := r.Source.DenseSearch(ctx, workspace, queryEmbedding, budget*3)
			if err != nil {
				logging.RetrievalDebug("dense search failed, degrading to sparse-only: %v", err)
				r.denseDegraded = true
			} else {
				denseHits = hits
			}
		}
	}

	memoryHits, err := r.Source.MemoryByDomain(ctx, workspace, domain, budget)
	if err != nil {
		logging.RetrievalDebug("memory lookup failed workspace=%s domain=%s: %v", workspace, domain, err)
		memoryHits = nil
	}

	entityTerms := entityTerms(question)

	fused := fuse(sparseHits, denseHits, memoryHits, weights, entityTerms)
	fused = dedupe(fused)
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > budget {
		fused = fused[:budget]
	}
	return model.Pack{Items: fused}
}

func fuse(sparse []SparseHit, dense []DenseHit, memory []MemoryHit, w Weights, entityTerms []string) []model.EvidenceItem {
	byID := make(map[string]*model.EvidenceItem)

	maxSparseRank := 0.0
	for _, h := range sparse {
		if -h.Rank > maxSparseRank {
			maxSparseRank = -h.Rank
		}
	}

	get := func(id, title, text, url, provenance string) *model.EvidenceItem {
		if it, ok := byID[id]; ok {
			return it
		}
		it := &model.EvidenceItem{ItemID: id, Title: title, Text: text, URL: url, Provenance: provenance, SourceType: model.SourceCorpus}
		byID[id] = it
		return it
	}

	for _, h := range sparse {
		it := get(h.ID, h.Title, h.Text, h.URL, "sparse")
		norm := 0.0
		if maxSparseRank > 0 {
			norm = (-h.Rank) / maxSparseRank
		}
		it.SparseScore = norm
	}
	for _, h := range dense {
		it := get(h.ID, h.Title, h.Text, h.URL, "dense")
		it.DenseScore = h.Similarity
		it.SourceType = model.SourceVector
	}
	for _, h := range memory {
		it := get(h.ID, h.Key, h.Text, "", "memory")
		it.SourceType = model.SourceMemory
		it.SparseScore = 1.0 // memory is always directly relevant to its domain
	}

	items := make([]model.EvidenceItem, 0, len(byID))
	for _, it := range byID {
		boost := entityBoost(it.Text, entityTerms)
		it.Score = w.Sparse*it.SparseScore + w.Dense*it.DenseScore + w.Entity*boost
		items = append(items, *it)
	}
	return items
}

// entityTerms extracts capitalized words as a crude entity/keyword
// approximation, used to boost evidence mentioning the same proper nouns as
// the question.
func entityTerms(question string) []string {
	var terms []string
	for _, w := range strings.Fields(question) {
		trimmed := strings.Trim(w, ".,?!;:\"'")
		if len(trimmed) > 1 && trimmed[0] >= 'A' && trimmed[0] <= 'Z' {
			terms = append(terms, strings.ToLower(trimmed))
		}
	}
	return terms
}

func entityBoost(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// dedupe collapses items sharing a normalized content hash, keeping the
// highest-scoring copy.
func dedupe(items []model.EvidenceItem) []model.EvidenceItem {
	best := make(map[string]model.EvidenceItem)
	for _, it := range items {
		h := contentHash(it.Text)
		existing, ok := best[h]
		if !ok || it.Score > existing.Score {
			best[h] = it
		}
	}
	out := make([]model.EvidenceItem, 0, len(best))
	for _, it := range best {
		out = append(out, it)
	}
	return out
}

func contentHash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	normalized = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, normalized)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
