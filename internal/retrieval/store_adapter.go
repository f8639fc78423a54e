package retrieval

import (
	"context"

	"github.com/uamm-go/uamm/internal/store"
)

// StoreSource adapts a *store.WorkspaceDB to the Source interface.
type StoreSource struct {
	DB *store.WorkspaceDB
}

func (s StoreSource) SparseSearch(ctx context.Context, workspace, query string, limit int) ([]SparseHit, error) {
	hits, err := s.DB.SparseSearch(ctx, workspace, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SparseHit, len(hits))
	for i, h := range hits {
		out[i] = SparseHit{ID: h.ID, Title: h.Title, Text: h.Text, URL: h.URL, Rank: h.Rank}
	}
	return out, nil
}

func (s StoreSource) DenseSearch(ctx context.Context, workspace string, queryEmbedding []float32, limit int) ([]DenseHit, error) {
	hits, err := s.DB.DenseSearch(ctx, workspace, queryEmbedding, limit)
	if err != nil {
		return nil, err
	}
	out := make([]DenseHit, len(hits))
	for i, h := range hits {
		out[i] = DenseHit{ID: h.ID, Title: h.Title, Text: h.Text, URL: h.URL, Similarity: h.Similarity}
	}
	return out, nil
}

func (s StoreSource) MemoryByDomain(ctx context.Context, workspace, domain string, limit int) ([]MemoryHit, error) {
	recs, err := s.DB.MemoryByDomain(ctx, workspace, domain, limit)
	if err != nil {
		return nil, err
	}
	out := make([]MemoryHit, len(recs))
	for i, r := range recs {
		out[i] = MemoryHit{ID: r.ID, Key: r.Key, Text: r.Text}
	}
	return out, nil
}
