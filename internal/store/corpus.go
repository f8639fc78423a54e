package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/uamm-go/uamm/internal/embedding"
)

// CorpusRecord is one persisted corpus document, deduplicated by
// ContentHash before insertion by the caller.
type CorpusRecord struct {
	ID          string
	Workspace   string
	Title       string
	Text        string
	URL         string
	ContentHash string
	Embedding   []float32
}

// PutCorpus inserts a corpus row and its FTS5 shadow entry (via the
// corpus_ai trigger). Returns the assigned ID.
func (s *WorkspaceDB) PutCorpus(ctx context.Context, c CorpusRecord) (string, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	embJSON, err := json.Marshal(c.Embedding)
	if err != nil {
		return "", fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO corpus (id, workspace, title, text, url, embedding_json, content_hash) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, c.Workspace, c.Title, c.Text, c.URL, string(embJSON), c.ContentHash,
	)
	if err != nil {
		return "", fmt.Errorf("insert corpus: %w", err)
	}
	return id, nil
}

// CorpusExists reports whether a corpus row with contentHash already exists
// in workspace, for the retriever's dedup-by-content-hash step.
func (s *WorkspaceDB) CorpusExists(ctx context.Context, workspace, contentHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM corpus WHERE workspace = ? AND content_hash = ?`,
		workspace, contentHash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check corpus hash: %w", err)
	}
	return count > 0, nil
}

// SparseHit is one FTS5 lexical match.
type SparseHit struct {
	ID    string
	Title string
	Text  string
	URL   string
	Rank  float64 // bm25() score, lower is better
}

// SparseSearch runs an FTS5 BM25 query against corpus_fts, scoped to
// workspace, returning up to limit hits ordered by relevance.
func (s *WorkspaceDB) SparseSearch(ctx context.Context, workspace, query string, limit int) ([]SparseHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.text, c.url, bm25(corpus_fts) AS rank
		 FROM corpus_fts
		 JOIN corpus c ON c.id = corpus_fts.id
		 WHERE corpus_fts MATCH ? AND c.workspace = ?
		 ORDER BY rank ASC
		 LIMIT ?`,
		ftsQuery(query), workspace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []SparseHit
	for rows.Next() {
		var h SparseHit
		if err := rows.Scan(&h.ID, &h.Title, &h.Text, &h.URL, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DenseHit is one flat in-memory cosine-similarity match.
type DenseHit struct {
	ID         string
	Title      string
	Text       string
	URL        string
	Similarity float64
}

// DenseSearch loads every embedded corpus row in workspace and ranks them by
// cosine similarity to queryEmbedding. This flat scan is the documented
// in-process dense backend; a sqlite-vec-backed index (see init_vec.go) can
// replace it without changing callers once wired by a deployment that builds
// with the sqlite_vec tag.
func (s *WorkspaceDB) DenseSearch(ctx context.Context, workspace string, queryEmbedding []float32, limit int) ([]DenseHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, text, url, embedding_json FROM corpus WHERE workspace = ? AND embedding_json != ''`,
		workspace,
	)
	if err != nil {
		return nil, fmt.Errorf("load corpus embeddings: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id, title, text, url string
		embedding             []float32
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		var embJSON string
		if err := rows.Scan(&c.id, &c.title, &c.text, &c.url, &embJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(embJSON), &c.embedding); err != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.embedding
	}
	top, err := embedding.FindTopK(queryEmbedding, vectors, limit)
	if err != nil {
		return nil, fmt.Errorf("rank corpus embeddings: %w", err)
	}

	hits := make([]DenseHit, 0, len(top))
	for _, t := range top {
		c := candidates[t.Index]
		hits = append(hits, DenseHit{ID: c.id, Title: c.title, Text: c.text, URL: c.url, Similarity: t.Similarity})
	}
	return hits, nil
}

// ftsQuery turns query into an FTS5 MATCH argument: each whitespace-separated
// term is quoted, with internal quotes escaped so arbitrary question text
// can't break out of the string literal, and the terms are OR-ed so a row
// containing any of them matches.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " OR ")
}

// PutCorpusFile records that path (within workspace) backs corpusID, for
// corpus provenance lookups.
func (s *WorkspaceDB) PutCorpusFile(ctx context.Context, workspace, path, corpusID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO corpus_files (id, workspace, path, corpus_id) VALUES (?, ?, ?, ?)`,
		id, workspace, path, corpusID,
	)
	if err != nil {
		return "", fmt.Errorf("insert corpus_file: %w", err)
	}
	return id, nil
}
