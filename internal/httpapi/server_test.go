package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/approvals"
	"github.com/uamm-go/uamm/internal/compose"
	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/orchestrator"
	"github.com/uamm-go/uamm/internal/store"
	"github.com/uamm-go/uamm/internal/tools"
)

type stubGenerator struct{ text string }

func (g stubGenerator) Generate(ctx context.Context, question string, pack model.Pack, refinement *compose.RefinementContext) (string, []string, error) {
	return g.text, nil, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func newTestServer(t *testing.T) (*Server, *store.IndexDB, *store.WorkspaceDB) {
	indexDB, err := store.OpenIndexDB(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { indexDB.Close() })
	require.NoError(t, indexDB.EnsureWorkspace("acme", "Acme Corp"))

	wsdb, err := store.OpenWorkspaceDB(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { wsdb.Close() })

	approvalStore := approvals.NewStore(time.Minute)
	t.Cleanup(approvalStore.Close)

	o := &orchestrator.Orchestrator{
		IndexDB:    indexDB,
		Workspaces: func(string) (*store.WorkspaceDB, error) { return wsdb, nil },
		UQEmbed:    stubEmbedder{},
		Generator:  stubGenerator{text: "Paris is the capital of France. (source: https://example.com/paris)"},
		Tools:      tools.NewRegistry(),
		Approvals:  approvalStore,
	}
	s := NewServer(o, approvalStore, indexDB, func(string) (*store.WorkspaceDB, error) { return wsdb, nil })
	return s, indexDB, wsdb
}

func TestHandleAnswer_ReturnsTerminalResultAndPersistsStep(t *testing.T) {
	s, _, wsdb := newTestServer(t)

	body, _ := json.Marshal(answerRequest{RequestID: "req-1", Question: "What is the capital of France?", Domain: "default", Workspace: "acme"})
	req := httptest.NewRequest(http.MethodPost, "/agent/answer", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result model.AgentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, model.ActionAccept, result.Action)

	recent, err := wsdb.RecentSteps(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestHandleAnswer_IdempotencyKeyReplaysCachedResult(t *testing.T) {
	s, _, wsdb := newTestServer(t)

	ar := answerRequest{
		RequestID: "req-2", Question: "What is the capital of France?", Domain: "default", Workspace: "acme",
		Overrides: model.RequestOverrides{IdempotencyKey: "idem-1"},
	}
	body, _ := json.Marshal(ar)

	req1 := httptest.NewRequest(http.MethodPost, "/agent/answer", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	s.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	ar.RequestID = "req-3" // simulate a retried client call with a fresh wire id but the same idempotency key
	body2, _ := json.Marshal(ar)
	req2 := httptest.NewRequest(http.MethodPost, "/agent/answer", bytes.NewReader(body2))
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var r1, r2 model.AgentResult
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &r1))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &r2))
	assert.Equal(t, r1.RequestID, r2.RequestID) // second response is the cached first result, not a fresh run

	recent, err := wsdb.RecentSteps(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1) // only one orchestrator run actually happened
}

func TestHandleApprove_UnknownIDReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, _ := json.Marshal(approveRequest{ApprovalID: "does-not-exist", Approved: true})
	req := httptest.NewRequest(http.MethodPost, "/tools/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleApprove_ResolvesRegisteredApproval(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := s.Approvals.Register("req-4", "WEB_FETCH", map[string]any{"url": "https://example.com"}, time.Minute)

	body, _ := json.Marshal(approveRequest{ApprovalID: id, Approved: true})
	req := httptest.NewRequest(http.MethodPost, "/tools/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	approval, ok := s.Approvals.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.ApprovalApproved, approval.State)
}

func TestHandleThreshold_NotFoundThenFoundAfterArtifacts(t *testing.T) {
	s, indexDB, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cp/threshold?domain=default", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 5; i++ {
		require.NoError(t, indexDB.PutArtifact("run-1", model.CalibrationArtifact{Domain: "default", Score: float64(i) / 10, Accepted: true, Correct: true}))
	}
	_, err := indexDB.RecomputeThreshold("default", 0.1, 0.05)
	require.NoError(t, err)

	req2 := httptest.NewRequest(http.MethodGet, "/cp/threshold?domain=default", nil)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)

	var table model.ThresholdTable
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &table))
	assert.Equal(t, "default", table.Domain)
}

func TestHandleArtifacts_RecordsOneObservation(t *testing.T) {
	s, indexDB, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"run_id":   "run-1",
		"artifact": model.CalibrationArtifact{Domain: "default", Score: 0.8, Accepted: true, Correct: true},
	})
	req := httptest.NewRequest(http.MethodPost, "/cp/artifacts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	_, err := indexDB.RecomputeThreshold("default", 0.1, 0.05)
	require.NoError(t, err)
}

func TestHandleRecentSteps_RequiresWorkspace(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/steps/recent", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStep_ReturnsPersistedStep(t *testing.T) {
	s, _, wsdb := newTestServer(t)

	rec := model.StepRecord{StepID: "step-1", RequestID: "req-5", Action: model.ActionAccept, Status: "ok", CreatedAt: time.Now()}
	require.NoError(t, wsdb.PutStep(context.Background(), rec))

	req := httptest.NewRequest(http.MethodGet, "/steps/step-1?workspace=acme", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got model.StepRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "req-5", got.RequestID)
}

func TestHandleGovCheck_ValidGraphAndCycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	valid, _ := json.Marshal(govCheckRequest{
		Nodes: []*model.GoVNode{{ID: "p1", Type: model.GoVPremise}, {ID: "c1", Type: model.GoVClaim}},
		Edges: []*model.GoVEdge{{From: "p1", To: "c1"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/gov/check", bytes.NewReader(valid))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])

	cyclic, _ := json.Marshal(govCheckRequest{
		Nodes: []*model.GoVNode{{ID: "p1"}, {ID: "c1"}},
		Edges: []*model.GoVEdge{{From: "p1", To: "c1"}, {From: "c1", To: "p1"}},
	})
	req2 := httptest.NewRequest(http.MethodPost, "/gov/check", bytes.NewReader(cyclic))
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	var resp2 map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	assert.Equal(t, false, resp2["ok"])
}
