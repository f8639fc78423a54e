package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/model"
)

func openTestIndexDB(t *testing.T) *IndexDB {
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := OpenIndexDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func openTestWorkspaceDB(t *testing.T) *WorkspaceDB {
	path := filepath.Join(t.TempDir(), "workspace.db")
	db, err := OpenWorkspaceDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	db1, err := OpenIndexDB(path)
	require.NoError(t, err)
	db1.Close()

	db2, err := OpenIndexDB(path)
	require.NoError(t, err)
	defer db2.Close()
}

func TestWorkspacePolicyOverlay_RoundTrip(t *testing.T) {
	db := openTestIndexDB(t)
	require.NoError(t, db.EnsureWorkspace("acme", "Acme Corp"))

	_, ok, err := db.PolicyOverlay("acme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutPolicyOverlay("acme", `{"accept_threshold":0.8}`))
	overlay, ok, err := db.PolicyOverlay("acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"accept_threshold":0.8}`, overlay)
}

func TestCalibration_RecomputeThreshold(t *testing.T) {
	db := openTestIndexDB(t)
	for i, score := range []float64{0.5, 0.6, 0.7, 0.8, 0.9} {
		require.NoError(t, db.PutArtifact("run-1", model.CalibrationArtifact{
			Domain:   "finance",
			ID:       "",
			Score:    score,
			Accepted: i%2 == 0,
			Correct:  true,
		}))
	}

	table, err := db.RecomputeThreshold("finance", 0.1, 0.05)
	require.NoError(t, err)
	assert.Equal(t, "finance", table.Domain)
	assert.InDelta(t, 0.54, table.TauAccept, 0.01)
	assert.Len(t, table.SNNEQuantiles, 9)

	fetched, ok, err := db.Threshold("finance")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, table.TauAccept, fetched.TauAccept)
}

func TestMemory_PutAndLatest(t *testing.T) {
	db := openTestWorkspaceDB(t)
	ctx := context.Background()

	_, err := db.PutMemory(ctx, MemoryRecord{Workspace: "ws", Domain: "finance", Key: "balance", Text: "first"})
	require.NoError(t, err)
	_, err = db.PutMemory(ctx, MemoryRecord{Workspace: "ws", Domain: "finance", Key: "balance", Text: "second"})
	require.NoError(t, err)

	rec, ok, err := db.LatestMemory(ctx, "ws", "balance")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", rec.Text)
}

func TestCorpus_DedupAndSparseSearch(t *testing.T) {
	db := openTestWorkspaceDB(t)
	ctx := context.Background()

	exists, err := db.CorpusExists(ctx, "ws", "hash-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = db.PutCorpus(ctx, CorpusRecord{
		Workspace:   "ws",
		Title:       "Quarterly report",
		Text:        "Revenue grew substantially this quarter across all segments.",
		ContentHash: "hash-1",
	})
	require.NoError(t, err)

	exists, err = db.CorpusExists(ctx, "ws", "hash-1")
	require.NoError(t, err)
	assert.True(t, exists)

	hits, err := db.SparseSearch(ctx, "ws", "revenue quarter", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Quarterly report", hits[0].Title)
}

func TestSteps_PutAndFetch(t *testing.T) {
	db := openTestWorkspaceDB(t)
	ctx := context.Background()

	accept := true
	rec := model.StepRecord{
		StepID:           "req-1-step-0",
		RequestID:        "req-1",
		StepIndex:        0,
		RedactedQuestion: "what is the capital of france",
		RedactedAnswer:   "Paris",
		S1:               0.9,
		S2:               0.95,
		S:                0.92,
		CPAccept:         &accept,
		Action:           model.ActionAccept,
		ToolsUsed:        []string{"WEB_SEARCH"},
		PackIDs:          []string{"item-1"},
		Issues:           nil,
		Status:           "ok",
	}
	require.NoError(t, db.PutStep(ctx, rec))

	fetched, ok, err := db.Step(ctx, "req-1-step-0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Paris", fetched.RedactedAnswer)
	assert.Equal(t, []string{"WEB_SEARCH"}, fetched.ToolsUsed)
	require.NotNil(t, fetched.CPAccept)
	assert.True(t, *fetched.CPAccept)

	recent, err := db.RecentSteps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}
