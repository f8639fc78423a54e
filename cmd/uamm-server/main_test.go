package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/store"
)

func openTestIndexDB(t *testing.T) *store.IndexDB {
	db, err := store.OpenIndexDB(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeCalibrationFile(t *testing.T, artifacts []model.CalibrationArtifact) string {
	path := filepath.Join(t.TempDir(), "calibration.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, a := range artifacts {
		require.NoError(t, enc.Encode(a))
	}
	return path
}

func TestImportCalibrationFile_ImportsAndGroupsByDomain(t *testing.T) {
	indexDB := openTestIndexDB(t)
	path := writeCalibrationFile(t, []model.CalibrationArtifact{
		{Domain: "finance", Score: 0.5, Accepted: true, Correct: true},
		{Domain: "finance", Score: 0.7, Accepted: true, Correct: true},
		{Domain: "support", Score: 0.6, Accepted: false, Correct: true},
	})

	count, domains, err := importCalibrationFile(indexDB, path)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, domains, 2)
	assert.Contains(t, domains, "finance")
	assert.Contains(t, domains, "support")

	table, err := indexDB.RecomputeThreshold("finance", 0.1, 0.05)
	require.NoError(t, err)
	assert.Equal(t, "finance", table.Domain)
}

func TestImportCalibrationFile_MissingFileReturnsError(t *testing.T) {
	indexDB := openTestIndexDB(t)
	_, _, err := importCalibrationFile(indexDB, filepath.Join(t.TempDir(), "does-not-exist.jsonl"))
	require.Error(t, err)
}

func TestImportCalibrationFile_TruncatedRecordReturnsErrorWithPartialCount(t *testing.T) {
	indexDB := openTestIndexDB(t)
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"Domain":"finance","Score":0.5,"Accepted":true,"Correct":true}
not json
`), 0o644))

	count, _, err := importCalibrationFile(indexDB, path)
	require.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["import-calibration"])
}
