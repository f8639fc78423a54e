package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/uamm-go/uamm/internal/model"
)

// PutArtifact appends one conformal-prediction observation. Artifacts are
// append-only: nothing in this package ever updates or deletes a row.
func (s *IndexDB) PutArtifact(runID string, a model.CalibrationArtifact) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO cp_artifacts (id, run_id, domain, score, accepted, correct) VALUES (?, ?, ?, ?, ?, ?)`,
		id, runID, a.Domain, a.Score, boolToInt(a.Accepted), boolToInt(a.Correct),
	)
	if err != nil {
		return fmt.Errorf("insert cp_artifact: %w", err)
	}
	return nil
}

// Threshold implements uq.ThresholdSource: it derives a ThresholdTable for
// domain from the most recently computed reference_thresholds row. When no
// row exists yet it returns ok=false; it does not recompute from
// cp_artifacts (RecomputeThreshold does that).
func (s *IndexDB) Threshold(domain string) (model.ThresholdTable, bool, error) {
	row := s.db.QueryRow(
		`SELECT tau_accept, borderline_delta, snne_quantiles_json FROM reference_thresholds WHERE domain = ?`,
		domain,
	)
	var tau, delta float64
	var quantilesJSON string
	err := row.Scan(&tau, &delta, &quantilesJSON)
	if err == nil {
		var quantiles []float64
		if err := json.Unmarshal([]byte(quantilesJSON), &quantiles); err != nil {
			return model.ThresholdTable{}, false, fmt.Errorf("decode quantiles: %w", err)
		}
		return model.ThresholdTable{
			Domain:          domain,
			TauAccept:       tau,
			BorderlineDelta: delta,
			SNNEQuantiles:   quantiles,
		}, true, nil
	}
	if err != sql.ErrNoRows {
		return model.ThresholdTable{}, false, fmt.Errorf("query reference_thresholds: %w", err)
	}
	return model.ThresholdTable{}, false, nil
}

// RecomputeThreshold derives a fresh ThresholdTable for domain from every
// correct cp_artifacts row recorded for it (tau is the alpha-quantile of
// scores among correct observations, accepted or not, so about 1-alpha of
// them score at or above it) and
// persists it to reference_thresholds. Callers (the calibration CLI, or a
// periodic job) decide when recomputation is warranted.
func (s *IndexDB) RecomputeThreshold(domain string, alpha, borderlineDelta float64) (model.ThresholdTable, error) {
	rows, err := s.db.Query(
		`SELECT score FROM cp_artifacts WHERE domain = ? AND correct = 1 ORDER BY score ASC`,
		domain,
	)
	if err != nil {
		return model.ThresholdTable{}, fmt.Errorf("query cp_artifacts: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var sc float64
		if err := rows.Scan(&sc); err != nil {
			return model.ThresholdTable{}, err
		}
		scores = append(scores, sc)
	}
	if len(scores) == 0 {
		return model.ThresholdTable{}, fmt.Errorf("no calibration artifacts for domain %q", domain)
	}
	sort.Float64s(scores)

	tau := quantile(scores, alpha)
	quantiles := make([]float64, 0, 9)
	for i := 1; i <= 9; i++ {
		quantiles = append(quantiles, quantile(scores, float64(i)/10))
	}
	table := model.ThresholdTable{
		Domain:          domain,
		TauAccept:       tau,
		BorderlineDelta: borderlineDelta,
		SNNEQuantiles:   quantiles,
	}

	quantilesJSON, err := json.Marshal(table.SNNEQuantiles)
	if err != nil {
		return model.ThresholdTable{}, err
	}
	_, err = s.db.Exec(
		`INSERT INTO reference_thresholds (domain, tau_accept, borderline_delta, snne_quantiles_json, computed_at)
		 VALUES (?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(domain) DO UPDATE SET tau_accept = excluded.tau_accept,
		   borderline_delta = excluded.borderline_delta,
		   snne_quantiles_json = excluded.snne_quantiles_json,
		   computed_at = excluded.computed_at`,
		domain, table.TauAccept, table.BorderlineDelta, string(quantilesJSON),
	)
	if err != nil {
		return model.ThresholdTable{}, fmt.Errorf("upsert reference_thresholds: %w", err)
	}

	var id string
	if err := s.db.QueryRow(`SELECT lower(hex(randomblob(16)))`).Scan(&id); err != nil {
		id = uuid.NewString()
	}
	_, err = s.db.Exec(
		`INSERT INTO eval_runs (run_id, domain, artifact_count, tau_accept) VALUES (?, ?, ?, ?)`,
		id, domain, len(scores), tau,
	)
	if err != nil {
		return model.ThresholdTable{}, fmt.Errorf("insert eval_runs: %w", err)
	}
	return table, nil
}

// quantile returns the linear-interpolated q-quantile (0<=q<=1) of a sorted
// slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
