package uq

import (
	"context"

	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/model"
)

// Estimator drives the full SNNE pipeline: paraphrase, embed, entropy,
// calibrate. It is constructed once per orchestrator with a shared
// Calibrator and embedding backend.
type Estimator struct {
	Embed      Embedder
	Calibrator *Calibrator
	Tau        float64 // logsumexp temperature, default 1.0
	NumSamples int     // default 5, clamped to [3,5] per spec
}

// NewEstimator returns an Estimator with spec defaults.
func NewEstimator(embed Embedder, calibrator *Calibrator) *Estimator {
	return &Estimator{Embed: embed, Calibrator: calibrator, Tau: 1.0, NumSamples: 5}
}

// Estimate computes the per-step UQ record for a draft's text.
func (e *Estimator) Estimate(ctx context.Context, stepIndex int, domain, draftText string) model.UQ {
	n := e.NumSamples
	if n < 3 {
		n = 3
	}
	if n > 5 {
		n = 5
	}

	samples := Paraphrase(draftText, n)
	if len(samples) == 1 {
		logging.Get(logging.CategoryUQ).Warn("n=1 paraphrase sample, SNNE undefined, treating s1=0")
		return model.UQ{
			StepIndex: stepIndex,
			Samples:   []model.ParaphraseSample{{Text: samples[0]}},
			RawSNNE:   0,
			S1:        0,
			Undefined: true,
		}
	}

	matrix, err := SimilarityMatrix(ctx, samples, e.Embed)
	if err != nil {
		logging.Get(logging.CategoryUQ).Warn("similarity matrix failed: %v", err)
	}

	raw, err := SNNE(ctx, samples, e.Tau, e.Embed)
	if err != nil {
		logging.Get(logging.CategoryUQ).Error("SNNE computation failed: %v", err)
		return model.UQ{StepIndex: stepIndex, RawSNNE: 0, S1: 0, Undefined: true}
	}

	var s1 float64
	if e.Calibrator != nil {
		s1 = e.Calibrator.Normalize(domain, raw)
	} else {
		s1 = Normalize(raw)
	}

	paraphraseSamples := make([]model.ParaphraseSample, len(samples))
	for i, s := range samples {
		paraphraseSamples[i] = model.ParaphraseSample{Text: s}
	}

	logging.UQDebug("step=%d domain=%s raw=%.4f s1=%.4f n=%d", stepIndex, domain, raw, s1, n)

	return model.UQ{
		StepIndex:        stepIndex,
		Samples:          paraphraseSamples,
		SimilarityMatrix: matrix,
		RawSNNE:          raw,
		S1:               s1,
		Undefined:        false,
	}
}
