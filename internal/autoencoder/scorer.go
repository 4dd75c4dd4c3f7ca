package autoencoder

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"anomaly-backend/internal/feature"
)

// FeatureError is the reconstruction error attributed to one schema feature.
type FeatureError struct {
	FeatureName         string
	ActualValue         string
	ReconstructionError float64
}

// RowScore is the scoring result for one input row.
type RowScore struct {
	RowIndex  int
	Score     float64
	IsAnomaly bool
	// FeatureErrors is populated for anomalous rows only, ranked by error
	// descending, and kept in full for explainability.
	FeatureErrors []FeatureError
}

// Scorer runs the frozen autoencoder over raw rows. The bundle is read-only
// after construction, so one Scorer is safely shared across concurrent
// scoring calls for different datasets.
type Scorer struct {
	bundle *Bundle
	logger *zap.Logger
}

// NewScorer creates a scorer around a loaded bundle.
func NewScorer(bundle *Bundle, logger *zap.Logger) *Scorer {
	return &Scorer{bundle: bundle, logger: logger}
}

// Threshold returns the frozen classification threshold.
func (s *Scorer) Threshold() float64 {
	return s.bundle.Threshold
}

// Info describes the loaded bundle for diagnostics.
func (s *Scorer) Info() map[string]interface{} {
	return map[string]interface{}{
		"model_name":           s.bundle.ModelName,
		"trained_at":           s.bundle.TrainedAt,
		"threshold":            s.bundle.Threshold,
		"threshold_percentile": s.bundle.ThresholdPercentile,
		"feature_count":        len(s.bundle.Codec.Features),
		"encoded_width":        s.bundle.Codec.Width(),
	}
}

// Score encodes and scores every row against the frozen model. A schema
// mismatch fails the whole batch: partial success is not defined for this
// stage because a mismatched schema means the model is invalid for the
// dataset, not that individual rows are bad.
func (s *Scorer) Score(header []string, rows [][]string) ([]RowScore, error) {
	align, err := s.bundle.Codec.Align(header)
	if err != nil {
		return nil, err
	}
	spans := s.bundle.Codec.Spans()

	scores := make([]RowScore, 0, len(rows))
	anomalous := 0
	for idx, row := range rows {
		vec, err := s.bundle.Codec.EncodeRow(align, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}

		reconstructed := s.bundle.Reconstruct(vec)

		// Aggregate score is the mean squared error over encoded dims.
		var total float64
		dimErr := make([]float64, len(vec))
		for i := range vec {
			d := vec[i] - reconstructed[i]
			dimErr[i] = d * d
			total += dimErr[i]
		}
		score := total / float64(len(vec))

		rs := RowScore{
			RowIndex:  idx,
			Score:     score,
			IsAnomaly: score >= s.bundle.Threshold,
		}
		if rs.IsAnomaly {
			rs.FeatureErrors = s.rankFeatures(align, row, spans, dimErr)
			anomalous++
		}
		scores = append(scores, rs)
	}

	s.logger.Info("Scoring pass finished",
		zap.Int("rows", len(rows)),
		zap.Int("anomalous", anomalous),
		zap.Float64("threshold", s.bundle.Threshold))

	return scores, nil
}

// rankFeatures folds per-dimension squared errors onto schema features and
// ranks them descending. Ties keep schema order so the ranking is stable.
func (s *Scorer) rankFeatures(align []int, row []string, spans []feature.Span, dimErr []float64) []FeatureError {
	ranked := make([]FeatureError, len(spans))
	for i, span := range spans {
		var sum float64
		for d := span.Start; d < span.End; d++ {
			sum += dimErr[d]
		}
		ranked[i] = FeatureError{
			FeatureName:         s.bundle.Codec.Features[i].Name,
			ActualValue:         row[align[i]],
			ReconstructionError: sum,
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].ReconstructionError > ranked[b].ReconstructionError
	})
	return ranked
}
