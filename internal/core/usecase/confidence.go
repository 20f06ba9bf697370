package usecase

// ConfidenceThresholds are the label cutoffs. They are configuration, not
// hard-coded: deployments tune them through config.Load.
type ConfidenceThresholds struct {
	High   float64
	Medium float64
}

func DefaultConfidenceThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{High: 0.8, Medium: 0.6}
}

const (
	LabelHigh   = "high"
	LabelMedium = "medium"
	LabelLow    = "low"
)

// ConfidenceScorer maps normalized similarity scores into the bounded
// confidence range the rest of the pipeline depends on.
type ConfidenceScorer struct {
	Thresholds ConfidenceThresholds
}

func NewConfidenceScorer(thresholds ConfidenceThresholds) *ConfidenceScorer {
	if thresholds.High <= 0 || thresholds.Medium <= 0 || thresholds.Medium > thresholds.High {
		thresholds = DefaultConfidenceThresholds()
	}
	return &ConfidenceScorer{Thresholds: thresholds}
}

// Score applies a piecewise-linear boost to a cosine-derived similarity in
// [0,1]. Scores near the top of the range are pulled toward 1, mid and low
// scores are compressed. Monotonically non-decreasing; never negative;
// bounded by 1 for sim <= 1.
func (s *ConfidenceScorer) Score(sim float64) float64 {
	switch {
	case sim >= 0.9:
		return 0.95 + (sim-0.9)*0.5
	case sim >= 0.8:
		return 0.85 + (sim-0.8)*1.0
	case sim >= 0.7:
		return 0.70 + (sim-0.7)*1.5
	default:
		v := sim * 0.9
		if v < 0 {
			return 0
		}
		return v
	}
}

// Label maps a confidence value to its discrete bucket.
func (s *ConfidenceScorer) Label(confidence float64) string {
	switch {
	case confidence >= s.Thresholds.High:
		return LabelHigh
	case confidence >= s.Thresholds.Medium:
		return LabelMedium
	default:
		return LabelLow
	}
}
