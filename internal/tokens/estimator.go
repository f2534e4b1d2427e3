// Package tokens provides token-count estimation for prompt budgeting.
//
// The estimator is the sole cost basis for all budgeting decisions in the
// pipeline; no other component recomputes token cost by different means.
package tokens

const defaultCharsPerToken = 4

// Estimator estimates the token cost of arbitrary text. Implementations must
// be deterministic and monotonically non-decreasing in input length.
type Estimator interface {
	Estimate(text string) int
}

// HeuristicEstimator approximates token counts from character length.
// The default ratio of ~4 chars/token tracks Claude-family tokenizers closely
// enough for budgeting.
type HeuristicEstimator struct {
	charsPerToken int
}

// NewEstimator returns a HeuristicEstimator with the default ratio.
func NewEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{charsPerToken: defaultCharsPerToken}
}

// NewEstimatorWithRatio returns an estimator with a custom chars-per-token
// ratio. Non-positive ratios fall back to the default.
func NewEstimatorWithRatio(charsPerToken int) *HeuristicEstimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &HeuristicEstimator{charsPerToken: charsPerToken}
}

// Estimate returns 0 for empty text and at least 1 for any non-empty text.
func (e *HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / e.charsPerToken
	if n < 1 {
		return 1
	}
	return n
}
