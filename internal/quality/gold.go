package quality

import "encoding/json"

const (
	GoldMatchScore    = 1.0
	GoldMismatchScore = 0.3
	GoldPassThreshold = 0.7
)

// GoldScore compares submitted labels with a gold set's expected labels.
// Exact canonical equality scores GoldMatchScore, anything else
// GoldMismatchScore.
func GoldScore(submitted, expected json.RawMessage) (score float64, passed bool, err error) {
	got, err := Canonical(submitted)
	if err != nil {
		return 0, false, err
	}
	want, err := Canonical(expected)
	if err != nil {
		return 0, false, err
	}
	score = GoldMismatchScore
	if got == want {
		score = GoldMatchScore
	}
	return score, score >= GoldPassThreshold, nil
}
