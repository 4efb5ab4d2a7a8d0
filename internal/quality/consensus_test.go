package quality_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/quality"
)

func ptr(f float64) *float64 { return &f }

func annotations(labels ...string) []domain.Annotation {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]domain.Annotation, len(labels))
	for i, l := range labels {
		out[i] = domain.Annotation{
			ID:          "a" + string(rune('0'+i)),
			TaskID:      "task-1",
			AnnotatorID: "user-" + string(rune('a'+i)),
			Labels:      json.RawMessage(l),
			Revision:    1,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func majority() domain.ConsensusConfig { return domain.DefaultConsensusConfig("p1") }

func TestCanonical_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := quality.Canonical(json.RawMessage(`{"b": 2, "a": [1, 2]}`))
	require.NoError(t, err)
	b, err := quality.Canonical(json.RawMessage(`{"a":[1,2],"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":[1,2],"b":2}`, a)
}

func TestCanonical_InvalidJSON(t *testing.T) {
	_, err := quality.Canonical(json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestCompute_IdenticalLabels_FullAgreement(t *testing.T) {
	out, err := quality.Compute(annotations(`{"cat":"dog"}`, `{"cat":"dog"}`, `{"cat":"dog"}`), majority())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Agreement, 1e-9)
	assert.JSONEq(t, `{"cat":"dog"}`, string(out.Labels))
	assert.Equal(t, domain.MethodMajorityVote, out.Method)
}

func TestCompute_TwoOfThree(t *testing.T) {
	out, err := quality.Compute(annotations(`{"x":1}`, `{"x":1}`, `{"x":2}`), majority())
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, out.Agreement, 1e-3)
	assert.JSONEq(t, `{"x":1}`, string(out.Labels))
}

func TestCompute_MajorityTie_FirstSeenWins(t *testing.T) {
	out, err := quality.Compute(annotations(`{"x":2}`, `{"x":1}`, `{"x":1}`, `{"x":2}`), majority())
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":2}`, string(out.Labels))
	assert.InDelta(t, 0.5, out.Agreement, 1e-9)
}

func TestCompute_KeyOrderDoesNotSplitVotes(t *testing.T) {
	out, err := quality.Compute(annotations(`{"a":1,"b":2}`, `{"b":2,"a":1}`, `{"a":3,"b":2}`), majority())
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, out.Agreement, 1e-9)
}

func TestCompute_WeightedVote(t *testing.T) {
	anns := annotations(`{"x":1}`, `{"x":1}`, `{"x":2}`)
	anns[0].Confidence = ptr(0.2)
	anns[1].Confidence = ptr(0.2)
	anns[2].Confidence = ptr(0.9)
	cfg := majority()
	cfg.Method = domain.MethodWeightedVote

	out, err := quality.Compute(anns, cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":2}`, string(out.Labels), "one confident annotator outweighs two unsure ones")
	assert.InDelta(t, 0.9/1.3, out.Agreement, 1e-9)
	assert.Equal(t, domain.MethodWeightedVote, out.Method)
}

func TestCompute_WeightedVote_NullConfidenceCountsAsOne(t *testing.T) {
	anns := annotations(`{"x":1}`, `{"x":2}`)
	anns[1].Confidence = ptr(0.5)
	cfg := majority()
	cfg.Method = domain.MethodWeightedVote

	out, err := quality.Compute(anns, cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(out.Labels))
	assert.InDelta(t, 1.0/1.5, out.Agreement, 1e-9)
}

func TestCompute_WeightedVote_ZeroWeightFallsBackToCounts(t *testing.T) {
	anns := annotations(`{"x":1}`, `{"x":2}`, `{"x":2}`)
	for i := range anns {
		anns[i].Confidence = ptr(0)
	}
	cfg := majority()
	cfg.Method = domain.MethodWeightedVote

	out, err := quality.Compute(anns, cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":2}`, string(out.Labels))
	assert.InDelta(t, 2.0/3.0, out.Agreement, 1e-9)
}

func TestCompute_Specialist_LatestSpecialistDecides(t *testing.T) {
	anns := annotations(`{"x":1}`, `{"x":2}`, `{"x":1}`, `{"x":3}`)
	cfg := majority()
	cfg.Method = domain.MethodSpecialist
	cfg.SpecialistIDs = []string{anns[1].AnnotatorID, anns[3].AnnotatorID}

	out, err := quality.Compute(anns, cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":3}`, string(out.Labels))
	assert.InDelta(t, 0.25, out.Agreement, 1e-9)
	assert.Equal(t, domain.MethodSpecialist, out.Method)
}

func TestCompute_Specialist_NoSpecialistFallsBackToMajority(t *testing.T) {
	cfg := majority()
	cfg.Method = domain.MethodSpecialist
	cfg.SpecialistIDs = []string{"nobody"}

	out, err := quality.Compute(annotations(`{"x":1}`, `{"x":1}`, `{"x":2}`), cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(out.Labels))
	assert.Equal(t, domain.MethodMajorityVote, out.Method)
}

func TestCompute_Empty(t *testing.T) {
	_, err := quality.Compute(nil, majority())
	require.ErrorIs(t, err, quality.ErrNoAnnotations)
}

func TestGoldScore(t *testing.T) {
	tests := []struct {
		name       string
		submitted  string
		expected   string
		wantScore  float64
		wantPassed bool
	}{
		{"exact match", `{"label":"cat"}`, `{"label":"cat"}`, 1.0, true},
		{"match modulo key order", `{"a":1,"b":2}`, `{"b":2,"a":1}`, 1.0, true},
		{"mismatch", `{"label":"dog"}`, `{"label":"cat"}`, 0.3, false},
		{"extra key", `{"label":"cat","extra":true}`, `{"label":"cat"}`, 0.3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, passed, err := quality.GoldScore(json.RawMessage(tt.submitted), json.RawMessage(tt.expected))
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantPassed, passed)
		})
	}
}

func TestMeanAgreement(t *testing.T) {
	assert.Equal(t, 0.0, quality.MeanAgreement(nil))
	assert.InDelta(t, 0.75, quality.MeanAgreement([]float64{1.0, 0.5}), 1e-9)
}
