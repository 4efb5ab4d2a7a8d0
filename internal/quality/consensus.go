// Package quality aggregates annotations into consensus labels and scores
// annotators against gold items.
package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/gowebpki/jcs"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

// ErrNoAnnotations is returned when consensus is requested over an empty set.
var ErrNoAnnotations = errors.New("no annotations to aggregate")

// Outcome is the result of one consensus computation.
type Outcome struct {
	Labels    json.RawMessage
	Agreement float64
	// Method is the method that actually decided; specialist falls back to
	// majority_vote when no specialist has annotated the task.
	Method domain.ConsensusMethod
}

// Canonical returns the RFC 8785 form of a labels document. Two label sets
// are equal exactly when their canonical forms are equal.
func Canonical(labels json.RawMessage) (string, error) {
	out, err := jcs.Transform(labels)
	if err != nil {
		return "", fmt.Errorf("canonicalize labels: %w", err)
	}
	return string(out), nil
}

// Compute aggregates anns according to cfg. anns must be ordered by
// creation time; ties are broken in favour of the form seen first.
func Compute(anns []domain.Annotation, cfg domain.ConsensusConfig) (Outcome, error) {
	if len(anns) == 0 {
		return Outcome{}, ErrNoAnnotations
	}
	forms := make([]string, len(anns))
	for i, a := range anns {
		f, err := Canonical(a.Labels)
		if err != nil {
			return Outcome{}, fmt.Errorf("annotation %s: %w", a.ID, err)
		}
		forms[i] = f
	}

	switch cfg.Method {
	case domain.MethodWeightedVote:
		return weightedVote(anns, forms), nil
	case domain.MethodSpecialist:
		return specialist(anns, forms, cfg.SpecialistIDs), nil
	default:
		return majorityVote(forms), nil
	}
}

// tally accumulates a score per canonical form, remembering first-seen order.
type tally struct {
	order  []string
	scores map[string]float64
}

func newTally() *tally { return &tally{scores: make(map[string]float64)} }

func (t *tally) add(form string, w float64) {
	if _, ok := t.scores[form]; !ok {
		t.order = append(t.order, form)
	}
	t.scores[form] += w
}

// winner returns the highest-scoring form; earlier forms win ties.
func (t *tally) winner() (string, float64) {
	var best string
	bestScore := -1.0
	for _, f := range t.order {
		if s := t.scores[f]; s > bestScore {
			best, bestScore = f, s
		}
	}
	return best, bestScore
}

func majorityVote(forms []string) Outcome {
	t := newTally()
	for _, f := range forms {
		t.add(f, 1)
	}
	form, count := t.winner()
	return Outcome{
		Labels:    json.RawMessage(form),
		Agreement: count / float64(len(forms)),
		Method:    domain.MethodMajorityVote,
	}
}

func weightedVote(anns []domain.Annotation, forms []string) Outcome {
	t := newTally()
	total := 0.0
	for i, a := range anns {
		w := 1.0
		if a.Confidence != nil {
			w = *a.Confidence
		}
		total += w
		t.add(forms[i], w)
	}
	if total == 0 {
		out := majorityVote(forms)
		out.Method = domain.MethodWeightedVote
		return out
	}
	form, weight := t.winner()
	return Outcome{
		Labels:    json.RawMessage(form),
		Agreement: weight / total,
		Method:    domain.MethodWeightedVote,
	}
}

func specialist(anns []domain.Annotation, forms []string, specialistIDs []string) Outcome {
	decider := -1
	for i := len(anns) - 1; i >= 0; i-- {
		if slices.Contains(specialistIDs, anns[i].AnnotatorID) {
			decider = i
			break
		}
	}
	if decider < 0 {
		return majorityVote(forms)
	}

	form := forms[decider]
	agree := 0
	for _, f := range forms {
		if f == form {
			agree++
		}
	}
	return Outcome{
		Labels:    json.RawMessage(form),
		Agreement: float64(agree) / float64(len(forms)),
		Method:    domain.MethodSpecialist,
	}
}

// MeanAgreement is the inter-annotator agreement over a set of per-task
// agreement scores. An empty set scores 0.
func MeanAgreement(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
