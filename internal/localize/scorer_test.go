package localize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radcoach/radcoach/internal/corpus"
	"github.com/radcoach/radcoach/internal/geometry"
)

func testCorpus(cases ...*corpus.LocalizeCase) *corpus.Corpus {
	return corpus.New(corpus.DefaultTaxonomy(), cases, nil)
}

// agreeAllAbsent marks every non-localizable label the ground truth lacks as
// unselected, so presence checks contribute a fixed, known correct count.
func agreeAllAbsent() map[string]bool { return map[string]bool{} }

func nonLocalizableCount() int {
	return len(corpus.DefaultTaxonomy().NonLocalizableLabels())
}

func TestNonLocalizablePresence(t *testing.T) {
	c := testCorpus(&corpus.LocalizeCase{
		ID:    "case1",
		Boxes: map[string][]geometry.Box{"Pneumothorax": nil},
	})
	s := NewScorer(c)

	selected := s.Score("case1", Submission{NonLocalizable: map[string]bool{"Pneumothorax": true}})
	// Pneumothorax agreed present + the other absent labels agreed absent
	assert.Equal(t, nonLocalizableCount(), selected.Correct)
	assert.Equal(t, 0, selected.Incorrect)

	missed := s.Score("case1", Submission{NonLocalizable: map[string]bool{}})
	assert.Equal(t, nonLocalizableCount()-1, missed.Correct)
	assert.Equal(t, 1, missed.Incorrect)

	falseAlarm := s.Score("case1", Submission{NonLocalizable: map[string]bool{
		"Pneumothorax": true,
		"Cardiomegaly": true,
	}})
	assert.Equal(t, nonLocalizableCount()-1, falseAlarm.Correct)
	assert.Equal(t, 1, falseAlarm.Incorrect)
}

func TestBoxMatchAboveThreshold(t *testing.T) {
	c := testCorpus(&corpus.LocalizeCase{
		ID:    "case1",
		Boxes: map[string][]geometry.Box{"Nodule/Mass": {{0.1, 0.1, 0.3, 0.3}}},
	})
	s := NewScorer(c)

	res := s.Score("case1", Submission{
		Boxes:          []Box{{Label: "Nodule/Mass", Coordinates: []float64{0.12, 0.11, 0.29, 0.31}}},
		NonLocalizable: agreeAllAbsent(),
	})
	assert.Equal(t, 1+nonLocalizableCount(), res.Correct)
	assert.Equal(t, 0, res.Incorrect)
	require.Len(t, res.Boxes, 1)
	assert.InDelta(t, 0.84, res.Boxes[0].IoU, 0.02, "per-box IoU is the computed overlap, not 0")
}

func TestBoxBelowThresholdIncorrectWithFeedbackIoU(t *testing.T) {
	c := testCorpus(&corpus.LocalizeCase{
		ID:    "case1",
		Boxes: map[string][]geometry.Box{"Nodule/Mass": {{0.1, 0.1, 0.3, 0.3}}},
	})
	s := NewScorer(c)

	res := s.Score("case1", Submission{
		Boxes:          []Box{{Label: "Nodule/Mass", Coordinates: []float64{0.28, 0.28, 0.5, 0.5}}},
		NonLocalizable: agreeAllAbsent(),
	})
	// missed ground-truth box + leftover submission box
	assert.Equal(t, nonLocalizableCount(), res.Correct)
	assert.Equal(t, 2, res.Incorrect)
	require.Len(t, res.Boxes, 1)
	assert.Greater(t, res.Boxes[0].IoU, 0.0)
	assert.Less(t, res.Boxes[0].IoU, IoUThreshold)
}

func TestInvalidBoxesNeverMatch(t *testing.T) {
	c := testCorpus(&corpus.LocalizeCase{
		ID:    "case1",
		Boxes: map[string][]geometry.Box{"Nodule/Mass": {{0.1, 0.1, 0.3, 0.3}}},
	})
	s := NewScorer(c)

	res := s.Score("case1", Submission{
		Boxes: []Box{
			{Label: "", Coordinates: []float64{0.1, 0.1, 0.3, 0.3}},
			{Label: "Nodule/Mass", Coordinates: []float64{0.1, 0.1}},
		},
		NonLocalizable: agreeAllAbsent(),
	})
	// the unmatched ground-truth box counts incorrect; invalid boxes are
	// annotated IoU 0 and dropped from matching
	assert.Equal(t, nonLocalizableCount(), res.Correct)
	assert.Equal(t, 1, res.Incorrect)
	require.Len(t, res.Boxes, 2)
	assert.Zero(t, res.Boxes[0].IoU)
	assert.Zero(t, res.Boxes[1].IoU)
}

func TestUnknownLabelBoxesAreIncorrect(t *testing.T) {
	c := testCorpus(&corpus.LocalizeCase{
		ID:    "case1",
		Boxes: map[string][]geometry.Box{"Nodule/Mass": {{0.1, 0.1, 0.3, 0.3}}},
	})
	s := NewScorer(c)

	res := s.Score("case1", Submission{
		Boxes: []Box{
			{Label: "Nodule/Mass", Coordinates: []float64{0.1, 0.1, 0.3, 0.3}},
			{Label: "Fracture", Coordinates: []float64{0.6, 0.6, 0.8, 0.8}},
			{Label: "Fracture", Coordinates: []float64{0.2, 0.6, 0.4, 0.8}},
		},
		NonLocalizable: agreeAllAbsent(),
	})
	assert.Equal(t, 1+nonLocalizableCount(), res.Correct)
	assert.Equal(t, 2, res.Incorrect)
}

func TestGreedyTieBreakIsFirstEncountered(t *testing.T) {
	c := testCorpus(&corpus.LocalizeCase{
		ID:    "case1",
		Boxes: map[string][]geometry.Box{"Nodule/Mass": {{0.1, 0.1, 0.3, 0.3}}},
	})
	s := NewScorer(c)

	// two identical candidate boxes: the first must consume the match
	res := s.Score("case1", Submission{
		Boxes: []Box{
			{Label: "Nodule/Mass", Coordinates: []float64{0.1, 0.1, 0.3, 0.3}},
			{Label: "Nodule/Mass", Coordinates: []float64{0.1, 0.1, 0.3, 0.3}},
		},
		NonLocalizable: agreeAllAbsent(),
	})
	require.Len(t, res.Boxes, 2)
	assert.Equal(t, 1.0, res.Boxes[0].IoU)
	assert.Equal(t, 1+nonLocalizableCount(), res.Correct)
	assert.Equal(t, 1, res.Incorrect, "the duplicate is a leftover")
	assert.Equal(t, 1.0, res.Boxes[1].IoU, "leftover still reports its best overlap")
}

func TestMultipleGroundTruthBoxesGreedyConsumption(t *testing.T) {
	c := testCorpus(&corpus.LocalizeCase{
		ID: "case1",
		Boxes: map[string][]geometry.Box{
			"Consolidation": {{0.0, 0.0, 0.2, 0.2}, {0.6, 0.6, 0.9, 0.9}},
		},
	})
	s := NewScorer(c)

	res := s.Score("case1", Submission{
		Boxes: []Box{
			{Label: "Consolidation", Coordinates: []float64{0.61, 0.6, 0.9, 0.9}},
			{Label: "Consolidation", Coordinates: []float64{0.0, 0.0, 0.21, 0.2}},
		},
		NonLocalizable: agreeAllAbsent(),
	})
	assert.Equal(t, 2+nonLocalizableCount(), res.Correct)
	assert.Equal(t, 0, res.Incorrect)
}

func TestUnknownCaseDegradesGracefully(t *testing.T) {
	s := NewScorer(testCorpus())
	res := s.Score("missing", Submission{
		Boxes:          []Box{{Label: "Nodule/Mass", Coordinates: []float64{0.1, 0.1, 0.3, 0.3}}},
		NonLocalizable: agreeAllAbsent(),
	})
	assert.Equal(t, nonLocalizableCount(), res.Correct)
	assert.Equal(t, 1, res.Incorrect)
}
