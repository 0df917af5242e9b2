// Package localize grades bounding-box submissions against a case's ground
// truth using greedy IoU matching.
package localize

import (
	"sort"

	"github.com/radcoach/radcoach/internal/corpus"
	"github.com/radcoach/radcoach/internal/geometry"
)

// IoUThreshold is the minimum overlap for a submitted box to count as a
// match for a ground-truth box of the same label.
const IoUThreshold = 0.3

// Box is one submitted bounding box. IoU is filled in by the scorer: the
// matched overlap for correct boxes, the best overlap against any same-label
// ground truth for unmatched ones, 0 for invalid or unmatchable boxes.
type Box struct {
	Label       string    `json:"label"`
	Coordinates []float64 `json:"coordinates"`
	IoU         float64   `json:"iou"`
}

// Submission is a learner's full answer for one localization case.
type Submission struct {
	Boxes          []Box           `json:"user_boxes"`
	NonLocalizable map[string]bool `json:"nonlocalizable"`
}

// Result is the scored outcome. Boxes preserves submission order with IoU
// annotations attached.
type Result struct {
	Correct   int   `json:"correct"`
	Incorrect int   `json:"incorrect"`
	Boxes     []Box `json:"user_boxes"`
}

type Scorer struct {
	corpus *corpus.Corpus
}

func NewScorer(c *corpus.Corpus) *Scorer { return &Scorer{corpus: c} }

// Score grades a submission against the case's ground truth. An unknown case
// ID yields an all-incorrect result rather than an error: a malformed
// submission degrades to a lower score, it never fails the request.
func (s *Scorer) Score(caseID string, sub Submission) Result {
	tax := s.corpus.Taxonomy()
	var gtCase *corpus.LocalizeCase
	if c, ok := s.corpus.LocalizeCase(caseID); ok {
		gtCase = c
	} else {
		gtCase = &corpus.LocalizeCase{ID: caseID, Boxes: map[string][]geometry.Box{}}
	}

	// ground truth partitioned by label, localizable labels only
	gtBoxes := map[string][]geometry.Box{}
	for lbl, boxes := range gtCase.Boxes {
		if !tax.IsNonLocalizable(lbl) {
			gtBoxes[lbl] = boxes
		}
	}

	res := Result{Boxes: make([]Box, 0, len(sub.Boxes))}

	// submitted boxes partitioned by label; invalid ones are annotated with
	// IoU 0 and never participate in matching
	type candidate struct {
		idx int
		box geometry.Box
	}
	byLabel := map[string][]candidate{}
	for _, ub := range sub.Boxes {
		annotated := Box{Label: ub.Label, Coordinates: ub.Coordinates}
		b, ok := geometry.FromCoords(ub.Coordinates)
		if ub.Label == "" || !ok {
			res.Boxes = append(res.Boxes, annotated)
			continue
		}
		idx := len(res.Boxes)
		res.Boxes = append(res.Boxes, annotated)
		byLabel[ub.Label] = append(byLabel[ub.Label], candidate{idx: idx, box: b})
	}

	// stable label order keeps runs reproducible
	labels := make([]string, 0, len(gtBoxes))
	for lbl := range gtBoxes {
		labels = append(labels, lbl)
	}
	sort.Strings(labels)

	for _, lbl := range labels {
		gts := gtBoxes[lbl]
		cands := byLabel[lbl]
		used := make([]bool, len(cands))
		for _, g := range gts {
			bestIoU := 0.0
			bestIdx := -1
			for i, cand := range cands {
				if used[i] {
					continue
				}
				// strict > keeps the first-encountered box on ties
				if v := geometry.IoU(g, cand.box); v > bestIoU {
					bestIoU = v
					bestIdx = i
				}
			}
			if bestIdx >= 0 && bestIoU >= IoUThreshold {
				used[bestIdx] = true
				res.Boxes[cands[bestIdx].idx].IoU = bestIoU
				res.Correct++
			} else {
				res.Incorrect++
			}
		}
		// leftover boxes of a matched label: incorrect, annotated with their
		// best overlap for feedback
		for i, cand := range cands {
			if used[i] {
				continue
			}
			bestAny := 0.0
			for _, g := range gts {
				if v := geometry.IoU(g, cand.box); v > bestAny {
					bestAny = v
				}
			}
			res.Boxes[cand.idx].IoU = bestAny
			res.Incorrect++
		}
	}

	// boxes whose label has no ground truth at all
	for lbl, cands := range byLabel {
		if _, ok := gtBoxes[lbl]; !ok {
			res.Incorrect += len(cands)
		}
	}

	// presence-only findings: the learner is correct exactly when their
	// selection agrees with the ground truth
	for _, lbl := range tax.NonLocalizableLabels() {
		chosen := sub.NonLocalizable[lbl]
		present := gtCase.HasLabel(lbl)
		if present == chosen {
			res.Correct++
		} else {
			res.Incorrect++
		}
	}

	return res
}
