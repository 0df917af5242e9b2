// Package report turns a grading-service verdict into the normalized green
// score surfaced to learners.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/radcoach/radcoach/internal/corpus"
	"github.com/radcoach/radcoach/internal/oracle"
)

// Grade is the outcome of scoring one candidate report.
type Grade struct {
	CaseID          string              `json:"case_id"`
	GreenScore      float64             `json:"green_score"`
	StdScore        float64             `json:"green_score_std"`
	Explanation     string              `json:"explanation"`
	Errors          oracle.ErrorBuckets `json:"errors"`
	MatchedFindings []string            `json:"matched_findings"`
	AutoSkipped     bool                `json:"auto_skipped,omitempty"`
}

// MarshalPayload renders the cached form stored alongside the submission,
// so duplicate lookups can replay the full verdict without re-grading.
func (g Grade) MarshalPayload() string {
	buf, err := json.Marshal(g)
	if err != nil {
		return "{}"
	}
	return string(buf)
}

// UnmarshalPayload restores a cached Grade; a corrupt payload yields an
// empty verdict rather than an error, the score itself lives on the row.
func UnmarshalPayload(raw string) Grade {
	var g Grade
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &g)
	}
	return g
}

// GreenScore is the normalized correctness metric: 1.0 when there are no
// clinically significant errors, otherwise matched / (matched + errors).
func GreenScore(matched, errs int) float64 {
	if errs == 0 {
		return 1.0
	}
	return float64(matched) / float64(matched+errs)
}

// StyleData is the optional second scoring dimension. Its failure never
// blocks the primary grade.
type StyleData struct {
	StyleScore                         float64 `json:"style_score"`
	SystematicEvaluationScore          float64 `json:"systematic_evaluation_score"`
	OrganizationLanguageScore          float64 `json:"organization_language_score"`
	SystematicEvaluationRecommendation string  `json:"systematic_evaluation_recommendation"`
	OrganizationLanguageRecommendation string  `json:"organization_language_recommendation"`
}

type Grader struct {
	corpus *corpus.Corpus
	oracle oracle.Client
	log    *zap.Logger

	// collapses concurrent identical (case, candidate) gradings into one
	// oracle call
	flight singleflight.Group
}

func NewGrader(c *corpus.Corpus, client oracle.Client, log *zap.Logger) *Grader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Grader{corpus: c, oracle: client, log: log}
}

// autoSkipGrade is the documented placeholder for a case missing from the
// corpus: maximal score so a bad identifier never blocks a learner.
func autoSkipGrade(caseID string) Grade {
	return Grade{
		CaseID:          caseID,
		GreenScore:      1.0,
		StdScore:        0.0,
		Explanation:     "Auto-skip: case not found. Placeholder entry recorded.",
		MatchedFindings: []string{},
		AutoSkipped:     true,
	}
}

// Grade scores a candidate report against the case's reference report via
// the grading service. A case absent from the corpus returns the auto-skip
// placeholder; the caller persists it and advances progression.
func (g *Grader) Grade(ctx context.Context, caseID, findings string) (Grade, error) {
	rc, ok := g.corpus.ReportCase(caseID)
	if !ok {
		g.log.Warn("report case not found, auto-skipping", zap.String("case_id", caseID))
		return autoSkipGrade(caseID), nil
	}

	age := "Unknown"
	if rc.Age > 0 {
		age = strconv.Itoa(rc.Age)
	}
	indication := rc.Indication
	if indication == "" {
		indication = "None provided"
	}
	req := oracle.GradeRequest{
		Reference:  "Findings: " + rc.Findings,
		Candidate:  "Findings: " + findings,
		Age:        age,
		Indication: indication,
	}

	key := caseID + "\x00" + findings
	v, err, _ := g.flight.Do(key, func() (interface{}, error) {
		return g.oracle.Grade(ctx, req)
	})
	if err != nil {
		return Grade{}, fmt.Errorf("grade case %s: %w", caseID, err)
	}
	resp := v.(oracle.GradeResponse)

	matched := len(resp.MatchedFindings)
	errs := resp.Errors.Total()
	green := GreenScore(matched, errs)
	return Grade{
		CaseID:          caseID,
		GreenScore:      green,
		StdScore:        1 - green,
		Explanation:     resp.Explanation,
		Errors:          resp.Errors,
		MatchedFindings: resp.MatchedFindings,
	}, nil
}

// Style rates report organization/coverage on a 0-100 scale. Errors degrade
// to zero sub-scores with empty recommendations.
func (g *Grader) Style(ctx context.Context, findings string) StyleData {
	resp, err := g.oracle.Style(ctx, findings)
	if err != nil {
		g.log.Warn("style scoring failed, defaulting to zero", zap.Error(err))
		return StyleData{}
	}
	return StyleData{
		StyleScore:                         (resp.SystematicEvaluationScore + resp.OrganizationLanguageScore) / 2.0 * 100.0,
		SystematicEvaluationScore:          resp.SystematicEvaluationScore,
		OrganizationLanguageScore:          resp.OrganizationLanguageScore,
		SystematicEvaluationRecommendation: resp.SystematicEvaluationRecommendation,
		OrganizationLanguageRecommendation: resp.OrganizationLanguageRecommendation,
	}
}
