// Package oracle talks to the external report-grading service. The service
// compares a candidate report against a reference composed by experts and
// returns a structured error classification.
package oracle

import "context"

// GradeRequest carries both reports plus patient context for one grading.
type GradeRequest struct {
	Reference  string
	Candidate  string
	Age        string // "Unknown" when absent
	Indication string // "None provided" when absent
}

// ErrorBuckets are the four clinically-significant error categories.
type ErrorBuckets struct {
	FalseFindings   []string `json:"a"`
	MissingFindings []string `json:"b"`
	LocationErrors  []string `json:"c"`
	SeverityErrors  []string `json:"d"`
}

func (b ErrorBuckets) Total() int {
	return len(b.FalseFindings) + len(b.MissingFindings) + len(b.LocationErrors) + len(b.SeverityErrors)
}

// normalized replaces nil buckets with empty slices so cached payloads
// round-trip as arrays, never null.
func (b ErrorBuckets) normalized() ErrorBuckets {
	if b.FalseFindings == nil {
		b.FalseFindings = []string{}
	}
	if b.MissingFindings == nil {
		b.MissingFindings = []string{}
	}
	if b.LocationErrors == nil {
		b.LocationErrors = []string{}
	}
	if b.SeverityErrors == nil {
		b.SeverityErrors = []string{}
	}
	return b
}

// GradeResponse is the service's structured verdict. Field names follow the
// wire format the service is instructed to emit.
type GradeResponse struct {
	Explanation     string       `json:"Explanation"`
	Errors          ErrorBuckets `json:"ClinicallySignificantErrors"`
	MatchedFindings []string     `json:"MatchedFindings"`
}

// StyleResponse rates report writing style on a 0/0.5/1 scale per criterion.
type StyleResponse struct {
	SystematicEvaluationScore          float64 `json:"systematic_evaluation_score"`
	OrganizationLanguageScore          float64 `json:"organization_language_score"`
	SystematicEvaluationRecommendation string  `json:"systematic_evaluation_recommendation"`
	OrganizationLanguageRecommendation string  `json:"organization_language_recommendation"`
}

// Client is the grading service boundary. A malformed or non-JSON response
// must surface as an error, never as an empty (and therefore perfect) grade.
type Client interface {
	Grade(ctx context.Context, req GradeRequest) (GradeResponse, error)
	Style(ctx context.Context, candidate string) (StyleResponse, error)
}
