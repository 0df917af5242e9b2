package ledger

import "fmt"

// Modality separates the two practice tracks. Each has its own ordering and
// progress counter; the session timer is shared.
type Modality string

const (
	ModalityLocalize Modality = "localize"
	ModalityReport   Modality = "report"
)

// Mode is how a learner experiences a track: active (submitting answers) or
// passive (guided walkthrough, no grading).
const (
	ModeActive  = "active"
	ModePassive = "passive"
)

// Progress is the per-learner durable state. Counters only ever increase,
// exactly once per accepted submission.
type Progress struct {
	LearnerID string `json:"learner_id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`

	LocalizeMode string `json:"localize_mode"`
	ReportMode   string `json:"report_mode"`

	TookLocalizePre  bool `json:"took_localize_pre"`
	TookLocalizePost bool `json:"took_localize_post"`
	TookReportPre    bool `json:"took_report_pre"`
	TookReportPost   bool `json:"took_report_post"`

	LocalizeCompleted int `json:"localize_cases_completed"`
	ReportCompleted   int `json:"report_cases_completed"`
}

func (p Progress) Completed(m Modality) int {
	if m == ModalityReport {
		return p.ReportCompleted
	}
	return p.LocalizeCompleted
}

// Submission is one appended ledger row. Scored report rows carry a non-nil
// GreenScore; everything else leaves it nil.
type Submission struct {
	ID        string   `json:"id"`
	LearnerID string   `json:"learner_id"`
	CaseID    string   `json:"case_id"`
	Modality  Modality `json:"modality"`
	CreatedAt int64    `json:"created_at"` // unix ms

	SelectionsJSON string `json:"selections_json,omitempty"`
	Findings       string `json:"findings,omitempty"`

	CorrectCount   int `json:"correct_count"`
	IncorrectCount int `json:"incorrect_count"`

	ElapsedMs    int64 `json:"elapsed_ms"`
	CheckpointMs int64 `json:"checkpoint_ms"`

	GreenScore *float64 `json:"green_score,omitempty"`
	GreenStd   *float64 `json:"green_std,omitempty"`
	GradeJSON  string   `json:"grade_json,omitempty"`

	// progression counter after the increment this row caused, for audit
	ProgressSnapshot int `json:"progress_snapshot"`
}

// Scored reports whether this row represents a completed grading.
func (s Submission) Scored() bool { return s.GreenScore != nil }

// FormatElapsed renders a millisecond duration as HH:MM:SS.
func FormatElapsed(ms int64) string {
	if ms <= 0 {
		return "00:00:00"
	}
	h := ms / (1000 * 60 * 60)
	m := (ms % (1000 * 60 * 60)) / (1000 * 60)
	s := (ms % (1000 * 60)) / 1000
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
