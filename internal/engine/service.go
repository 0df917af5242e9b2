// Package engine orchestrates case progression, scoring and the ledger. It
// owns the per-learner serialization that keeps counter updates and
// duplicate checks race-free; everything below it is stateless or
// store-backed.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radcoach/radcoach/internal/corpus"
	"github.com/radcoach/radcoach/internal/geometry"
	"github.com/radcoach/radcoach/internal/ledger"
	"github.com/radcoach/radcoach/internal/localize"
	"github.com/radcoach/radcoach/internal/report"
)

// maxGuidedDeltaMs caps the server-derived timer delta for guided
// walkthroughs, so a learner who walks away does not inflate the session
// timer on return.
const maxGuidedDeltaMs = int64(5 * 60 * 1000)

type Service struct {
	corpus *corpus.Corpus
	scorer *localize.Scorer
	grader *report.Grader
	ledger *ledger.Ledger
	log    *zap.Logger
	runID  string

	mu       sync.Mutex
	learners map[string]*sync.Mutex
	// last guided advance per learner, for the server-derived delta
	guidedAt map[string]time.Time
}

func New(c *corpus.Corpus, grader *report.Grader, led *ledger.Ledger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		corpus:   c,
		scorer:   localize.NewScorer(c),
		grader:   grader,
		ledger:   led,
		log:      log,
		runID:    uuid.NewString(),
		learners: map[string]*sync.Mutex{},
		guidedAt: map[string]time.Time{},
	}
}

// RunID identifies this process instance in logs and exports.
func (s *Service) RunID() string { return s.runID }

func (s *Service) Ledger() *ledger.Ledger { return s.ledger }
func (s *Service) Corpus() *corpus.Corpus { return s.corpus }

// learnerLock returns the mutex serializing all submission handling for one
// learner. Submissions for different learners never contend.
func (s *Service) learnerLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.learners[id]
	if !ok {
		m = &sync.Mutex{}
		s.learners[id] = m
	}
	return m
}

// GuidedFinding is one ground-truth finding exposed to passive learners.
type GuidedFinding struct {
	Label        string         `json:"label"`
	Boxes        []geometry.Box `json:"boxes"`
	Explanations []string       `json:"explanations,omitempty"`
}

// LocalizeCaseView is the next localization exercise for a learner.
type LocalizeCaseView struct {
	CaseID         string   `json:"case_id"`
	Index          int      `json:"case_index"`
	Total          int      `json:"total_cases"`
	Exhausted      bool     `json:"exhausted"`
	Mode           string   `json:"mode"`
	Labels         []string `json:"labels"`
	NonLocalizable []string `json:"nonlocalizable_labels"`

	// filled for passive (guided) learners only
	GroundTruth []GuidedFinding `json:"ground_truth,omitempty"`
}

// NextLocalizeCase resolves the case a learner should see next. Past the end
// of the corpus the last case repeats with Exhausted set; capacity rejection
// happens at submission, not here, so a learner can always review.
func (s *Service) NextLocalizeCase(ctx context.Context, learnerID string) (LocalizeCaseView, error) {
	p, err := s.ledger.Learner(ctx, learnerID)
	if err != nil {
		return LocalizeCaseView{}, err
	}
	caseID, exhausted := s.corpus.LocalizeAt(p.LocalizeCompleted)
	if caseID == "" {
		return LocalizeCaseView{}, fmt.Errorf("localization corpus is empty: %w", ErrNoCases)
	}
	tax := s.corpus.Taxonomy()
	view := LocalizeCaseView{
		CaseID:         caseID,
		Index:          p.LocalizeCompleted,
		Total:          s.corpus.LocalizeCount(),
		Exhausted:      exhausted,
		Mode:           p.LocalizeMode,
		Labels:         tax.LocalizableLabels(),
		NonLocalizable: tax.NonLocalizableLabels(),
	}
	if p.LocalizeMode == ledger.ModePassive {
		view.GroundTruth = s.guidedFindings(caseID)
	}
	return view, nil
}

func (s *Service) guidedFindings(caseID string) []GuidedFinding {
	lc, ok := s.corpus.LocalizeCase(caseID)
	if !ok {
		return nil
	}
	out := make([]GuidedFinding, 0, len(lc.Boxes))
	for _, lbl := range s.corpus.Taxonomy().Labels() {
		boxes, ok := lc.Boxes[lbl]
		if !ok {
			continue
		}
		out = append(out, GuidedFinding{
			Label:        lbl,
			Boxes:        boxes,
			Explanations: lc.Explanations[lbl],
		})
	}
	return out
}

// ReportCaseView is the next report-writing exercise for a learner.
type ReportCaseView struct {
	CaseID     string   `json:"case_id"`
	Index      int      `json:"case_index"`
	Total      int      `json:"total_cases"`
	Exhausted  bool     `json:"exhausted"`
	Mode       string   `json:"mode"`
	Images     []string `json:"images"`
	Age        int      `json:"patient_age,omitempty"`
	Indication string   `json:"indication,omitempty"`

	// set when the caller asked for a specific case that is already scored
	AlreadyCompleted bool   `json:"already_completed,omitempty"`
	NextCaseID       string `json:"next_case_id,omitempty"`

	// filled for passive (guided) learners only
	ReferenceFindings    string `json:"reference_findings,omitempty"`
	ReferenceImpressions string `json:"reference_impressions,omitempty"`
}

// NextReportCase resolves the learner's next report case. When requestedID
// names a case with an existing scored submission, the view flags it and
// carries the identifier of the case progression would serve instead.
func (s *Service) NextReportCase(ctx context.Context, learnerID, requestedID string) (ReportCaseView, error) {
	p, err := s.ledger.Learner(ctx, learnerID)
	if err != nil {
		return ReportCaseView{}, err
	}
	if err := s.ledger.CheckCapacity(p, ledger.ModalityReport); err != nil {
		return ReportCaseView{}, err
	}

	caseID, exhausted, err := s.nextUnscoredReport(ctx, learnerID, p.ReportCompleted)
	if err != nil {
		return ReportCaseView{}, err
	}
	if caseID == "" {
		return ReportCaseView{}, fmt.Errorf("report corpus is empty: %w", ErrNoCases)
	}

	view := ReportCaseView{
		CaseID:    caseID,
		Index:     p.ReportCompleted,
		Total:     s.corpus.ReportCount(),
		Exhausted: exhausted,
		Mode:      p.ReportMode,
	}
	if requestedID != "" && requestedID != caseID {
		prior, err := s.ledger.LatestScored(ctx, learnerID, requestedID)
		switch {
		case err != nil:
			// the hint is best-effort, but its absence must be diagnosable
			s.log.Warn("already-completed lookup failed",
				zap.String("learner", learnerID),
				zap.String("case", requestedID),
				zap.Error(err))
		case prior != nil:
			view.AlreadyCompleted = true
			view.NextCaseID = caseID
		}
	}
	if rc, ok := s.corpus.ReportCase(caseID); ok {
		view.Images = rc.Images
		view.Age = rc.Age
		view.Indication = rc.Indication
		if p.ReportMode == ledger.ModePassive {
			view.ReferenceFindings = rc.Findings
			view.ReferenceImpressions = rc.Impressions
		}
	}
	return view, nil
}

// nextUnscoredReport walks the ordering from the learner's counter past any
// cases that already carry a scored row. Rows can exist ahead of the counter
// when a grading landed at the practice cap, where the counter pins.
func (s *Service) nextUnscoredReport(ctx context.Context, learnerID string, from int) (string, bool, error) {
	for i := from; ; i++ {
		caseID, exhausted := s.corpus.ReportAt(i)
		if caseID == "" {
			return "", true, nil
		}
		prior, err := s.ledger.LatestScored(ctx, learnerID, caseID)
		if err != nil {
			return "", false, err
		}
		if prior == nil || exhausted {
			return caseID, exhausted, nil
		}
	}
}

// LocalizeOutcome is the scored result of one localization submission.
type LocalizeOutcome struct {
	CaseID     string         `json:"case_id"`
	Correct    int            `json:"correct"`
	Incorrect  int            `json:"incorrect"`
	Boxes      []localize.Box `json:"user_boxes"`
	Completed  int            `json:"localize_cases_completed"`
	Exhausted  bool           `json:"exhausted"`
	Checkpoint int64          `json:"timer_checkpoint_ms"`
}

// SubmitLocalization scores a box submission, records it and advances the
// learner's localization counter by one.
func (s *Service) SubmitLocalization(ctx context.Context, learnerID, caseID string, sub localize.Submission, elapsedMs int64) (LocalizeOutcome, error) {
	if learnerID == "" || caseID == "" {
		return LocalizeOutcome{}, fmt.Errorf("learner and case identifiers are required: %w", ErrValidation)
	}

	lock := s.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.ledger.Learner(ctx, learnerID)
	if err != nil {
		return LocalizeOutcome{}, err
	}
	if p.LocalizeMode == ledger.ModePassive {
		return LocalizeOutcome{}, fmt.Errorf("guided track does not accept graded submissions: %w", ErrMode)
	}

	result := s.scorer.Score(caseID, sub)
	selections, err := json.Marshal(localize.Submission{Boxes: result.Boxes, NonLocalizable: sub.NonLocalizable})
	if err != nil {
		return LocalizeOutcome{}, fmt.Errorf("encode selections: %w", err)
	}

	row, err := s.ledger.RecordLocalize(ctx, learnerID, caseID, string(selections), result.Correct, result.Incorrect, elapsedMs)
	if err != nil {
		return LocalizeOutcome{}, err
	}
	_, exhausted := s.corpus.LocalizeAt(row.ProgressSnapshot)
	s.log.Info("localization scored",
		zap.String("learner", learnerID),
		zap.String("case", caseID),
		zap.Int("correct", result.Correct),
		zap.Int("incorrect", result.Incorrect))
	return LocalizeOutcome{
		CaseID:     caseID,
		Correct:    result.Correct,
		Incorrect:  result.Incorrect,
		Boxes:      result.Boxes,
		Completed:  row.ProgressSnapshot,
		Exhausted:  exhausted,
		Checkpoint: row.CheckpointMs,
	}, nil
}

// ReportOutcome is the graded result of one report submission.
type ReportOutcome struct {
	CaseID     string           `json:"case_id"`
	Grade      report.Grade     `json:"grade"`
	Style      report.StyleData `json:"style"`
	Duplicate  bool             `json:"duplicate"`
	Completed  int              `json:"report_cases_completed"`
	Exhausted  bool             `json:"exhausted"`
	Checkpoint int64            `json:"timer_checkpoint_ms"`
}

// SubmitReport grades a candidate report. A case already scored for this
// learner replays the cached verdict without contacting the grading service.
// Both service calls, grading and style, happen outside the learner lock so
// one slow grading never blocks the learner's unrelated requests.
func (s *Service) SubmitReport(ctx context.Context, learnerID, caseID, findings string, elapsedMs int64) (ReportOutcome, error) {
	if learnerID == "" || caseID == "" {
		return ReportOutcome{}, fmt.Errorf("learner and case identifiers are required: %w", ErrValidation)
	}
	if strings.TrimSpace(findings) == "" {
		return ReportOutcome{}, fmt.Errorf("report text is required: %w", ErrValidation)
	}

	lock := s.learnerLock(learnerID)
	lock.Lock()
	p, err := s.ledger.Learner(ctx, learnerID)
	if err != nil {
		lock.Unlock()
		return ReportOutcome{}, err
	}
	if p.ReportMode == ledger.ModePassive {
		lock.Unlock()
		return ReportOutcome{}, fmt.Errorf("guided track does not accept graded submissions: %w", ErrMode)
	}
	if prior, err := s.ledger.LatestScored(ctx, learnerID, caseID); err != nil {
		lock.Unlock()
		return ReportOutcome{}, err
	} else if prior != nil {
		outcome := s.cachedOutcome(caseID, prior, p.ReportCompleted)
		lock.Unlock()
		return outcome, nil
	}
	lock.Unlock()

	grade, err := s.grader.Grade(ctx, caseID, findings)
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("%w: %v", ErrOracle, err)
	}

	lock.Lock()
	// a concurrent submission may have landed while the oracle ran
	if prior, err := s.ledger.LatestScored(ctx, learnerID, caseID); err != nil {
		lock.Unlock()
		return ReportOutcome{}, err
	} else if prior != nil {
		p, err := s.ledger.Learner(ctx, learnerID)
		if err != nil {
			lock.Unlock()
			return ReportOutcome{}, err
		}
		outcome := s.cachedOutcome(caseID, prior, p.ReportCompleted)
		lock.Unlock()
		return outcome, nil
	}

	row, err := s.ledger.RecordReport(ctx, learnerID, caseID, findings, grade.MarshalPayload(), grade.GreenScore, grade.StdScore, elapsedMs)
	lock.Unlock()
	if err != nil {
		return ReportOutcome{}, err
	}
	_, exhausted := s.corpus.ReportAt(row.ProgressSnapshot)

	style := report.StyleData{}
	if !grade.AutoSkipped {
		style = s.grader.Style(ctx, findings)
	}
	s.log.Info("report graded",
		zap.String("learner", learnerID),
		zap.String("case", caseID),
		zap.Float64("green_score", grade.GreenScore),
		zap.Bool("auto_skipped", grade.AutoSkipped))
	return ReportOutcome{
		CaseID:     caseID,
		Grade:      grade,
		Style:      style,
		Completed:  row.ProgressSnapshot,
		Exhausted:  exhausted,
		Checkpoint: row.CheckpointMs,
	}, nil
}

func (s *Service) cachedOutcome(caseID string, prior *ledger.Submission, completed int) ReportOutcome {
	_, exhausted := s.corpus.ReportAt(completed)
	return ReportOutcome{
		CaseID:     caseID,
		Grade:      report.UnmarshalPayload(prior.GradeJSON),
		Duplicate:  true,
		Completed:  completed,
		Exhausted:  exhausted,
		Checkpoint: prior.CheckpointMs,
	}
}

// AdvanceGuided records a passive walkthrough step. The timer delta is
// derived server-side from the previous guided advance, capped so idle gaps
// do not count as session time.
func (s *Service) AdvanceGuided(ctx context.Context, learnerID string, m ledger.Modality) (ledger.Submission, error) {
	if learnerID == "" {
		return ledger.Submission{}, fmt.Errorf("learner identifier is required: %w", ErrValidation)
	}

	lock := s.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.ledger.Learner(ctx, learnerID)
	if err != nil {
		return ledger.Submission{}, err
	}
	mode := p.LocalizeMode
	if m == ledger.ModalityReport {
		mode = p.ReportMode
	}
	if mode != ledger.ModePassive {
		return ledger.Submission{}, fmt.Errorf("track is not guided: %w", ErrMode)
	}

	caseID, _ := s.corpus.LocalizeAt(p.Completed(m))
	if m == ledger.ModalityReport {
		caseID, _ = s.corpus.ReportAt(p.Completed(m))
	}

	delta := s.guidedDelta(learnerID)
	row, err := s.ledger.RecordGuided(ctx, learnerID, caseID, m, delta)
	if err != nil {
		return ledger.Submission{}, err
	}
	return row, nil
}

func (s *Service) guidedDelta(learnerID string) int64 {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.guidedAt[learnerID]
	s.guidedAt[learnerID] = now
	if !ok {
		return 0
	}
	delta := now.Sub(prev).Milliseconds()
	if delta < 0 {
		return 0
	}
	if delta > maxGuidedDeltaMs {
		return maxGuidedDeltaMs
	}
	return delta
}

// ProgressView augments the durable counters with the corpus-derived
// position for each track.
type ProgressView struct {
	ledger.Progress

	LocalizeTotal     int  `json:"localize_cases_total"`
	LocalizeExhausted bool `json:"localize_exhausted"`
	ReportTotal       int  `json:"report_cases_total"`
	ReportExhausted   bool `json:"report_exhausted"`
}

func (s *Service) Progress(ctx context.Context, learnerID string) (ProgressView, error) {
	p, err := s.ledger.Learner(ctx, learnerID)
	if err != nil {
		return ProgressView{}, err
	}
	_, locExhausted := s.corpus.LocalizeAt(p.LocalizeCompleted)
	_, repExhausted := s.corpus.ReportAt(p.ReportCompleted)
	return ProgressView{
		Progress:          p,
		LocalizeTotal:     s.corpus.LocalizeCount(),
		LocalizeExhausted: locExhausted,
		ReportTotal:       s.corpus.ReportCount(),
		ReportExhausted:   repExhausted,
	}, nil
}

func (s *Service) LocalizeSummary(ctx context.Context, learnerID string) (ledger.LocalizeSummary, error) {
	return s.ledger.LocalizeSummary(ctx, learnerID)
}

func (s *Service) ReportSummary(ctx context.Context, learnerID string) (ledger.ReportSummary, error) {
	return s.ledger.ReportSummary(ctx, learnerID)
}
