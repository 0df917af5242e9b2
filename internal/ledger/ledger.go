// Package ledger records submissions idempotently and maintains the
// monotonic progress counters and session timer checkpoints.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxIncrementRetries bounds the optimistic counter-update loop. Exhaustion
// surfaces as ErrConflict, which is an internal fault, not a caller retry.
const maxIncrementRetries = 5

type Ledger struct {
	store       Store
	localizeCap int
	reportCap   int
}

func New(store Store, localizeCap, reportCap int) *Ledger {
	return &Ledger{store: store, localizeCap: localizeCap, reportCap: reportCap}
}

func (l *Ledger) Store() Store { return l.store }

func (l *Ledger) Cap(m Modality) int {
	if m == ModalityReport {
		return l.reportCap
	}
	return l.localizeCap
}

func (l *Ledger) Learner(ctx context.Context, id string) (Progress, error) {
	return l.store.GetLearner(ctx, id)
}

// CheckCapacity rejects practice submissions once the learner has taken the
// pre-test and reached the modality's practice cap, or already finished the
// post-test.
func (l *Ledger) CheckCapacity(p Progress, m Modality) error {
	tookPre, tookPost := p.TookLocalizePre, p.TookLocalizePost
	if m == ModalityReport {
		tookPre, tookPost = p.TookReportPre, p.TookReportPost
	}
	if tookPost {
		return fmt.Errorf("post-test already completed: %w", ErrCapacity)
	}
	if tookPre && p.Completed(m) >= l.Cap(m) {
		return ErrCapacity
	}
	return nil
}

// Checkpoint computes the next timer checkpoint: the maximum checkpoint ever
// recorded for the learner plus deltaMs (clamped to >= 0). Non-decreasing
// across the whole session, including modality switches.
func (l *Ledger) Checkpoint(ctx context.Context, learnerID string, deltaMs int64) (int64, error) {
	if deltaMs < 0 {
		deltaMs = 0
	}
	prev, err := l.store.MaxCheckpoint(ctx, learnerID)
	if err != nil {
		return 0, err
	}
	return prev + deltaMs, nil
}

// advance applies the optimistic increment, re-reading the counter on each
// lost race, and returns the post-increment snapshot value.
func (l *Ledger) advance(ctx context.Context, learnerID string, m Modality) (int, error) {
	for attempt := 0; attempt < maxIncrementRetries; attempt++ {
		p, err := l.store.GetLearner(ctx, learnerID)
		if err != nil {
			return 0, err
		}
		expected := p.Completed(m)
		err = l.store.IncrementCompleted(ctx, learnerID, m, expected)
		if err == nil {
			return expected + 1, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("advance %s for %s: retries exhausted: %w", m, learnerID, ErrConflict)
}

// RecordLocalize appends one scored localization submission and advances the
// localize counter by exactly one.
func (l *Ledger) RecordLocalize(ctx context.Context, learnerID, caseID, selectionsJSON string, correct, incorrect int, elapsedMs int64) (Submission, error) {
	p, err := l.store.GetLearner(ctx, learnerID)
	if err != nil {
		return Submission{}, err
	}
	if err := l.CheckCapacity(p, ModalityLocalize); err != nil {
		return Submission{}, err
	}
	checkpoint, err := l.Checkpoint(ctx, learnerID, elapsedMs)
	if err != nil {
		return Submission{}, err
	}
	snapshot, err := l.advance(ctx, learnerID, ModalityLocalize)
	if err != nil {
		return Submission{}, err
	}
	sub := Submission{
		ID:               uuid.NewString(),
		LearnerID:        learnerID,
		CaseID:           caseID,
		Modality:         ModalityLocalize,
		CreatedAt:        time.Now().UnixMilli(),
		SelectionsJSON:   selectionsJSON,
		CorrectCount:     correct,
		IncorrectCount:   incorrect,
		ElapsedMs:        clampMs(elapsedMs),
		CheckpointMs:     checkpoint,
		ProgressSnapshot: snapshot,
	}
	if err := l.store.AppendSubmission(ctx, sub); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// RecordReport appends one scored report submission. The counter advances
// only while below the practice cap; the row is appended either way so the
// grading is never lost.
func (l *Ledger) RecordReport(ctx context.Context, learnerID, caseID, findings, gradeJSON string, green, std float64, elapsedMs int64) (Submission, error) {
	p, err := l.store.GetLearner(ctx, learnerID)
	if err != nil {
		return Submission{}, err
	}
	if err := l.CheckCapacity(p, ModalityReport); err != nil {
		return Submission{}, err
	}
	checkpoint, err := l.Checkpoint(ctx, learnerID, elapsedMs)
	if err != nil {
		return Submission{}, err
	}
	snapshot := p.ReportCompleted
	if p.ReportCompleted < l.reportCap {
		if snapshot, err = l.advance(ctx, learnerID, ModalityReport); err != nil {
			return Submission{}, err
		}
	}
	sub := Submission{
		ID:               uuid.NewString(),
		LearnerID:        learnerID,
		CaseID:           caseID,
		Modality:         ModalityReport,
		CreatedAt:        time.Now().UnixMilli(),
		Findings:         findings,
		ElapsedMs:        clampMs(elapsedMs),
		CheckpointMs:     checkpoint,
		GreenScore:       &green,
		GreenStd:         &std,
		GradeJSON:        gradeJSON,
		ProgressSnapshot: snapshot,
	}
	if err := l.store.AppendSubmission(ctx, sub); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// RecordGuided appends an unscored row for passive walkthroughs: it advances
// the counter and the timer but carries no grade.
func (l *Ledger) RecordGuided(ctx context.Context, learnerID, caseID string, m Modality, deltaMs int64) (Submission, error) {
	checkpoint, err := l.Checkpoint(ctx, learnerID, deltaMs)
	if err != nil {
		return Submission{}, err
	}
	snapshot, err := l.advance(ctx, learnerID, m)
	if err != nil {
		return Submission{}, err
	}
	sub := Submission{
		ID:               uuid.NewString(),
		LearnerID:        learnerID,
		CaseID:           caseID,
		Modality:         m,
		CreatedAt:        time.Now().UnixMilli(),
		SelectionsJSON:   "NA",
		ElapsedMs:        clampMs(deltaMs),
		CheckpointMs:     checkpoint,
		ProgressSnapshot: snapshot,
	}
	if err := l.store.AppendSubmission(ctx, sub); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// LatestScored exposes the duplicate-detection lookup.
func (l *Ledger) LatestScored(ctx context.Context, learnerID, caseID string) (*Submission, error) {
	return l.store.LatestScored(ctx, learnerID, caseID)
}

func clampMs(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}

// LocalizeSummary aggregates a learner's localization practice.
type LocalizeSummary struct {
	CasesTotal          int    `json:"cases_total"`
	CorrectConditions   int    `json:"correct_cases"`
	IncorrectConditions int    `json:"incorrect_cases"`
	ImagesTotal         int    `json:"images_total"`
	TotalTimeMs         int64  `json:"total_time_ms"`
	TotalTimeFormatted  string `json:"total_time_formatted"`
	LastCheckpointMs    int64  `json:"last_timer_checkpoint_ms"`
}

func (l *Ledger) LocalizeSummary(ctx context.Context, learnerID string) (LocalizeSummary, error) {
	p, err := l.store.GetLearner(ctx, learnerID)
	if err != nil {
		return LocalizeSummary{}, err
	}
	rows, err := l.store.ListSubmissions(ctx, learnerID, ModalityLocalize)
	if err != nil {
		return LocalizeSummary{}, err
	}
	sum := LocalizeSummary{CasesTotal: len(rows), ImagesTotal: p.LocalizeCompleted}
	for _, r := range rows {
		sum.CorrectConditions += r.CorrectCount
		sum.IncorrectConditions += r.IncorrectCount
		sum.TotalTimeMs += r.ElapsedMs
		if r.CheckpointMs > sum.LastCheckpointMs {
			sum.LastCheckpointMs = r.CheckpointMs
		}
	}
	sum.TotalTimeFormatted = FormatElapsed(sum.TotalTimeMs)
	return sum, nil
}

// ReportSummary aggregates a learner's report practice.
type ReportSummary struct {
	ReportCasesCompleted int      `json:"report_cases_completed"`
	AvgGreenScore        *float64 `json:"avg_green_score"`
	TotalTimeMs          int64    `json:"total_time_ms"`
	TotalTimeFormatted   string   `json:"total_time_formatted"`
	LastCheckpointMs     int64    `json:"last_timer_checkpoint_ms"`
}

func (l *Ledger) ReportSummary(ctx context.Context, learnerID string) (ReportSummary, error) {
	rows, err := l.store.ListSubmissions(ctx, learnerID, ModalityReport)
	if err != nil {
		return ReportSummary{}, err
	}
	sum := ReportSummary{ReportCasesCompleted: len(rows)}
	var greenTotal float64
	var greenCount int
	for _, r := range rows {
		sum.TotalTimeMs += r.ElapsedMs
		if r.CheckpointMs > sum.LastCheckpointMs {
			sum.LastCheckpointMs = r.CheckpointMs
		}
		if r.GreenScore != nil {
			greenTotal += *r.GreenScore
			greenCount++
		}
	}
	if greenCount > 0 {
		avg := greenTotal / float64(greenCount)
		sum.AvgGreenScore = &avg
	}
	sum.TotalTimeFormatted = FormatElapsed(sum.TotalTimeMs)
	return sum, nil
}
