package ledger

import (
	"context"
	"database/sql"
	"errors"
)

// SQLStore persists learners and submissions in sqlite or postgres. Schema
// is ensured by internal/db at open.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) CreateLearner(ctx context.Context, p Progress) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO learners
		(code,status,created_at,localize_mode,report_mode,
		 took_localize_pre,took_localize_post,took_report_pre,took_report_post,
		 localize_completed,report_completed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.LearnerID, p.Status, p.CreatedAt, p.LocalizeMode, p.ReportMode,
		p.TookLocalizePre, p.TookLocalizePost, p.TookReportPre, p.TookReportPost,
		p.LocalizeCompleted, p.ReportCompleted)
	return err
}

const learnerCols = `code,status,created_at,localize_mode,report_mode,
	took_localize_pre,took_localize_post,took_report_pre,took_report_post,
	localize_completed,report_completed`

func scanLearner(row interface{ Scan(...any) error }) (Progress, error) {
	var p Progress
	err := row.Scan(&p.LearnerID, &p.Status, &p.CreatedAt, &p.LocalizeMode, &p.ReportMode,
		&p.TookLocalizePre, &p.TookLocalizePost, &p.TookReportPre, &p.TookReportPost,
		&p.LocalizeCompleted, &p.ReportCompleted)
	return p, err
}

func (s *SQLStore) GetLearner(ctx context.Context, id string) (Progress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+learnerCols+` FROM learners WHERE code=$1`, id)
	p, err := scanLearner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Progress{}, ErrNotFound
	}
	return p, err
}

func (s *SQLStore) ListLearners(ctx context.Context) ([]Progress, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+learnerCols+` FROM learners ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Progress
	for rows.Next() {
		p, err := scanLearner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateModes(ctx context.Context, id, localizeMode, reportMode string) error {
	p, err := s.GetLearner(ctx, id)
	if err != nil {
		return err
	}
	if localizeMode == "" {
		localizeMode = p.LocalizeMode
	}
	if reportMode == "" {
		reportMode = p.ReportMode
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE learners SET localize_mode=$1, report_mode=$2 WHERE code=$3`,
		localizeMode, reportMode, id)
	return err
}

func (s *SQLStore) IncrementCompleted(ctx context.Context, id string, m Modality, expected int) error {
	col := "localize_completed"
	if m == ModalityReport {
		col = "report_completed"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE learners SET `+col+`=`+col+`+1 WHERE code=$1 AND `+col+`=$2`,
		id, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// either a lost race or a missing learner; disambiguate
		if _, err := s.GetLearner(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) AppendSubmission(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO submissions
		(id,learner_id,modality,case_id,created_at,selections_json,findings,
		 correct_count,incorrect_count,elapsed_ms,checkpoint_ms,
		 green_score,green_std,grade_json,progress_snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		sub.ID, sub.LearnerID, string(sub.Modality), sub.CaseID, sub.CreatedAt,
		sub.SelectionsJSON, sub.Findings,
		sub.CorrectCount, sub.IncorrectCount, sub.ElapsedMs, sub.CheckpointMs,
		sub.GreenScore, sub.GreenStd, sub.GradeJSON, sub.ProgressSnapshot)
	return err
}

const submissionCols = `id,learner_id,modality,case_id,created_at,selections_json,findings,
	correct_count,incorrect_count,elapsed_ms,checkpoint_ms,
	green_score,green_std,grade_json,progress_snapshot`

func scanSubmission(row interface{ Scan(...any) error }) (Submission, error) {
	var sub Submission
	var modality string
	err := row.Scan(&sub.ID, &sub.LearnerID, &modality, &sub.CaseID, &sub.CreatedAt,
		&sub.SelectionsJSON, &sub.Findings,
		&sub.CorrectCount, &sub.IncorrectCount, &sub.ElapsedMs, &sub.CheckpointMs,
		&sub.GreenScore, &sub.GreenStd, &sub.GradeJSON, &sub.ProgressSnapshot)
	sub.Modality = Modality(modality)
	return sub, err
}

func (s *SQLStore) LatestScored(ctx context.Context, learnerID, caseID string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions
		WHERE learner_id=$1 AND case_id=$2 AND green_score IS NOT NULL
		ORDER BY created_at DESC LIMIT 1`, learnerID, caseID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SQLStore) ListSubmissions(ctx context.Context, learnerID string, m Modality) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+submissionCols+` FROM submissions
		WHERE learner_id=$1 AND modality=$2 ORDER BY created_at ASC`, learnerID, string(m))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) MaxCheckpoint(ctx context.Context, learnerID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(checkpoint_ms) FROM submissions WHERE learner_id=$1`, learnerID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}
