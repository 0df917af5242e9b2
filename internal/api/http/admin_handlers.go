package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/radcoach/radcoach/internal/auth"
	"github.com/radcoach/radcoach/internal/ledger"
	"github.com/radcoach/radcoach/internal/localize"
)

// POST /api/admin/codes  { "count": 10, "localize_mode": "active", "report_mode": "passive" }
func GenerateCodesHandler(store ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Count        int    `json:"count"`
			LocalizeMode string `json:"localize_mode"`
			ReportMode   string `json:"report_mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Count <= 0 || req.Count > 500 {
			http.Error(w, "count must be between 1 and 500", http.StatusBadRequest)
			return
		}
		if !validMode(req.LocalizeMode) || !validMode(req.ReportMode) {
			http.Error(w, "mode must be active or passive", http.StatusBadRequest)
			return
		}

		codes := make([]string, 0, req.Count)
		for len(codes) < req.Count {
			p := ledger.Progress{
				LearnerID:    auth.NewAccessCode(),
				Status:       "enabled",
				CreatedAt:    time.Now().UnixMilli(),
				LocalizeMode: req.LocalizeMode,
				ReportMode:   req.ReportMode,
			}
			if err := store.CreateLearner(r.Context(), p); err != nil {
				// a duplicate code insert fails on the primary key; draw again
				if _, lookupErr := store.GetLearner(r.Context(), p.LearnerID); lookupErr == nil {
					continue
				}
				http.Error(w, "create failed", http.StatusInternalServerError)
				return
			}
			codes = append(codes, p.LearnerID)
		}
		_ = json.NewEncoder(w).Encode(map[string][]string{"codes": codes})
	}
}

func validMode(m string) bool {
	return m == ledger.ModeActive || m == ledger.ModePassive
}

// GET /api/admin/codes
func ListCodesHandler(store ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learners, err := store.ListLearners(r.Context())
		if err != nil {
			http.Error(w, "list failed", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"learners": learners})
	}
}

// PATCH /api/admin/codes/{code}/modes  { "localize_mode": "...", "report_mode": "..." }
func UpdateModesHandler(store ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		var req struct {
			LocalizeMode string `json:"localize_mode"`
			ReportMode   string `json:"report_mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if (req.LocalizeMode != "" && !validMode(req.LocalizeMode)) ||
			(req.ReportMode != "" && !validMode(req.ReportMode)) {
			http.Error(w, "mode must be active or passive", http.StatusBadRequest)
			return
		}
		if err := store.UpdateModes(r.Context(), code, req.LocalizeMode, req.ReportMode); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				http.Error(w, "code not found", http.StatusNotFound)
				return
			}
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
		p, err := store.GetLearner(r.Context(), code)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	}
}

// exportRow is one submission flattened for analytics, boxes decoded back
// into structured form.
type exportRow struct {
	CaseID           string         `json:"case_id"`
	Modality         string         `json:"modality"`
	CreatedAt        int64          `json:"created_at"`
	CorrectCount     int            `json:"correct_count"`
	IncorrectCount   int            `json:"incorrect_count"`
	Boxes            []localize.Box `json:"user_boxes,omitempty"`
	Findings         string         `json:"findings,omitempty"`
	GreenScore       *float64       `json:"green_score,omitempty"`
	GradeJSON        string         `json:"grade_json,omitempty"`
	ElapsedMs        int64          `json:"elapsed_ms"`
	ElapsedFormatted string         `json:"elapsed_formatted"`
	CheckpointMs     int64          `json:"checkpoint_ms"`
	ProgressSnapshot int            `json:"progress_snapshot"`
}

func toExportRow(s ledger.Submission) exportRow {
	row := exportRow{
		CaseID:           s.CaseID,
		Modality:         string(s.Modality),
		CreatedAt:        s.CreatedAt,
		CorrectCount:     s.CorrectCount,
		IncorrectCount:   s.IncorrectCount,
		Findings:         s.Findings,
		GreenScore:       s.GreenScore,
		GradeJSON:        s.GradeJSON,
		ElapsedMs:        s.ElapsedMs,
		ElapsedFormatted: ledger.FormatElapsed(s.ElapsedMs),
		CheckpointMs:     s.CheckpointMs,
		ProgressSnapshot: s.ProgressSnapshot,
	}
	if s.SelectionsJSON != "" && s.SelectionsJSON != "NA" {
		var sub localize.Submission
		if json.Unmarshal([]byte(s.SelectionsJSON), &sub) == nil {
			row.Boxes = sub.Boxes
		}
	}
	return row
}

// GET /api/admin/export/{code}
func ExportLearnerHandler(store ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		p, err := store.GetLearner(r.Context(), code)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				http.Error(w, "code not found", http.StatusNotFound)
				return
			}
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}

		rows := make([]exportRow, 0)
		for _, m := range []ledger.Modality{ledger.ModalityLocalize, ledger.ModalityReport} {
			subs, err := store.ListSubmissions(r.Context(), code, m)
			if err != nil {
				http.Error(w, "list failed", http.StatusInternalServerError)
				return
			}
			for _, s := range subs {
				rows = append(rows, toExportRow(s))
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"learner":     p,
			"submissions": rows,
		})
	}
}
