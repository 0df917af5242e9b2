package http

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/radcoach/radcoach/internal/auth"
	"github.com/radcoach/radcoach/internal/engine"
	"github.com/radcoach/radcoach/internal/ledger"
	"github.com/radcoach/radcoach/internal/localize"
	"github.com/radcoach/radcoach/internal/storage"
)

// GET /api/cases/localize/next
func NextLocalizeCaseHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.NextLocalizeCase(r.Context(), auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(view)
	}
}

// GET /api/cases/report/next?case_id=...
func NextReportCaseHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.NextReportCase(r.Context(),
			auth.SubjectFromContext(r.Context()), r.URL.Query().Get("case_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(view)
	}
}

// localizeSubmitRequest accepts both the current flat payload and the older
// client shape that nested boxes under metadata.bounding_boxes. The old
// shape is normalized here, once, at the boundary.
type localizeSubmitRequest struct {
	CaseID         string          `json:"case_id"`
	ElapsedMs      int64           `json:"elapsed_ms"`
	Boxes          []localize.Box  `json:"user_boxes"`
	NonLocalizable map[string]bool `json:"nonlocalizable"`

	Metadata *struct {
		BoundingBoxes *struct {
			UserSubmission []localize.Box `json:"user_submission"`
		} `json:"bounding_boxes"`
	} `json:"metadata"`
}

func (req *localizeSubmitRequest) submission() localize.Submission {
	boxes := req.Boxes
	if len(boxes) == 0 && req.Metadata != nil && req.Metadata.BoundingBoxes != nil {
		boxes = req.Metadata.BoundingBoxes.UserSubmission
	}
	return localize.Submission{Boxes: boxes, NonLocalizable: req.NonLocalizable}
}

// POST /api/submit/localize
func SubmitLocalizationHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req localizeSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		out, err := svc.SubmitLocalization(r.Context(),
			auth.SubjectFromContext(r.Context()), req.CaseID, req.submission(), req.ElapsedMs)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

// POST /api/submit/report
func SubmitReportHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CaseID    string `json:"case_id"`
			Findings  string `json:"findings"`
			ElapsedMs int64  `json:"elapsed_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		out, err := svc.SubmitReport(r.Context(),
			auth.SubjectFromContext(r.Context()), req.CaseID, req.Findings, req.ElapsedMs)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

// POST /api/guided/{modality}/advance
func AdvanceGuidedHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m ledger.Modality
		switch chi.URLParam(r, "modality") {
		case "localize":
			m = ledger.ModalityLocalize
		case "report":
			m = ledger.ModalityReport
		default:
			http.Error(w, "unknown modality", http.StatusBadRequest)
			return
		}
		row, err := svc.AdvanceGuided(r.Context(), auth.SubjectFromContext(r.Context()), m)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(row)
	}
}

// GET /api/progress
func ProgressHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Progress(r.Context(), auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	}
}

// GET /api/summary/{modality}
func SummaryHandler(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID := auth.SubjectFromContext(r.Context())
		switch chi.URLParam(r, "modality") {
		case "localize":
			sum, err := svc.LocalizeSummary(r.Context(), learnerID)
			if err != nil {
				writeError(w, err)
				return
			}
			_ = json.NewEncoder(w).Encode(sum)
		case "report":
			sum, err := svc.ReportSummary(r.Context(), learnerID)
			if err != nil {
				writeError(w, err)
				return
			}
			_ = json.NewEncoder(w).Encode(sum)
		default:
			http.Error(w, "unknown modality", http.StatusBadRequest)
		}
	}
}

// GET /api/images/{name}
func ImageHandler(images storage.ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		f, err := images.Open(name)
		if err != nil {
			http.Error(w, "image not found", http.StatusNotFound)
			return
		}
		defer f.Close()
		if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		_, _ = io.Copy(w, f)
	}
}
