package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/radcoach/radcoach/internal/ledger"
)

// codeAlphabet omits easily-confused characters (0/O, 1/I/L).
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

// NewAccessCode returns a random learner access code.
func NewAccessCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("access code entropy unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// POST /api/auth/login  { "access_code": "..." }
func LearnerLoginHandler(s *Service, store ledger.Store) http.HandlerFunc {
	type out struct {
		AccessToken  string `json:"access_token"`
		LearnerID    string `json:"learner_id"`
		LocalizeMode string `json:"localize_mode"`
		ReportMode   string `json:"report_mode"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AccessCode string `json:"access_code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessCode == "" {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		p, err := store.GetLearner(r.Context(), req.AccessCode)
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, "invalid access code", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if p.Status != "enabled" {
			http.Error(w, "access code disabled", http.StatusForbidden)
			return
		}
		tok, err := s.IssueJWT(p.LearnerID, RoleLearner)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(out{
			AccessToken:  tok,
			LearnerID:    p.LearnerID,
			LocalizeMode: p.LocalizeMode,
			ReportMode:   p.ReportMode,
		})
	}
}

// POST /api/auth/admin  { "username": "...", "password": "..." }
func AdminLoginHandler(s *Service, user, passHash string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if passHash == "" || req.Username != user ||
			bcrypt.CompareHashAndPassword([]byte(passHash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := s.IssueJWT(req.Username, RoleAdmin)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok})
	}
}
