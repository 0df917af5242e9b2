package http

import (
	"errors"
	"net/http"

	"github.com/radcoach/radcoach/internal/engine"
)

// writeError maps engine error kinds onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body; internals never leak.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotFound):
		http.Error(w, "learner not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrNoCases):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrCapacity), errors.Is(err, engine.ErrMode):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, engine.ErrOracle):
		http.Error(w, "grading service unavailable, please retry", http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
