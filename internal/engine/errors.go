package engine

import (
	"errors"

	"github.com/radcoach/radcoach/internal/ledger"
)

var (
	// ErrValidation: the request is malformed (blank identifier, empty
	// report text). Maps to a 400 at the HTTP surface.
	ErrValidation = errors.New("invalid request")

	// ErrOracle: the grading service failed or returned an unusable
	// response. No scored row was written; the caller may retry.
	ErrOracle = errors.New("grading service unavailable")

	// ErrMode: the learner's assigned mode does not allow the operation,
	// e.g. a graded submission on a passive (guided) track.
	ErrMode = errors.New("not permitted in assigned mode")

	// ErrNoCases: the corpus has no cases for the requested modality. A
	// deployment problem, not a learner one.
	ErrNoCases = errors.New("no cases available")

	// Re-exported storage sentinels so callers match on one package.
	ErrNotFound = ledger.ErrNotFound
	ErrCapacity = ledger.ErrCapacity
	ErrConflict = ledger.ErrConflict
)
