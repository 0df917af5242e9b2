package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound: the learner identity does not exist.
	ErrNotFound = errors.New("learner not found")
	// ErrConflict: an optimistic counter update lost the race. Retried
	// internally; callers only see it once retries are exhausted.
	ErrConflict = errors.New("progress counter conflict")
	// ErrCapacity: the learner reached the practice cap for a modality.
	ErrCapacity = errors.New("practice complete")
)

// Store is the durable persistence boundary: learner rows with progress
// counters plus the append-only submission log.
type Store interface {
	CreateLearner(ctx context.Context, p Progress) error
	GetLearner(ctx context.Context, id string) (Progress, error)
	ListLearners(ctx context.Context) ([]Progress, error)
	UpdateModes(ctx context.Context, id, localizeMode, reportMode string) error

	// IncrementCompleted adds one to the modality counter iff its current
	// value equals expected; otherwise ErrConflict.
	IncrementCompleted(ctx context.Context, id string, m Modality, expected int) error

	AppendSubmission(ctx context.Context, s Submission) error
	// LatestScored returns the newest scored submission for (learner, case),
	// or nil when the case has never been graded for that learner.
	LatestScored(ctx context.Context, learnerID, caseID string) (*Submission, error)
	// ListSubmissions returns a learner's rows for one modality, oldest first.
	ListSubmissions(ctx context.Context, learnerID string, m Modality) ([]Submission, error)
	// MaxCheckpoint is the highest checkpoint across all of a learner's
	// submissions, both modalities.
	MaxCheckpoint(ctx context.Context, learnerID string) (int64, error)
}
