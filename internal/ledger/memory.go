package ledger

import (
	"context"
	"sort"
	"sync"
)

// memoryStore backs tests and offline runs. Same semantics as the SQL store,
// including the optimistic increment.
type memoryStore struct {
	mu          sync.RWMutex
	learners    map[string]Progress
	submissions []Submission
}

func NewInMemoryStore() Store {
	return &memoryStore{learners: map[string]Progress{}}
}

func (m *memoryStore) CreateLearner(_ context.Context, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learners[p.LearnerID] = p
	return nil
}

func (m *memoryStore) GetLearner(_ context.Context, id string) (Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.learners[id]
	if !ok {
		return Progress{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) ListLearners(_ context.Context) ([]Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Progress, 0, len(m.learners))
	for _, p := range m.learners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LearnerID < out[j].LearnerID })
	return out, nil
}

func (m *memoryStore) UpdateModes(_ context.Context, id, localizeMode, reportMode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.learners[id]
	if !ok {
		return ErrNotFound
	}
	if localizeMode != "" {
		p.LocalizeMode = localizeMode
	}
	if reportMode != "" {
		p.ReportMode = reportMode
	}
	m.learners[id] = p
	return nil
}

func (m *memoryStore) IncrementCompleted(_ context.Context, id string, mod Modality, expected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.learners[id]
	if !ok {
		return ErrNotFound
	}
	switch mod {
	case ModalityReport:
		if p.ReportCompleted != expected {
			return ErrConflict
		}
		p.ReportCompleted++
	default:
		if p.LocalizeCompleted != expected {
			return ErrConflict
		}
		p.LocalizeCompleted++
	}
	m.learners[id] = p
	return nil
}

func (m *memoryStore) AppendSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, s)
	return nil
}

func (m *memoryStore) LatestScored(_ context.Context, learnerID, caseID string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.submissions) - 1; i >= 0; i-- {
		s := m.submissions[i]
		if s.LearnerID == learnerID && s.CaseID == caseID && s.Scored() {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ListSubmissions(_ context.Context, learnerID string, mod Modality) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Submission
	for _, s := range m.submissions {
		if s.LearnerID == learnerID && s.Modality == mod {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) MaxCheckpoint(_ context.Context, learnerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for _, s := range m.submissions {
		if s.LearnerID == learnerID && s.CheckpointMs > max {
			max = s.CheckpointMs
		}
	}
	return max, nil
}
