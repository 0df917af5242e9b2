package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/radcoach/radcoach/internal/corpus"
	"github.com/radcoach/radcoach/internal/geometry"
	"github.com/radcoach/radcoach/internal/ledger"
	"github.com/radcoach/radcoach/internal/localize"
	"github.com/radcoach/radcoach/internal/oracle"
	"github.com/radcoach/radcoach/internal/report"
)

type stubOracle struct {
	gradeCalls int32
	grade      oracle.GradeResponse
	gradeErr   error
	style      oracle.StyleResponse
	styleErr   error

	// optional style rendezvous: entered is closed on call, release gates
	// the return
	styleEntered chan struct{}
	styleRelease chan struct{}
}

func (f *stubOracle) Grade(_ context.Context, _ oracle.GradeRequest) (oracle.GradeResponse, error) {
	atomic.AddInt32(&f.gradeCalls, 1)
	if f.gradeErr != nil {
		return oracle.GradeResponse{}, f.gradeErr
	}
	return f.grade, nil
}

func (f *stubOracle) Style(_ context.Context, _ string) (oracle.StyleResponse, error) {
	if f.styleEntered != nil {
		close(f.styleEntered)
	}
	if f.styleRelease != nil {
		<-f.styleRelease
	}
	if f.styleErr != nil {
		return oracle.StyleResponse{}, f.styleErr
	}
	return f.style, nil
}

func testCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	lc := []*corpus.LocalizeCase{
		{ID: "l1", Boxes: map[string][]geometry.Box{
			"Consolidation": {{0.1, 0.1, 0.3, 0.3}},
			"Pneumothorax":  {},
		}, Explanations: map[string][]string{
			"Consolidation": {"dense opacity in the right lower zone"},
		}},
		{ID: "l2", Boxes: map[string][]geometry.Box{
			"Nodule/Mass": {{0.4, 0.4, 0.6, 0.6}},
		}},
	}
	rc := []*corpus.ReportCase{
		{ID: "r1", Findings: "Clear lungs.", Impressions: "Normal study.", Age: 54, Images: []string{"r1.png"}},
		{ID: "r2", Findings: "Right basal consolidation.", Indication: "Cough and fever."},
		{ID: "r3", Findings: "Stable cardiomegaly."},
	}
	return corpus.New(corpus.DefaultTaxonomy(), lc, rc)
}

func newTestService(t *testing.T, f *stubOracle, localizeCap, reportCap int) (*Service, ledger.Store) {
	t.Helper()
	c := testCorpus(t)
	store := ledger.NewInMemoryStore()
	led := ledger.New(store, localizeCap, reportCap)
	grader := report.NewGrader(c, f, nil)
	return New(c, grader, led, nil), store
}

func addLearner(t *testing.T, store ledger.Store, id, localizeMode, reportMode string) {
	t.Helper()
	require.NoError(t, store.CreateLearner(context.Background(), ledger.Progress{
		LearnerID:    id,
		Status:       "enabled",
		LocalizeMode: localizeMode,
		ReportMode:   reportMode,
	}))
}

func TestNextLocalizeCaseFollowsCounter(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	view, err := s.NextLocalizeCase(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "l1", view.CaseID)
	assert.Equal(t, 0, view.Index)
	assert.Equal(t, 2, view.Total)
	assert.False(t, view.Exhausted)
	assert.Nil(t, view.GroundTruth)
	assert.Contains(t, view.NonLocalizable, "Pneumothorax")

	_, err = s.SubmitLocalization(ctx, "AAAAAA", "l1", localize.Submission{}, 1000)
	require.NoError(t, err)

	view, err = s.NextLocalizeCase(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "l2", view.CaseID)
}

func TestNextLocalizeCaseExhaustedRepeatsLast(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	for _, id := range []string{"l1", "l2"} {
		_, err := s.SubmitLocalization(ctx, "AAAAAA", id, localize.Submission{}, 500)
		require.NoError(t, err)
	}

	view, err := s.NextLocalizeCase(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "l2", view.CaseID)
	assert.True(t, view.Exhausted)
}

func TestGuidedViewCarriesGroundTruth(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 10)
	addLearner(t, store, "PASSIV", ledger.ModePassive, ledger.ModeActive)

	view, err := s.NextLocalizeCase(context.Background(), "PASSIV")
	require.NoError(t, err)
	require.NotEmpty(t, view.GroundTruth)

	labels := map[string]GuidedFinding{}
	for _, f := range view.GroundTruth {
		labels[f.Label] = f
	}
	require.Contains(t, labels, "Consolidation")
	assert.Len(t, labels["Consolidation"].Boxes, 1)
	assert.Equal(t, []string{"dense opacity in the right lower zone"}, labels["Consolidation"].Explanations)
	assert.Contains(t, labels, "Pneumothorax")
}

func TestSubmitLocalizationScoresAndAdvances(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	sub := localize.Submission{
		Boxes:          []localize.Box{{Label: "Consolidation", Coordinates: []float64{0.1, 0.1, 0.3, 0.3}}},
		NonLocalizable: map[string]bool{"Pneumothorax": true},
	}
	out, err := s.SubmitLocalization(ctx, "AAAAAA", "l1", sub, 2000)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Completed)
	assert.Equal(t, int64(2000), out.Checkpoint)
	assert.False(t, out.Exhausted)
	require.Len(t, out.Boxes, 1)
	assert.InDelta(t, 1.0, out.Boxes[0].IoU, 1e-9)

	p, err := store.GetLearner(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, p.LocalizeCompleted)
}

func TestSubmitLocalizationRejectedOnGuidedTrack(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 10)
	addLearner(t, store, "PASSIV", ledger.ModePassive, ledger.ModeActive)

	_, err := s.SubmitLocalization(context.Background(), "PASSIV", "l1", localize.Submission{}, 100)
	assert.ErrorIs(t, err, ErrMode)
}

func TestSubmitReportGradesAndAdvances(t *testing.T) {
	f := &stubOracle{
		grade: oracle.GradeResponse{
			MatchedFindings: []string{"a", "b", "c"},
			Errors:          oracle.ErrorBuckets{FalseFindings: []string{"pneumothorax"}},
		},
		style: oracle.StyleResponse{SystematicEvaluationScore: 1, OrganizationLanguageScore: 0.5},
	}
	s, store := newTestService(t, f, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	out, err := s.SubmitReport(ctx, "AAAAAA", "r1", "Lungs are clear.", 3000)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.InDelta(t, 0.75, out.Grade.GreenScore, 1e-9)
	assert.InDelta(t, 0.25, out.Grade.StdScore, 1e-9)
	assert.InDelta(t, 75.0, out.Style.StyleScore, 1e-9)
	assert.Equal(t, 1, out.Completed)
	assert.Equal(t, int64(3000), out.Checkpoint)

	p, err := store.GetLearner(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ReportCompleted)
}

func TestSubmitReportDuplicateReplaysCachedGrade(t *testing.T) {
	f := &stubOracle{grade: oracle.GradeResponse{MatchedFindings: []string{"a"}}}
	s, store := newTestService(t, f, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	first, err := s.SubmitReport(ctx, "AAAAAA", "r1", "Lungs are clear.", 1000)
	require.NoError(t, err)

	second, err := s.SubmitReport(ctx, "AAAAAA", "r1", "Completely different text.", 9000)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Grade.GreenScore, second.Grade.GreenScore)
	assert.Equal(t, first.Grade.Explanation, second.Grade.Explanation)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.gradeCalls))

	p, err := store.GetLearner(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ReportCompleted)
}

func TestSubmitReportUnknownCaseAutoSkips(t *testing.T) {
	f := &stubOracle{}
	s, store := newTestService(t, f, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)

	out, err := s.SubmitReport(context.Background(), "AAAAAA", "no-such-case", "text", 500)
	require.NoError(t, err)
	assert.True(t, out.Grade.AutoSkipped)
	assert.Equal(t, 1.0, out.Grade.GreenScore)
	assert.Equal(t, 1, out.Completed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.gradeCalls))
}

func TestSubmitReportOracleFailureLeavesNoScoredRow(t *testing.T) {
	f := &stubOracle{gradeErr: errors.New("upstream 500")}
	s, store := newTestService(t, f, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	_, err := s.SubmitReport(ctx, "AAAAAA", "r1", "Lungs are clear.", 1000)
	assert.ErrorIs(t, err, ErrOracle)

	p, err := store.GetLearner(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 0, p.ReportCompleted)

	// retry succeeds once the service recovers
	f.gradeErr = nil
	f.grade = oracle.GradeResponse{MatchedFindings: []string{"a"}}
	out, err := s.SubmitReport(ctx, "AAAAAA", "r1", "Lungs are clear.", 1000)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, 1, out.Completed)
}

func TestNextReportCaseCapacity(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 1)
	ctx := context.Background()
	require.NoError(t, store.CreateLearner(ctx, ledger.Progress{
		LearnerID:       "FULLUP",
		Status:          "enabled",
		LocalizeMode:    ledger.ModeActive,
		ReportMode:      ledger.ModeActive,
		TookReportPre:   true,
		ReportCompleted: 1,
	}))

	_, err := s.NextReportCase(ctx, "FULLUP", "")
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestNextReportCaseAlreadyCompletedHint(t *testing.T) {
	f := &stubOracle{grade: oracle.GradeResponse{MatchedFindings: []string{"a"}}}
	s, store := newTestService(t, f, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	_, err := s.SubmitReport(ctx, "AAAAAA", "r1", "Lungs are clear.", 1000)
	require.NoError(t, err)

	view, err := s.NextReportCase(ctx, "AAAAAA", "r1")
	require.NoError(t, err)
	assert.True(t, view.AlreadyCompleted)
	assert.Equal(t, "r2", view.NextCaseID)
	assert.Equal(t, "r2", view.CaseID)
	assert.Equal(t, "Cough and fever.", view.Indication)
}

func TestAdvanceGuided(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 10)
	addLearner(t, store, "PASSIV", ledger.ModePassive, ledger.ModeActive)
	ctx := context.Background()

	row, err := s.AdvanceGuided(ctx, "PASSIV", ledger.ModalityLocalize)
	require.NoError(t, err)
	assert.Equal(t, "l1", row.CaseID)
	assert.Equal(t, 1, row.ProgressSnapshot)
	assert.False(t, row.Scored())

	_, err = s.AdvanceGuided(ctx, "PASSIV", ledger.ModalityReport)
	assert.ErrorIs(t, err, ErrMode)
}

func TestSubmitLocalizationNotBlockedByStyleCall(t *testing.T) {
	f := &stubOracle{
		grade:        oracle.GradeResponse{MatchedFindings: []string{"a"}},
		styleEntered: make(chan struct{}),
		styleRelease: make(chan struct{}),
	}
	s, store := newTestService(t, f, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	reportDone := make(chan error, 1)
	go func() {
		_, err := s.SubmitReport(ctx, "AAAAAA", "r1", "Lungs are clear.", 1000)
		reportDone <- err
	}()
	<-f.styleEntered

	// the style call is in flight; the learner lock must already be free
	locDone := make(chan error, 1)
	go func() {
		_, err := s.SubmitLocalization(ctx, "AAAAAA", "l1", localize.Submission{}, 100)
		locDone <- err
	}()
	select {
	case err := <-locDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(f.styleRelease)
		t.Fatal("localization submission blocked behind the style call")
	}

	close(f.styleRelease)
	require.NoError(t, <-reportDone)
}

func TestEmptyCorpusNextCase(t *testing.T) {
	c := corpus.New(corpus.DefaultTaxonomy(), nil, nil)
	store := ledger.NewInMemoryStore()
	s := New(c, report.NewGrader(c, &stubOracle{}, nil), ledger.New(store, 10, 10), nil)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	_, err := s.NextLocalizeCase(ctx, "AAAAAA")
	assert.ErrorIs(t, err, ErrNoCases)

	_, err = s.NextReportCase(ctx, "AAAAAA", "")
	assert.ErrorIs(t, err, ErrNoCases)
}

// flakyStore fails the scored-row lookup for one case id.
type flakyStore struct {
	ledger.Store
	failCase string
}

func (f *flakyStore) LatestScored(ctx context.Context, learnerID, caseID string) (*ledger.Submission, error) {
	if caseID == f.failCase {
		return nil, errors.New("store unavailable")
	}
	return f.Store.LatestScored(ctx, learnerID, caseID)
}

func TestAlreadyCompletedLookupFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := testCorpus(t)
	store := &flakyStore{Store: ledger.NewInMemoryStore(), failCase: "r9"}
	s := New(c, report.NewGrader(c, &stubOracle{}, nil), ledger.New(store, 10, 10), zap.New(core))
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)

	view, err := s.NextReportCase(context.Background(), "AAAAAA", "r9")
	require.NoError(t, err)
	assert.Equal(t, "r1", view.CaseID)
	assert.False(t, view.AlreadyCompleted)

	entries := logs.FilterMessage("already-completed lookup failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r9", entries[0].ContextMap()["case"])
}

func TestSubmitValidation(t *testing.T) {
	s, store := newTestService(t, &stubOracle{}, 10, 10)
	addLearner(t, store, "AAAAAA", ledger.ModeActive, ledger.ModeActive)
	ctx := context.Background()

	_, err := s.SubmitReport(ctx, "AAAAAA", "r1", "   ", 100)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.SubmitLocalization(ctx, "AAAAAA", "", localize.Submission{}, 100)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.SubmitLocalization(ctx, "GHOST1", "l1", localize.Submission{}, 100)
	assert.ErrorIs(t, err, ErrNotFound)
}
