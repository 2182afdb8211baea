package recorder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/ident"
	"github.com/ethpandaops/reportoor/pkg/report"
	"github.com/ethpandaops/reportoor/pkg/status"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memEmitter captures persisted reports in memory. It mirrors the real
// emitter's contract: reports are sorted on persist and a key can only be
// persisted once.
type memEmitter struct {
	mu       sync.Mutex
	started  bool
	total    int
	reports  map[ident.SpecKey]*report.SpecReport
	persists int
}

func newMemEmitter() *memEmitter {
	return &memEmitter{reports: make(map[ident.SpecKey]*report.SpecReport)}
}

func (m *memEmitter) StartRun(_ context.Context, totalSpecs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("run already started")
	}

	m.started = true
	m.total = totalSpecs

	return nil
}

func (m *memEmitter) Persist(_ context.Context, key ident.SpecKey, rep *report.SpecReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[key]; ok {
		return fmt.Errorf("spec report already persisted: %s", key)
	}

	rep.SortTests()
	m.reports[key] = rep
	m.persists++

	return nil
}

func (m *memEmitter) RunDir() string { return "" }

func (m *memEmitter) Processed() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.persists
}

func (m *memEmitter) report(key ident.SpecKey) *report.SpecReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reports[key]
}

var _ report.Emitter = (*memEmitter)(nil)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func runStart(total int) *events.Envelope {
	return &events.Envelope{Type: events.TypeRunStart, TotalSpecs: total}
}

func fileStart(project, spec string) *events.Envelope {
	return &events.Envelope{Type: events.TypeFileStart, Project: project, Spec: spec}
}

func caseStart(project, spec, testID string, title []string, offset time.Duration) *events.Envelope {
	return &events.Envelope{
		Type:    events.TypeCaseStart,
		Project: project,
		Spec:    spec,
		Case: &events.CaseStart{
			TestID:    testID,
			Title:     title,
			Mode:      events.ModeNormal,
			StartedAt: base.Add(offset),
			Worker:    events.Worker{WorkerIndex: 1},
		},
	}
}

func caseResult(project, spec, testID string, kind events.OutcomeKind, offset time.Duration) *events.Envelope {
	return &events.Envelope{
		Type:    events.TypeCaseResult,
		Project: project,
		Spec:    spec,
		TestID:  testID,
		Outcome: &events.Outcome{
			Status:    kind,
			StartedAt: base.Add(offset),
			Duration:  250 * time.Millisecond,
			Worker:    events.Worker{WorkerIndex: 1},
		},
	}
}

func fileResult(project, spec string, declared ...events.DeclaredCase) *events.Envelope {
	return &events.Envelope{
		Type:    events.TypeFileResult,
		Project: project,
		Spec:    spec,
		File: &events.FileResult{
			Declared:  declared,
			StartedAt: base,
			EndedAt:   base.Add(5 * time.Second),
			Worker:    events.Worker{WorkerIndex: 1},
		},
	}
}

func handleAll(t *testing.T, r Recorder, evs ...*events.Envelope) {
	t.Helper()

	ctx := context.Background()

	for _, ev := range evs {
		require.NoError(t, r.Handle(ctx, ev))
	}
}

func TestRecorder_SimpleRun(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	key := ident.NewSpecKey("chromium", "login.spec.ts")

	handleAll(t, r,
		runStart(1),
		fileStart("chromium", "login.spec.ts"),
		caseStart("chromium", "login.spec.ts", "t-1", []string{"login", "works"}, 0),
		caseResult("chromium", "login.spec.ts", "t-1", events.OutcomePassed, 0),
		fileResult("chromium", "login.spec.ts", events.DeclaredCase{TestID: "t-1", Title: []string{"login", "works"}}),
	)

	require.NoError(t, r.Handle(context.Background(), &events.Envelope{Type: events.TypeRunComplete}))

	rep := em.report(key)
	require.NotNil(t, rep)
	assert.Equal(t, "chromium", rep.GroupID)
	assert.Equal(t, "login.spec.ts", rep.Spec)
	assert.Equal(t, 1, rep.Worker.WorkerIndex)
	assert.Equal(t, base, rep.StartTime)

	s := rep.Results.Stats
	assert.Equal(t, 1, s.Tests)
	assert.Equal(t, 1, s.Passes)
	assert.Equal(t, 0, s.Failures)
	assert.Equal(t, int64(5000), s.WallClockDuration)

	require.Len(t, rep.Results.Tests, 1)
	entry := rep.Results.Tests[0]
	assert.Equal(t, status.Passed, entry.State)
	assert.Equal(t, status.Passed, entry.ExpectedStatus)
	assert.False(t, entry.IsFlaky)
	assert.Equal(t, 2, entry.Retries)
	require.Len(t, entry.Attempts, 1)
	assert.Equal(t, 1, entry.Attempts[0].Attempt)
	assert.Equal(t, int64(250), entry.Attempts[0].Duration)
	assert.Equal(t, 1, r.Finalized())
}

func TestRecorder_RetriedTestReportsFlaky(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	key := ident.NewSpecKey("chromium", "flaky.spec.ts")

	handleAll(t, r,
		runStart(1),
		fileStart("chromium", "flaky.spec.ts"),
		caseStart("chromium", "flaky.spec.ts", "t-1", []string{"eventually works"}, 0),
		caseResult("chromium", "flaky.spec.ts", "t-1", events.OutcomeFailed, 0),
		caseStart("chromium", "flaky.spec.ts", "t-1", []string{"eventually works"}, time.Second),
		caseResult("chromium", "flaky.spec.ts", "t-1", events.OutcomePassed, time.Second),
		fileResult("chromium", "flaky.spec.ts"),
	)

	rep := em.report(key)
	require.NotNil(t, rep)
	require.Len(t, rep.Results.Tests, 1)

	entry := rep.Results.Tests[0]
	assert.Equal(t, status.Passed, entry.State)
	assert.True(t, entry.IsFlaky)
	assert.Equal(t, status.Failed, entry.ExpectedStatus)
	assert.Equal(t, 3, entry.Retries)

	require.Len(t, entry.Attempts, 2)
	assert.Equal(t, 1, entry.Attempts[0].Attempt)
	assert.Equal(t, status.Failed, entry.Attempts[0].Status)
	assert.Equal(t, 2, entry.Attempts[1].Attempt)
	assert.Equal(t, status.Passed, entry.Attempts[1].Status)
	assert.Equal(t, 1, rep.Results.Stats.Flaky)
	assert.Equal(t, 1, rep.Results.Stats.Passes)
}

func TestRecorder_LateRunStartReleasesSpecStreams(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	// Each spec file's events arrive in causal order on their own goroutine,
	// mirroring the per-spec dispatch of the record command. The run start is
	// delivered last: every blocked spec stream must be released by it and
	// every report must still come out complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	specs := []string{"a.spec.ts", "b.spec.ts", "c.spec.ts"}

	var wg sync.WaitGroup

	for _, spec := range specs {
		wg.Add(1)

		go func(spec string) {
			defer wg.Done()

			evs := []*events.Envelope{
				fileStart("chromium", spec),
				caseStart("chromium", spec, "t-1", []string{spec, "works"}, 0),
				caseResult("chromium", spec, "t-1", events.OutcomePassed, 0),
				fileResult("chromium", spec),
			}

			for _, ev := range evs {
				assert.NoError(t, r.Handle(ctx, ev))
			}
		}(spec)
	}

	// Let the spec streams queue up against the run gate first.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Handle(ctx, runStart(len(specs))))

	wg.Wait()

	assert.Equal(t, len(specs), em.Processed())

	for _, spec := range specs {
		rep := em.report(ident.NewSpecKey("chromium", spec))
		require.NotNil(t, rep, spec)
		require.Len(t, rep.Results.Tests, 1, spec)
		assert.Equal(t, status.Passed, rep.Results.Tests[0].State, spec)
		require.Len(t, rep.Results.Tests[0].Attempts, 1, spec)
	}
}

func TestRecorder_MissingFileStartStillFinalizes(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	key := ident.NewSpecKey("chromium", "lost.spec.ts")

	// The file start event was lost. The case start must create the spec
	// record itself so the result handlers never stall, and the file result
	// must still produce a full report.
	handleAll(t, r,
		runStart(1),
		caseStart("chromium", "lost.spec.ts", "t-1", []string{"works"}, 0),
		caseResult("chromium", "lost.spec.ts", "t-1", events.OutcomePassed, 0),
		fileResult("chromium", "lost.spec.ts",
			events.DeclaredCase{TestID: "t-1", Title: []string{"works"}},
		),
	)

	rep := em.report(key)
	require.NotNil(t, rep)
	require.Len(t, rep.Results.Tests, 1)

	entry := rep.Results.Tests[0]
	assert.Equal(t, "t-1", entry.TestID)
	assert.Equal(t, status.Passed, entry.State)
	require.Len(t, entry.Attempts, 1)
	assert.Equal(t, 1, rep.Results.Stats.Passes)
	assert.Equal(t, 1, r.Finalized())
}

func TestRecorder_ResultBeforeStartSynthesizesAttempt(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	key := ident.NewSpecKey("chromium", "orphan.spec.ts")

	// No caseStart at all for t-1: the result alone must yield a complete
	// test entry.
	handleAll(t, r,
		runStart(1),
		fileStart("chromium", "orphan.spec.ts"),
		caseResult("chromium", "orphan.spec.ts", "t-1", events.OutcomeFailed, time.Second),
		fileResult("chromium", "orphan.spec.ts"),
	)

	rep := em.report(key)
	require.NotNil(t, rep)
	require.Len(t, rep.Results.Tests, 1)

	entry := rep.Results.Tests[0]
	assert.Equal(t, "t-1", entry.TestID)
	assert.Equal(t, []string{"t-1"}, entry.Title)
	assert.Equal(t, status.Failed, entry.State)
	require.Len(t, entry.Attempts, 1)
	assert.Equal(t, base.Add(time.Second), entry.Attempts[0].StartTime)
}

func TestRecorder_DeclaredButNeverRunReportsSkipped(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	key := ident.NewSpecKey("chromium", "partial.spec.ts")

	handleAll(t, r,
		runStart(1),
		fileStart("chromium", "partial.spec.ts"),
		caseStart("chromium", "partial.spec.ts", "t-1", []string{"ran"}, 0),
		caseResult("chromium", "partial.spec.ts", "t-1", events.OutcomePassed, 0),
		fileResult("chromium", "partial.spec.ts",
			events.DeclaredCase{TestID: "t-1", Title: []string{"ran"}},
			events.DeclaredCase{TestID: "t-2", Title: []string{"never ran"}, Mode: events.ModeSkip},
		),
	)

	rep := em.report(key)
	require.NotNil(t, rep)
	require.Len(t, rep.Results.Tests, 2)

	skipped := rep.Results.Tests[1]
	assert.Equal(t, "t-2", skipped.TestID)
	assert.Equal(t, status.Skipped, skipped.State)
	assert.Equal(t, status.Skipped, skipped.ExpectedStatus)
	assert.Equal(t, 1, skipped.Retries)
	assert.Empty(t, skipped.Attempts)

	s := rep.Results.Stats
	assert.Equal(t, 2, s.Tests)
	assert.Equal(t, 1, s.Passes)
	assert.Equal(t, 1, s.Skipped)
}

func TestRecorder_FileResultDeliveredTwicePersistsOnce(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	handleAll(t, r,
		runStart(1),
		fileStart("chromium", "dup.spec.ts"),
		caseStart("chromium", "dup.spec.ts", "t-1", []string{"x"}, 0),
		caseResult("chromium", "dup.spec.ts", "t-1", events.OutcomePassed, 0),
	)

	ctx := context.Background()

	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, r.Handle(ctx, fileResult("chromium", "dup.spec.ts")))
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, em.Processed())
	assert.Equal(t, 1, r.Finalized())
}

func TestRecorder_TestsSortedByID(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	key := ident.NewSpecKey("chromium", "many.spec.ts")

	handleAll(t, r,
		runStart(1),
		fileStart("chromium", "many.spec.ts"),
		caseStart("chromium", "many.spec.ts", "t-c", []string{"c"}, 0),
		caseResult("chromium", "many.spec.ts", "t-c", events.OutcomePassed, 0),
		caseStart("chromium", "many.spec.ts", "t-a", []string{"a"}, 0),
		caseResult("chromium", "many.spec.ts", "t-a", events.OutcomePassed, 0),
		caseStart("chromium", "many.spec.ts", "t-b", []string{"b"}, 0),
		caseResult("chromium", "many.spec.ts", "t-b", events.OutcomeFailed, 0),
		fileResult("chromium", "many.spec.ts"),
	)

	rep := em.report(key)
	require.NotNil(t, rep)
	require.Len(t, rep.Results.Tests, 3)
	assert.Equal(t, "t-a", rep.Results.Tests[0].TestID)
	assert.Equal(t, "t-b", rep.Results.Tests[1].TestID)
	assert.Equal(t, "t-c", rep.Results.Tests[2].TestID)
}

func TestRecorder_TwoSpecsIndependent(t *testing.T) {
	em := newMemEmitter()
	r := New(testLogger(), em)

	handleAll(t, r,
		runStart(2),
		fileStart("chromium", "a.spec.ts"),
		fileStart("chromium", "b.spec.ts"),
		caseStart("chromium", "a.spec.ts", "t-1", []string{"a"}, 0),
		caseStart("chromium", "b.spec.ts", "t-1", []string{"b"}, 0),
		caseResult("chromium", "b.spec.ts", "t-1", events.OutcomeFailed, 0),
		caseResult("chromium", "a.spec.ts", "t-1", events.OutcomePassed, 0),
		fileResult("chromium", "a.spec.ts"),
		fileResult("chromium", "b.spec.ts"),
	)

	assert.Equal(t, 2, em.Processed())

	repA := em.report(ident.NewSpecKey("chromium", "a.spec.ts"))
	repB := em.report(ident.NewSpecKey("chromium", "b.spec.ts"))
	require.NotNil(t, repA)
	require.NotNil(t, repB)
	assert.Equal(t, 1, repA.Results.Stats.Passes)
	assert.Equal(t, 1, repB.Results.Stats.Failures)
}

func TestRecorder_MissingProjectRejected(t *testing.T) {
	r := New(testLogger(), newMemEmitter())

	err := r.Handle(context.Background(), &events.Envelope{Type: events.TypeFileStart, Spec: "a.spec.ts"})
	assert.Error(t, err)
}
