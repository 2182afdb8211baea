package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/ident"
	"github.com/ethpandaops/reportoor/pkg/status"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestEmitter_StartRun(t *testing.T) {
	dir := t.TempDir()

	e := NewEmitter(testLogger(), Config{
		OutputDir: dir,
		ProjectID: "chromium",
		Tags:      []string{"nightly"},
		Worker:    events.Worker{WorkerIndex: 1, ParallelIndex: 0},
	})

	require.NoError(t, e.StartRun(context.Background(), 3))
	require.NotEmpty(t, e.RunDir())

	data, err := os.ReadFile(filepath.Join(e.RunDir(), "config.json"))
	require.NoError(t, err)

	var cfg RunConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "chromium", cfg.ProjectID)
	assert.Equal(t, []string{"nightly"}, cfg.Tags)
	assert.Equal(t, 3, cfg.TotalSpecs)
	assert.Equal(t, 1, cfg.Worker.WorkerIndex)

	// instances dir must exist for spec artifacts.
	info, err := os.Stat(filepath.Join(e.RunDir(), "instances"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEmitter_StartRunTwice(t *testing.T) {
	e := NewEmitter(testLogger(), Config{OutputDir: t.TempDir()})

	require.NoError(t, e.StartRun(context.Background(), 1))
	assert.Error(t, e.StartRun(context.Background(), 1))
}

func TestEmitter_Persist(t *testing.T) {
	e := NewEmitter(testLogger(), Config{OutputDir: t.TempDir(), ProjectID: "chromium"})
	require.NoError(t, e.StartRun(context.Background(), 1))

	key := ident.NewSpecKey("chromium", "auth/login.spec.ts")
	rep := &SpecReport{
		GroupID:   "chromium",
		Spec:      "auth/login.spec.ts",
		StartTime: time.Now().UTC(),
		Results: Results{
			Tests: []Test{
				{TestID: "t-2", State: status.Passed},
				{TestID: "t-1", State: status.Failed},
			},
		},
	}
	rep.ComputeStats()

	require.NoError(t, e.Persist(context.Background(), key, rep))
	assert.Equal(t, 1, e.Processed())

	path := filepath.Join(e.RunDir(), "instances", key.Hash()+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got SpecReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "auth/login.spec.ts", got.Spec)
	assert.Equal(t, 2, got.Results.Stats.Tests)
	assert.Equal(t, 1, got.Results.Stats.Passes)
	assert.Equal(t, 1, got.Results.Stats.Failures)

	// Entries come out sorted by testId regardless of insertion order.
	require.Len(t, got.Results.Tests, 2)
	assert.Equal(t, "t-1", got.Results.Tests[0].TestID)
	assert.Equal(t, "t-2", got.Results.Tests[1].TestID)
}

func TestEmitter_PersistRejectsDuplicate(t *testing.T) {
	e := NewEmitter(testLogger(), Config{OutputDir: t.TempDir()})
	require.NoError(t, e.StartRun(context.Background(), 1))

	key := ident.NewSpecKey("chromium", "a.spec.ts")
	rep := &SpecReport{Spec: "a.spec.ts"}

	require.NoError(t, e.Persist(context.Background(), key, rep))
	assert.Error(t, e.Persist(context.Background(), key, rep))
	assert.Equal(t, 1, e.Processed())
}

func TestEmitter_PersistBeforeStart(t *testing.T) {
	e := NewEmitter(testLogger(), Config{OutputDir: t.TempDir()})

	err := e.Persist(context.Background(), ident.NewSpecKey("p", "s"), &SpecReport{})
	assert.Error(t, err)
}

func TestComputeStats(t *testing.T) {
	rep := &SpecReport{
		Results: Results{
			Tests: []Test{
				{TestID: "a", Title: []string{"login", "works"}, State: status.Passed},
				{TestID: "b", Title: []string{"login", "fails gracefully"}, State: status.Failed},
				{TestID: "c", Title: []string{"signup", "works"}, State: status.Passed, IsFlaky: true},
				{TestID: "d", Title: []string{"orphan"}, State: status.Skipped},
				{TestID: "e", Title: []string{"signup", "todo"}, State: status.Pending},
			},
		},
	}

	rep.ComputeStats()

	s := rep.Results.Stats
	assert.Equal(t, 5, s.Tests)
	assert.Equal(t, 2, s.Passes)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Flaky)
	// login, signup, and the root suite for the bare-title test.
	assert.Equal(t, 3, s.Suites)
}
