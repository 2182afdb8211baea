package indexstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reportoor/pkg/api/indexstore"
	"github.com/ethpandaops/reportoor/pkg/config"
)

func setupTestStore(t *testing.T) indexstore.Store {
	t.Helper()

	cfg := &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := indexstore.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_UpsertAndListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().Unix()

	runA := &indexstore.Run{
		DiscoveryPath: "path/alpha",
		RunID:         "run-1",
		Timestamp:     now,
		ProjectID:     "chromium",
		TotalSpecs:    3,
		SpecsIndexed:  3,
		Complete:      true,
	}
	runB := &indexstore.Run{
		DiscoveryPath: "path/beta",
		RunID:         "run-2",
		Timestamp:     now + 1,
		ProjectID:     "firefox",
	}

	require.NoError(t, s.UpsertRun(ctx, runA))
	require.NoError(t, s.UpsertRun(ctx, runB))

	// ListRuns filters by discovery path.
	alphaRuns, err := s.ListRuns(ctx, "path/alpha")
	require.NoError(t, err)
	require.Len(t, alphaRuns, 1)
	assert.Equal(t, "run-1", alphaRuns[0].RunID)
	assert.Equal(t, "chromium", alphaRuns[0].ProjectID)

	betaRuns, err := s.ListRuns(ctx, "path/beta")
	require.NoError(t, err)
	require.Len(t, betaRuns, 1)
	assert.Equal(t, "run-2", betaRuns[0].RunID)

	// ListAllRuns returns both.
	allRuns, err := s.ListAllRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, allRuns, 2)
}

func TestStore_UpsertRunUpdatesInPlace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := &indexstore.Run{
		DiscoveryPath: "dp/test",
		RunID:         "run-upd",
		TotalSpecs:    10,
		SpecsIndexed:  4,
		Complete:      false,
	}

	require.NoError(t, s.UpsertRun(ctx, run))

	// Re-indexing the same run must update the existing row, not create
	// a duplicate.
	updated := &indexstore.Run{
		DiscoveryPath: "dp/test",
		RunID:         "run-upd",
		TotalSpecs:    10,
		SpecsIndexed:  10,
		Complete:      true,
	}
	require.NoError(t, s.UpsertRun(ctx, updated))

	runs, err := s.ListRuns(ctx, "dp/test")
	require.NoError(t, err)
	require.Len(t, runs, 1, "upsert must not duplicate the row")
	assert.Equal(t, 10, runs[0].SpecsIndexed)
	assert.True(t, runs[0].Complete)
}

func TestStore_ListRunIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runs := []indexstore.Run{
		{DiscoveryPath: "dp/ids", RunID: "aaa"},
		{DiscoveryPath: "dp/ids", RunID: "bbb"},
		{DiscoveryPath: "dp/other", RunID: "ccc"},
	}
	for i := range runs {
		require.NoError(t, s.UpsertRun(ctx, &runs[i]))
	}

	ids, err := s.ListRunIDs(ctx, "dp/ids")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aaa", "bbb"}, ids)

	// Ensure the other discovery path is not included.
	otherIDs, err := s.ListRunIDs(ctx, "dp/other")
	require.NoError(t, err)
	assert.Equal(t, []string{"ccc"}, otherIDs)
}

func TestStore_ListIncompleteRunIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	dp := "dp/incomplete"

	runs := []indexstore.Run{
		{DiscoveryPath: dp, RunID: "r-partial", TotalSpecs: 5, SpecsIndexed: 2},
		{DiscoveryPath: dp, RunID: "r-done", TotalSpecs: 5, SpecsIndexed: 5, Complete: true},
		{DiscoveryPath: dp, RunID: "r-empty", TotalSpecs: 3},
	}
	for i := range runs {
		require.NoError(t, s.UpsertRun(ctx, &runs[i]))
	}

	ids, err := s.ListIncompleteRunIDs(ctx, dp)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r-partial", "r-empty"}, ids)
}

func TestStore_SpecResultCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	dp := "dp/specs"
	run1 := "run-sr-1"
	run2 := "run-sr-2"

	results := []*indexstore.SpecResult{
		{
			DiscoveryPath: dp, RunID: run1, SpecHash: "aaa",
			GroupID: "chromium", Spec: "login.spec.ts",
			Tests: 3, Passes: 3,
		},
		{
			DiscoveryPath: dp, RunID: run1, SpecHash: "bbb",
			GroupID: "chromium", Spec: "signup.spec.ts",
			Tests: 2, Failures: 1, Passes: 1,
		},
		{
			DiscoveryPath: dp, RunID: run2, SpecHash: "aaa",
			GroupID: "chromium", Spec: "login.spec.ts",
			Tests: 3, Passes: 2, Flaky: 1,
		},
	}

	require.NoError(t, s.BulkUpsertSpecResults(ctx, results))

	// ListSpecResults scopes to one run, ordered by spec path.
	listed, err := s.ListSpecResults(ctx, dp, run1)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "login.spec.ts", listed[0].Spec)
	assert.Equal(t, "signup.spec.ts", listed[1].Spec)

	// History spans runs for one spec file.
	history, err := s.ListSpecHistory(ctx, "chromium", "login.spec.ts")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// Delete one run's results; the other run is untouched.
	require.NoError(t, s.DeleteSpecResultsForRun(ctx, dp, run1))

	remaining, err := s.ListSpecResults(ctx, dp, run1)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	history, err = s.ListSpecHistory(ctx, "chromium", "login.spec.ts")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, run2, history[0].RunID)
}
