package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocalRuns(t *testing.T) Reader {
	t.Helper()

	root := t.TempDir()

	runDir := filepath.Join(root, "runs", "1769791126_8cec1fab")
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "instances"), 0o755))

	require.NoError(t, os.WriteFile(
		filepath.Join(runDir, "config.json"),
		[]byte(`{"projectId":"chromium","totalSpecs":2}`), 0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(runDir, "instances", "aaaa.json"),
		[]byte(`{"spec":"a.spec.ts"}`), 0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(runDir, "instances", "bbbb.json"),
		[]byte(`{"spec":"b.spec.ts"}`), 0o644,
	))

	return NewLocalReader(&config.APILocalStorageConfig{
		Enabled:        true,
		DiscoveryPaths: map[string]string{"ci": root},
	})
}

func TestLocalReader_ListRunIDs(t *testing.T) {
	r := setupLocalRuns(t)

	ids, err := r.ListRunIDs(context.Background(), "ci")
	require.NoError(t, err)
	assert.Equal(t, []string{"1769791126_8cec1fab"}, ids)

	_, err = r.ListRunIDs(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestLocalReader_ListRunIDsMissingDir(t *testing.T) {
	r := NewLocalReader(&config.APILocalStorageConfig{
		DiscoveryPaths: map[string]string{"empty": t.TempDir()},
	})

	ids, err := r.ListRunIDs(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLocalReader_GetRunFile(t *testing.T) {
	r := setupLocalRuns(t)

	data, err := r.GetRunFile(
		context.Background(), "ci", "1769791126_8cec1fab", "config.json",
	)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chromium")

	// Missing file returns nil, nil.
	data, err = r.GetRunFile(
		context.Background(), "ci", "1769791126_8cec1fab", "missing.json",
	)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestLocalReader_ListInstanceFiles(t *testing.T) {
	r := setupLocalRuns(t)

	names, err := r.ListInstanceFiles(
		context.Background(), "ci", "1769791126_8cec1fab",
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aaaa.json", "bbbb.json"}, names)
}

func TestLocalReader_DiscoveryPaths(t *testing.T) {
	r := NewLocalReader(&config.APILocalStorageConfig{
		DiscoveryPaths: map[string]string{
			"beta":  "/b",
			"alpha": "/a",
		},
	})

	assert.Equal(t, []string{"alpha", "beta"}, r.DiscoveryPaths())
}
