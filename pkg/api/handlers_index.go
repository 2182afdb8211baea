package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/ethpandaops/reportoor/pkg/api/indexstore"
	"github.com/go-chi/chi/v5"
)

// indexEntry is the JSON shape of one run in the index listing.
type indexEntry struct {
	DiscoveryPath string   `json:"discovery_path"`
	RunID         string   `json:"run_id"`
	Timestamp     int64    `json:"timestamp"`
	ProjectID     string   `json:"project_id"`
	Tags          []string `json:"tags,omitempty"`
	WorkerIndex   int      `json:"worker_index"`
	ParallelIndex int      `json:"parallel_index"`
	TotalSpecs    int      `json:"total_specs"`
	SpecsIndexed  int      `json:"specs_indexed"`
	Complete      bool     `json:"complete"`
	Tests         int      `json:"tests"`
	Passes        int      `json:"passes"`
	Failures      int      `json:"failures"`
	Pending       int      `json:"pending"`
	Skipped       int      `json:"skipped"`
	Flaky         int      `json:"flaky"`
}

func toIndexEntry(run *indexstore.Run) indexEntry {
	entry := indexEntry{
		DiscoveryPath: run.DiscoveryPath,
		RunID:         run.RunID,
		Timestamp:     run.Timestamp,
		ProjectID:     run.ProjectID,
		WorkerIndex:   run.WorkerIndex,
		ParallelIndex: run.ParallelIndex,
		TotalSpecs:    run.TotalSpecs,
		SpecsIndexed:  run.SpecsIndexed,
		Complete:      run.Complete,
		Tests:         run.Tests,
		Passes:        run.Passes,
		Failures:      run.Failures,
		Pending:       run.Pending,
		Skipped:       run.Skipped,
		Flaky:         run.Flaky,
	}

	if run.TagsJSON != "" {
		var tags []string
		if json.Unmarshal([]byte(run.TagsJSON), &tags) == nil {
			entry.Tags = tags
		}
	}

	return entry
}

// handleIndex returns the aggregated index of report runs across all
// discovery paths, newest first. An optional discovery_path query
// parameter narrows the listing to one path.
func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var (
		runs []indexstore.Run
		err  error
	)

	if dp := r.URL.Query().Get("discovery_path"); dp != "" {
		runs, err = s.indexStore.ListRuns(r.Context(), dp)
	} else {
		runs, err = s.indexStore.ListAllRuns(r.Context())
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs: " + err.Error()})

		return
	}

	entries := make([]indexEntry, 0, len(runs))
	for i := range runs {
		entries = append(entries, toIndexEntry(&runs[i]))
	}

	// Sort by timestamp descending.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"generated": time.Now().Unix(),
		"entries":   entries,
	})
}

// specResultEntry is the JSON shape of one indexed spec artifact.
type specResultEntry struct {
	RunID             string    `json:"run_id"`
	SpecHash          string    `json:"spec_hash"`
	GroupID           string    `json:"group_id"`
	Spec              string    `json:"spec"`
	StartTime         time.Time `json:"start_time"`
	Tests             int       `json:"tests"`
	Passes            int       `json:"passes"`
	Failures          int       `json:"failures"`
	Pending           int       `json:"pending"`
	Skipped           int       `json:"skipped"`
	Flaky             int       `json:"flaky"`
	WallClockDuration int64     `json:"wall_clock_duration"`
}

func toSpecResultEntry(sr *indexstore.SpecResult) specResultEntry {
	return specResultEntry{
		RunID:             sr.RunID,
		SpecHash:          sr.SpecHash,
		GroupID:           sr.GroupID,
		Spec:              sr.Spec,
		StartTime:         sr.StartTime,
		Tests:             sr.Tests,
		Passes:            sr.Passes,
		Failures:          sr.Failures,
		Pending:           sr.Pending,
		Skipped:           sr.Skipped,
		Flaky:             sr.Flaky,
		WallClockDuration: sr.WallClockDuration,
	}
}

// handleRunSpecs returns the per-spec breakdown of a single run. The
// discovery path arrives as a query parameter because S3 discovery paths
// may contain slashes.
func (s *server) handleRunSpecs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	dp := r.URL.Query().Get("discovery_path")
	if dp == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"discovery_path query parameter is required"})

		return
	}

	results, err := s.indexStore.ListSpecResults(r.Context(), dp, runID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing spec results: " + err.Error()})

		return
	}

	entries := make([]specResultEntry, 0, len(results))
	for i := range results {
		entries = append(entries, toSpecResultEntry(&results[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"specs":  entries,
	})
}

// handleSpecHistory returns the indexed results of one spec file across
// all runs, newest first. Used by the UI for flakiness trends.
func (s *server) handleSpecHistory(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	spec := r.URL.Query().Get("spec")

	if groupID == "" || spec == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"group_id and spec query parameters are required"})

		return
	}

	history, err := s.indexStore.ListSpecHistory(r.Context(), groupID, spec)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing spec history: " + err.Error()})

		return
	}

	entries := make([]specResultEntry, 0, len(history))
	for i := range history {
		entries = append(entries, toSpecResultEntry(&history[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"spec":     spec,
		"history":  entries,
	})
}
