// Package indexer scans storage backends for report runs and maintains a
// queryable index of runs and spec results in a database.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/reportoor/pkg/api/indexstore"
	"github.com/ethpandaops/reportoor/pkg/api/storage"
	"github.com/ethpandaops/reportoor/pkg/report"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// indexConcurrency bounds how many runs are indexed in parallel.
const indexConcurrency = 4

// Indexer is a background service that periodically scans storage and
// upserts indexed run data into the index store.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error

	// RunOnce performs a single synchronous indexing pass. Used by the
	// one-shot index command.
	RunOnce(ctx context.Context) error
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log      logrus.FieldLogger
	store    indexstore.Store
	reader   storage.Reader
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	dbMu     sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a new background indexer.
func NewIndexer(
	log logrus.FieldLogger,
	store indexstore.Store,
	reader storage.Reader,
	interval time.Duration,
) Indexer {
	return &indexer{
		log:      log.WithField("component", "indexer"),
		store:    store,
		reader:   reader,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate indexing
// pass and then ticks at the configured interval. The first pass is
// asynchronous so the caller (the API server) is not blocked.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithField("interval", idx.interval.String()).
		Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		// Run one pass immediately.
		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

// RunOnce performs a single synchronous pass.
func (idx *indexer) RunOnce(ctx context.Context) error {
	for _, dp := range idx.reader.DiscoveryPaths() {
		if err := idx.indexDiscoveryPath(ctx, dp); err != nil {
			return fmt.Errorf("indexing discovery path %q: %w", dp, err)
		}
	}

	return nil
}

// runPass executes one full indexing pass across all discovery paths.
func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()
	paths := idx.reader.DiscoveryPaths()

	idx.log.WithField("discovery_paths", len(paths)).
		Info("Indexing pass started")

	for _, dp := range paths {
		select {
		case <-ctx.Done():
			return
		case <-idx.done:
			return
		default:
		}

		if err := idx.indexDiscoveryPath(ctx, dp); err != nil {
			idx.log.WithError(err).
				WithField("discovery_path", dp).
				Warn("Indexing pass failed for discovery path")
		}
	}

	idx.log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		Info("Indexing pass completed")
}

// indexDiscoveryPath performs incremental indexing for a single discovery
// path. New runs are indexed and incomplete runs re-indexed, using a
// bounded worker pool.
func (idx *indexer) indexDiscoveryPath(
	ctx context.Context, dp string,
) error {
	storageIDs, err := idx.reader.ListRunIDs(ctx, dp)
	if err != nil {
		return fmt.Errorf("listing storage run IDs: %w", err)
	}

	indexedIDs, err := idx.store.ListRunIDs(ctx, dp)
	if err != nil {
		return fmt.Errorf("listing indexed run IDs: %w", err)
	}

	incompleteIDs, err := idx.store.ListIncompleteRunIDs(ctx, dp)
	if err != nil {
		return fmt.Errorf("listing incomplete run IDs: %w", err)
	}

	indexedSet := make(map[string]struct{}, len(indexedIDs))
	for _, id := range indexedIDs {
		indexedSet[id] = struct{}{}
	}

	incompleteSet := make(map[string]struct{}, len(incompleteIDs))
	for _, id := range incompleteIDs {
		incompleteSet[id] = struct{}{}
	}

	type runTask struct {
		runID          string
		alreadyIndexed bool
	}

	var tasks []runTask

	for _, id := range storageIDs {
		_, alreadyIndexed := indexedSet[id]
		_, isIncomplete := incompleteSet[id]

		if alreadyIndexed && !isIncomplete {
			continue
		}

		tasks = append(tasks, runTask{
			runID:          id,
			alreadyIndexed: alreadyIndexed,
		})
	}

	dpLog := idx.log.WithField("discovery_path", dp)

	dpLog.WithFields(logrus.Fields{
		"storage_runs":    len(storageIDs),
		"indexed_runs":    len(indexedIDs),
		"incomplete_runs": len(incompleteIDs),
		"pending_runs":    len(tasks),
	}).Info("Scanning discovery path")

	if len(tasks) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(indexConcurrency)

	var indexed atomic.Int64

	for _, task := range tasks {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexRun(
				gCtx, dp, task.runID, task.alreadyIndexed,
			); err != nil {
				dpLog.WithError(err).
					WithField("run_id", task.runID).
					Warn("Failed to index run")

				return nil //nolint:nilerr // log and continue
			}

			indexed.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexing runs: %w", err)
	}

	if count := indexed.Load(); count > 0 {
		dpLog.WithField("count", count).
			Info("Discovery path indexing complete")
	}

	return nil
}

// indexRun reads a run's config.json and spec artifacts, builds index
// models, and upserts them into the store.
func (idx *indexer) indexRun(
	ctx context.Context, dp, runID string, isReindex bool,
) error {
	configData, err := idx.reader.GetRunFile(ctx, dp, runID, "config.json")
	if err != nil {
		return fmt.Errorf("reading config.json: %w", err)
	}

	if configData == nil {
		return fmt.Errorf("config.json not found")
	}

	var runCfg report.RunConfig
	if err := json.Unmarshal(configData, &runCfg); err != nil {
		return fmt.Errorf("parsing config.json: %w", err)
	}

	instanceFiles, err := idx.reader.ListInstanceFiles(ctx, dp, runID)
	if err != nil {
		return fmt.Errorf("listing instance files: %w", err)
	}

	run := &indexstore.Run{
		DiscoveryPath: dp,
		RunID:         runID,
		Timestamp:     runTimestamp(runID, runCfg.CreatedAt),
		ProjectID:     runCfg.ProjectID,
		WorkerIndex:   runCfg.Worker.WorkerIndex,
		ParallelIndex: runCfg.Worker.ParallelIndex,
		TotalSpecs:    runCfg.TotalSpecs,
		IndexedAt:     time.Now().UTC(),
	}

	if len(runCfg.Tags) > 0 {
		if b, mErr := json.Marshal(runCfg.Tags); mErr == nil {
			run.TagsJSON = string(b)
		}
	}

	specResults := make([]*indexstore.SpecResult, 0, len(instanceFiles))

	for _, name := range instanceFiles {
		data, rErr := idx.reader.GetRunFile(
			ctx, dp, runID, "instances/"+name,
		)
		if rErr != nil || data == nil {
			idx.log.WithError(rErr).WithFields(logrus.Fields{
				"run_id": runID,
				"file":   name,
			}).Warn("Failed to read spec artifact")

			continue
		}

		var rep report.SpecReport
		if uErr := json.Unmarshal(data, &rep); uErr != nil {
			idx.log.WithError(uErr).WithFields(logrus.Fields{
				"run_id": runID,
				"file":   name,
			}).Warn("Failed to parse spec artifact")

			continue
		}

		s := rep.Results.Stats

		specResults = append(specResults, &indexstore.SpecResult{
			DiscoveryPath:     dp,
			RunID:             runID,
			SpecHash:          strings.TrimSuffix(name, ".json"),
			GroupID:           rep.GroupID,
			Spec:              rep.Spec,
			StartTime:         rep.StartTime,
			Tests:             s.Tests,
			Passes:            s.Passes,
			Failures:          s.Failures,
			Pending:           s.Pending,
			Skipped:           s.Skipped,
			Flaky:             s.Flaky,
			WallClockDuration: s.WallClockDuration,
		})

		run.Tests += s.Tests
		run.Passes += s.Passes
		run.Failures += s.Failures
		run.Pending += s.Pending
		run.Skipped += s.Skipped
		run.Flaky += s.Flaky
	}

	run.SpecsIndexed = len(specResults)
	run.Complete = run.TotalSpecs > 0 && run.SpecsIndexed >= run.TotalSpecs

	if isReindex {
		now := time.Now().UTC()
		run.ReindexedAt = &now
	}

	// Serialize DB writes to avoid SQLite BUSY errors under concurrency.
	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	if err := idx.store.DeleteSpecResultsForRun(ctx, dp, runID); err != nil {
		return fmt.Errorf("deleting old spec results: %w", err)
	}

	if err := idx.store.BulkUpsertSpecResults(ctx, specResults); err != nil {
		return fmt.Errorf("inserting spec results: %w", err)
	}

	if err := idx.store.UpsertRun(ctx, run); err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	idx.log.WithFields(logrus.Fields{
		"run_id": runID,
		"specs":  len(specResults),
	}).Info("Indexed run")

	return nil
}

// runTimestamp extracts the unix timestamp from a "<ts>_<id>" run
// directory name, falling back to the run config's creation time.
func runTimestamp(runID string, createdAt time.Time) int64 {
	if i := strings.IndexByte(runID, '_'); i > 0 {
		if ts, err := strconv.ParseInt(runID[:i], 10, 64); err == nil {
			return ts
		}
	}

	return createdAt.Unix()
}
