// Package recorder reconciles the out-of-order lifecycle events of a test
// run into per-spec report artifacts. Handlers may be invoked concurrently;
// causal ordering between them is restored with one-shot gates, and each
// spec file is finalized and persisted exactly once.
package recorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/gate"
	"github.com/ethpandaops/reportoor/pkg/ident"
	"github.com/ethpandaops/reportoor/pkg/report"
	"github.com/ethpandaops/reportoor/pkg/status"
	"github.com/sirupsen/logrus"
)

// Recorder consumes runner lifecycle events and emits spec reports.
type Recorder interface {
	// Handle processes one event. Safe for concurrent use.
	Handle(ctx context.Context, ev *events.Envelope) error
	// Finalized returns the number of spec files finalized so far.
	Finalized() int
}

type recorder struct {
	log     logrus.FieldLogger
	emitter report.Emitter

	runGate      *gate.Gate
	specGates    *gate.Table[ident.SpecKey]
	attemptGates *gate.Table[ident.AttemptKey]

	mu         sync.Mutex
	totalSpecs int
	specs      map[ident.SpecKey]*SpecRecord
	finalized  map[ident.SpecKey]bool
}

var _ Recorder = (*recorder)(nil)

// New creates a recorder that persists finalized spec reports through em.
func New(log logrus.FieldLogger, em report.Emitter) Recorder {
	return &recorder{
		log:          log.WithField("component", "recorder"),
		emitter:      em,
		runGate:      gate.New(),
		specGates:    gate.NewTable[ident.SpecKey](),
		attemptGates: gate.NewTable[ident.AttemptKey](),
		specs:        make(map[ident.SpecKey]*SpecRecord),
		finalized:    make(map[ident.SpecKey]bool),
	}
}

func (r *recorder) Handle(ctx context.Context, ev *events.Envelope) error {
	switch ev.Type {
	case events.TypeRunStart:
		return r.handleRunStart(ctx, ev)
	case events.TypeFileStart:
		return r.handleFileStart(ctx, ev)
	case events.TypeCaseStart:
		return r.handleCaseStart(ctx, ev)
	case events.TypeCaseResult:
		return r.handleCaseResult(ctx, ev)
	case events.TypeFileResult:
		return r.handleFileResult(ctx, ev)
	case events.TypeRunComplete:
		return r.handleRunComplete(ctx)
	default:
		r.log.WithField("type", ev.Type).Warn("Ignoring unknown event type")

		return nil
	}
}

func (r *recorder) Finalized() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.finalized)
}

func (r *recorder) handleRunStart(ctx context.Context, ev *events.Envelope) error {
	r.mu.Lock()
	r.totalSpecs = ev.TotalSpecs
	r.mu.Unlock()

	if err := r.emitter.StartRun(ctx, ev.TotalSpecs); err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	// Releases every handler waiting for the run directory to exist.
	r.runGate.Resolve()

	return nil
}

func (r *recorder) handleFileStart(ctx context.Context, ev *events.Envelope) error {
	key, err := specKey(ev)
	if err != nil {
		return err
	}

	if err := r.runGate.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for run start: %w", err)
	}

	r.mu.Lock()
	if _, ok := r.specs[key]; !ok {
		r.specs[key] = newSpecRecord(key)
	}
	r.mu.Unlock()

	// Releases the result handlers for this spec.
	r.specGates.Resolve(key)

	r.log.WithField("spec", key.Spec).Debug("Spec file started")

	return nil
}

func (r *recorder) handleCaseStart(ctx context.Context, ev *events.Envelope) error {
	key, err := specKey(ev)
	if err != nil {
		return err
	}

	if ev.Case == nil || ev.Case.TestID == "" {
		return fmt.Errorf("case start for %s has no test id", key)
	}

	if err := r.runGate.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for run start: %w", err)
	}

	r.mu.Lock()
	if _, ok := r.specs[key]; !ok {
		r.specs[key] = newSpecRecord(key)
	}

	rec := r.specs[key].caseRecord(ev.Case.TestID)
	rec.Title = ev.Case.Title
	rec.Mode = ev.Case.Mode
	rec.Worker = ev.Case.Worker
	rec.StartTimes = append(rec.StartTimes, ev.Case.StartedAt)
	r.mu.Unlock()

	// The spec record is created by whichever of file start and case start
	// arrives first, so a lost file start never strands the result handlers.
	r.specGates.Resolve(key)

	return nil
}

func (r *recorder) handleCaseResult(ctx context.Context, ev *events.Envelope) error {
	key, err := specKey(ev)
	if err != nil {
		return err
	}

	if ev.TestID == "" || ev.Outcome == nil {
		return fmt.Errorf("case result for %s has no test id or outcome", key)
	}

	if err := r.specGates.Get(key).Wait(ctx); err != nil {
		return fmt.Errorf("waiting for spec start: %w", err)
	}

	r.mu.Lock()

	rec := r.specs[key].caseRecord(ev.TestID)

	// A result can overtake its own start event. Synthesize the missing
	// start so attempt indices stay aligned.
	if len(rec.StartTimes) == len(rec.Attempts) {
		rec.StartTimes = append(rec.StartTimes, ev.Outcome.StartedAt)
	}

	if len(rec.Title) == 0 {
		rec.Title = []string{ev.TestID}
	}

	idx := len(rec.Attempts)
	rec.Attempts = append(rec.Attempts, *ev.Outcome)

	r.mu.Unlock()

	r.attemptGates.Resolve(ident.NewAttemptKey(ident.NewCaseKey(key, ev.TestID), idx))

	return nil
}

func (r *recorder) handleFileResult(ctx context.Context, ev *events.Envelope) error {
	key, err := specKey(ev)
	if err != nil {
		return err
	}

	if ev.File == nil {
		return fmt.Errorf("file result for %s has no payload", key)
	}

	if err := r.specGates.Get(key).Wait(ctx); err != nil {
		return fmt.Errorf("waiting for spec start: %w", err)
	}

	r.mu.Lock()

	spec := r.specs[key]
	spec.File = ev.File
	spec.Worker = ev.File.Worker

	// Snapshot the last attempt index per case. The event stream delivers
	// every case start for a spec before that spec's file result, so
	// StartTimes is complete here; the matching results may still be in
	// flight.
	type pending struct {
		ck  ident.CaseKey
		idx int
	}

	waits := make([]pending, 0, len(spec.Cases))

	for ck, rec := range spec.Cases {
		if len(rec.StartTimes) > 0 {
			waits = append(waits, pending{ck: ck, idx: len(rec.StartTimes) - 1})
		}
	}

	r.mu.Unlock()

	for _, w := range waits {
		if err := r.attemptGates.Get(ident.NewAttemptKey(w.ck, w.idx)).Wait(ctx); err != nil {
			return fmt.Errorf("waiting for attempt %d of %s: %w", w.idx, w.ck.TestID, err)
		}
	}

	return r.finalize(ctx, key)
}

func (r *recorder) handleRunComplete(_ context.Context) error {
	r.mu.Lock()
	finalized := len(r.finalized)
	total := r.totalSpecs
	r.mu.Unlock()

	log := r.log.WithFields(logrus.Fields{
		"finalized":   finalized,
		"total_specs": total,
	})

	if total > 0 && finalized < total {
		log.Warn("Run completed with unfinalized spec files")

		return nil
	}

	log.Info("Run completed")

	return nil
}

// finalize reduces a spec's accumulated state into a report and persists
// it. The first caller for a key wins; later calls are no-ops.
func (r *recorder) finalize(ctx context.Context, key ident.SpecKey) error {
	r.mu.Lock()

	if r.finalized[key] {
		r.mu.Unlock()

		r.log.WithField("spec", key.Spec).Debug("Spec already finalized")

		return nil
	}

	r.finalized[key] = true

	rep := buildReport(r.specs[key])

	r.mu.Unlock()

	if err := r.emitter.Persist(ctx, key, rep); err != nil {
		return fmt.Errorf("persisting spec report: %w", err)
	}

	return nil
}

// buildReport reduces a spec record into its artifact form. The caller must
// hold the recorder mutex.
func buildReport(spec *SpecRecord) *report.SpecReport {
	rep := &report.SpecReport{
		GroupID: spec.Key.Project,
		Spec:    spec.Key.Spec,
		Worker:  spec.Worker,
	}

	seen := make(map[string]struct{}, len(spec.Cases))

	for _, rec := range spec.Cases {
		seen[rec.ID] = struct{}{}

		rep.Results.Tests = append(rep.Results.Tests, buildTest(rec))
	}

	if spec.File != nil {
		rep.StartTime = spec.File.StartedAt

		// Tests the runner declared but never executed report as skipped
		// with zero attempts.
		for _, d := range spec.File.Declared {
			if _, ok := seen[d.TestID]; ok {
				continue
			}

			rep.Results.Tests = append(rep.Results.Tests, report.Test{
				TestID:         d.TestID,
				Title:          d.Title,
				State:          status.Skipped,
				ExpectedStatus: status.Skipped,
				Retries:        status.Retries(nil),
				Attempts:       []report.Attempt{},
			})
		}
	}

	rep.ComputeStats()

	if spec.File != nil {
		s := &rep.Results.Stats
		s.WallClockStartedAt = spec.File.StartedAt
		s.WallClockEndedAt = spec.File.EndedAt
		s.WallClockDuration = spec.File.EndedAt.Sub(spec.File.StartedAt).Milliseconds()
	}

	return rep
}

func buildTest(rec *CaseRecord) report.Test {
	attempts := make([]report.Attempt, 0, len(rec.Attempts))

	for i, o := range rec.Attempts {
		start := o.StartedAt
		if i < len(rec.StartTimes) {
			start = rec.StartTimes[i]
		}

		attempts = append(attempts, report.Attempt{
			Attempt:       i + 1,
			WorkerIndex:   o.Worker.WorkerIndex,
			ParallelIndex: o.Worker.ParallelIndex,
			StartTime:     start,
			Duration:      o.Duration.Milliseconds(),
			Status:        status.Classify(o.Status),
			Errors:        o.Errors,
		})
	}

	return report.Test{
		TestID:         rec.ID,
		Title:          rec.Title,
		State:          status.Coarse(rec.Attempts),
		IsFlaky:        status.IsFlaky(rec.Attempts),
		ExpectedStatus: status.Expected(rec.Attempts),
		Retries:        status.Retries(rec.Attempts),
		Attempts:       attempts,
	}
}

func specKey(ev *events.Envelope) (ident.SpecKey, error) {
	if ev.Project == "" || ev.Spec == "" {
		return ident.SpecKey{}, fmt.Errorf("event %s is missing project or spec", ev.Type)
	}

	return ident.NewSpecKey(ev.Project, ev.Spec), nil
}
