// Package report defines the per-spec JSON artifact shape and the emitter
// that writes artifacts into a run directory.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/status"
)

// Attempt is one execution of a test case inside a spec report.
type Attempt struct {
	Attempt       int                  `json:"attempt"`
	WorkerIndex   int                  `json:"workerIndex"`
	ParallelIndex int                  `json:"parallelIndex"`
	StartTime     time.Time            `json:"startTime"`
	Duration      int64                `json:"duration"`
	Status        status.Status        `json:"status"`
	Errors        []events.ErrorDetail `json:"errors"`
}

// Test is the reduced view of a single test case across all its attempts.
type Test struct {
	TestID         string        `json:"testId"`
	Title          []string      `json:"title"`
	State          status.Status `json:"state"`
	IsFlaky        bool          `json:"isFlaky"`
	ExpectedStatus status.Status `json:"expectedStatus"`
	Retries        int           `json:"retries"`
	Attempts       []Attempt     `json:"attempts"`
}

// Stats aggregates the coarse counts for one spec file.
type Stats struct {
	Suites             int       `json:"suites"`
	Tests              int       `json:"tests"`
	Passes             int       `json:"passes"`
	Pending            int       `json:"pending"`
	Skipped            int       `json:"skipped"`
	Failures           int       `json:"failures"`
	Flaky              int       `json:"flaky"`
	WallClockStartedAt time.Time `json:"wallClockStartedAt"`
	WallClockEndedAt   time.Time `json:"wallClockEndedAt"`
	WallClockDuration  int64     `json:"wallClockDuration"`
}

// Results holds the stats block and the per-test entries.
type Results struct {
	Stats Stats  `json:"stats"`
	Tests []Test `json:"tests"`
}

// SpecReport is the complete artifact written for one spec file.
type SpecReport struct {
	GroupID   string        `json:"groupId"`
	Spec      string        `json:"spec"`
	Worker    events.Worker `json:"worker"`
	StartTime time.Time     `json:"startTime"`
	Results   Results       `json:"results"`
}

// SortTests orders the test entries by testId so that artifact content does
// not depend on the order events arrived in.
func (r *SpecReport) SortTests() {
	sort.Slice(r.Results.Tests, func(i, j int) bool {
		return r.Results.Tests[i].TestID < r.Results.Tests[j].TestID
	})
}

// ComputeStats fills the count fields of the stats block from the test
// entries. Wall clock fields are left to the caller, which knows the file
// timing. Suites counts the distinct suite paths the tests belong to, where
// a suite path is the title chain above the test name.
func (r *SpecReport) ComputeStats() {
	suites := make(map[string]struct{})

	s := &r.Results.Stats
	s.Tests = len(r.Results.Tests)
	s.Passes = 0
	s.Pending = 0
	s.Skipped = 0
	s.Failures = 0
	s.Flaky = 0

	for i := range r.Results.Tests {
		t := &r.Results.Tests[i]

		if len(t.Title) > 1 {
			suites[strings.Join(t.Title[:len(t.Title)-1], " > ")] = struct{}{}
		} else {
			suites[""] = struct{}{}
		}

		switch t.State {
		case status.Passed:
			s.Passes++
		case status.Failed:
			s.Failures++
		case status.Pending:
			s.Pending++
		case status.Skipped:
			s.Skipped++
		}

		if t.IsFlaky {
			s.Flaky++
		}
	}

	s.Suites = len(suites)
}
