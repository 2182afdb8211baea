// Package status reduces raw per-attempt outcomes to the derived status
// fields carried by report artifacts. All functions are pure and
// deterministic.
package status

import "github.com/ethpandaops/reportoor/pkg/events"

// Status is the coarse state of a test case after all attempts.
type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Skipped Status = "skipped"
	Pending Status = "pending"
)

// Classify maps a raw outcome kind to a status, folding the skip-like
// kinds into Skipped. Unknown kinds classify as Failed so that a report
// can always be produced from malformed runner data.
func Classify(kind events.OutcomeKind) Status {
	switch kind {
	case events.OutcomePassed:
		return Passed
	case events.OutcomeSkipped, events.OutcomeTodo,
		events.OutcomePending, events.OutcomeDisabled:
		return Skipped
	case events.OutcomeFailed:
		return Failed
	default:
		return Failed
	}
}

// Expected returns the status used for pass/fail gating. If every attempt
// shares the same outcome kind, that kind's classification is returned.
// Mixed outcomes across attempts classify as Failed: a test that needed
// retries never reports a clean pass at the expected-status level, even
// when its final attempt passed.
func Expected(attempts []events.Outcome) Status {
	if len(attempts) == 0 {
		return Skipped
	}

	first := Classify(attempts[0].Status)

	for _, a := range attempts[1:] {
		if Classify(a.Status) != first {
			return Failed
		}
	}

	return first
}

// Coarse returns the status used for aggregate counts, derived from the
// final attempt, with the skip-like kinds collapsed into a single Pending
// bucket.
func Coarse(attempts []events.Outcome) Status {
	if len(attempts) == 0 {
		return Pending
	}

	s := Classify(attempts[len(attempts)-1].Status)
	if s == Skipped {
		return Pending
	}

	return s
}

// IsFlaky reports whether a test failed at least once and then passed on
// its final attempt: true iff more than one attempt exists and the last
// attempt passed.
func IsFlaky(attempts []events.Outcome) bool {
	if len(attempts) < 2 {
		return false
	}

	return Classify(attempts[len(attempts)-1].Status) == Passed
}

// Retries returns the retry count recorded in artifacts. The value is
// len(attempts)+1, an off-by-one convention inherited from the upstream
// artifact contract; changing it would break backend compatibility.
func Retries(attempts []events.Outcome) int {
	return len(attempts) + 1
}
