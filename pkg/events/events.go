// Package events defines the lifecycle events a test runner emits while
// executing spec files. Events arrive concurrently from multiple workers
// and in an order that is only partially guaranteed; the recorder package
// reconciles them.
package events

import "time"

// Worker identifies which runner worker produced an event.
type Worker struct {
	WorkerIndex   int `json:"workerIndex"`
	ParallelIndex int `json:"parallelIndex"`
}

// Mode is the run intent declared for a test case.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeSkip   Mode = "skip"
	ModeTodo   Mode = "todo"
)

// OutcomeKind is the raw status of a single attempt as reported by the
// runner. Kinds outside this set are tolerated and classified as failed
// by the status package.
type OutcomeKind string

const (
	OutcomePassed   OutcomeKind = "passed"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeTodo     OutcomeKind = "todo"
	OutcomePending  OutcomeKind = "pending"
	OutcomeDisabled OutcomeKind = "disabled"
)

// ErrorDetail carries a single error attached to an attempt outcome.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Outcome is the raw result of one attempt of a test case.
type Outcome struct {
	Status    OutcomeKind   `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Errors    []ErrorDetail `json:"errors,omitempty"`
	Worker    Worker        `json:"worker"`
}

// CaseStart announces that an attempt of a test case is beginning. For a
// retry the same test id is announced again with a later start time.
type CaseStart struct {
	TestID    string    `json:"testId"`
	Title     []string  `json:"title"`
	Mode      Mode      `json:"mode"`
	StartedAt time.Time `json:"startedAt"`
	Worker    Worker    `json:"worker"`
}

// DeclaredCase is one test the runner declares in a file-level result,
// whether or not its start/result callbacks ever fired.
type DeclaredCase struct {
	TestID string   `json:"testId"`
	Title  []string `json:"title"`
	Mode   Mode     `json:"mode"`
}

// FileResult is the runner's file-level result: the full set of declared
// tests plus wall-clock timing for the spec file.
type FileResult struct {
	Declared  []DeclaredCase `json:"declared"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	Worker    Worker         `json:"worker"`
}

// Type discriminates envelope payloads on the wire.
type Type string

const (
	TypeRunStart    Type = "runStart"
	TypeFileStart   Type = "fileStart"
	TypeCaseStart   Type = "caseStart"
	TypeCaseResult  Type = "caseResult"
	TypeFileResult  Type = "fileResult"
	TypeRunComplete Type = "runComplete"
)

// Envelope is one event on the NDJSON stream. Which payload fields are set
// depends on Type.
type Envelope struct {
	Type       Type        `json:"type"`
	Project    string      `json:"projectId,omitempty"`
	Spec       string      `json:"spec,omitempty"`
	TotalSpecs int         `json:"totalSpecs,omitempty"`
	Case       *CaseStart  `json:"case,omitempty"`
	TestID     string      `json:"testId,omitempty"`
	Outcome    *Outcome    `json:"outcome,omitempty"`
	File       *FileResult `json:"file,omitempty"`
}
