// Package ident derives stable identities for spec files and test cases
// from runner-provided metadata. Keys are comparable structs rather than
// delimiter-joined strings, so names containing separator characters can
// never collide.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SpecKey identifies one spec file within a run.
type SpecKey struct {
	Project string
	Spec    string
}

// NewSpecKey builds a spec key from the runner's project id and spec path.
func NewSpecKey(project, spec string) SpecKey {
	return SpecKey{Project: project, Spec: spec}
}

func (k SpecKey) String() string {
	return fmt.Sprintf("%s:%s", k.Project, k.Spec)
}

// Hash returns a short hex digest of the spec identity, used for
// deterministic artifact filenames.
func (k SpecKey) Hash() string {
	sum := sha256.Sum256([]byte(k.Project + "\x00" + k.Spec))

	return hex.EncodeToString(sum[:8])
}

// CaseKey identifies one logical test case within a spec. The test id is
// derived by the runner from the spec path and title chain, never from the
// attempt index, so every retry of a test maps to the same key.
type CaseKey struct {
	SpecKey
	TestID string
}

// NewCaseKey builds a case key for a test within the given spec.
func NewCaseKey(spec SpecKey, testID string) CaseKey {
	return CaseKey{SpecKey: spec, TestID: testID}
}

func (k CaseKey) String() string {
	return fmt.Sprintf("%s:%s", k.SpecKey, k.TestID)
}

// AttemptKey identifies one attempt of a test case. Used to key the
// per-attempt completion gates that file finalization waits on.
type AttemptKey struct {
	CaseKey
	Attempt int
}

// NewAttemptKey builds an attempt key for the zero-based attempt index.
func NewAttemptKey(c CaseKey, attempt int) AttemptKey {
	return AttemptKey{CaseKey: c, Attempt: attempt}
}
