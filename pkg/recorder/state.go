package recorder

import (
	"time"

	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/ident"
)

// CaseRecord accumulates everything observed for one test case: start
// times in arrival order and the outcome of each attempt. StartTimes and
// Attempts grow in lockstep; a result arriving without a matching start
// gets a synthesized start entry.
type CaseRecord struct {
	ID         string
	Title      []string
	Mode       events.Mode
	Worker     events.Worker
	StartTimes []time.Time
	Attempts   []events.Outcome
}

// SpecRecord accumulates state for one spec file within a run.
type SpecRecord struct {
	Key    ident.SpecKey
	Worker events.Worker
	Cases  map[ident.CaseKey]*CaseRecord
	File   *events.FileResult
}

func newSpecRecord(key ident.SpecKey) *SpecRecord {
	return &SpecRecord{
		Key:   key,
		Cases: make(map[ident.CaseKey]*CaseRecord),
	}
}

// caseRecord returns the record for testID, creating it if needed. The
// caller must hold the recorder mutex.
func (s *SpecRecord) caseRecord(testID string) *CaseRecord {
	ck := ident.NewCaseKey(s.Key, testID)

	rec, ok := s.Cases[ck]
	if !ok {
		rec = &CaseRecord{ID: testID}
		s.Cases[ck] = rec
	}

	return rec
}
