package indexstore

import "time"

// SpecResult is the indexed summary of one spec artifact within a run.
type SpecResult struct {
	ID            uint   `gorm:"primaryKey"`
	DiscoveryPath string `gorm:"not null;uniqueIndex:idx_specs_dp_run_hash"`
	RunID         string `gorm:"not null;uniqueIndex:idx_specs_dp_run_hash;index"`
	SpecHash      string `gorm:"not null;uniqueIndex:idx_specs_dp_run_hash"`

	GroupID   string `gorm:"index"`
	Spec      string `gorm:"index"`
	StartTime time.Time

	Tests    int
	Passes   int
	Failures int
	Pending  int
	Skipped  int
	Flaky    int

	// WallClockDuration is the spec file's wall clock time in milliseconds.
	WallClockDuration int64
}
