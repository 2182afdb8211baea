package indexstore

import "time"

// Run represents a single indexed report run in the database.
type Run struct {
	ID            uint   `gorm:"primaryKey"`
	DiscoveryPath string `gorm:"not null;uniqueIndex:idx_runs_dp_run"`
	RunID         string `gorm:"not null;uniqueIndex:idx_runs_dp_run"`
	Timestamp     int64
	ProjectID     string `gorm:"index"`

	// Tags serialized as a JSON array.
	TagsJSON string `gorm:"type:text"`

	WorkerIndex   int
	ParallelIndex int

	// TotalSpecs is the spec count announced in the run config;
	// SpecsIndexed is how many spec artifacts were actually found. A run
	// where the two differ is re-indexed on later passes.
	TotalSpecs   int
	SpecsIndexed int
	Complete     bool

	// Denormalized aggregate counts across all specs in the run.
	Tests    int
	Passes   int
	Failures int
	Pending  int
	Skipped  int
	Flaky    int

	IndexedAt   time.Time
	ReindexedAt *time.Time
}
