package storage

import "context"

// Reader provides read access to report run data stored in a backend
// (local filesystem or S3). It is used by the indexer to discover runs and
// read their artifacts without knowing the underlying storage details.
type Reader interface {
	// ListRunIDs returns the run IDs (directory names) under the runs
	// directory for the given discovery path.
	ListRunIDs(ctx context.Context, discoveryPath string) ([]string, error)

	// GetRunFile reads a file from a specific run directory.
	// Returns (nil, nil) when the file does not exist.
	GetRunFile(
		ctx context.Context, discoveryPath, runID, filename string,
	) ([]byte, error)

	// ListInstanceFiles returns the file names under a run's instances
	// directory, one per recorded spec.
	ListInstanceFiles(
		ctx context.Context, discoveryPath, runID string,
	) ([]string, error)

	// DiscoveryPaths returns all configured discovery paths.
	DiscoveryPaths() []string
}
