package indexstore

import (
	"context"
	"fmt"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for the indexed report data.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, discoveryPath string) ([]Run, error)
	ListAllRuns(ctx context.Context) ([]Run, error)
	ListRunIDs(ctx context.Context, discoveryPath string) ([]string, error)
	ListIncompleteRunIDs(
		ctx context.Context, discoveryPath string,
	) ([]string, error)

	BulkUpsertSpecResults(
		ctx context.Context, results []*SpecResult,
	) error
	ListSpecResults(
		ctx context.Context, discoveryPath, runID string,
	) ([]SpecResult, error)
	ListSpecHistory(
		ctx context.Context, groupID, spec string,
	) ([]SpecResult, error)
	DeleteSpecResultsForRun(
		ctx context.Context, discoveryPath, runID string,
	) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&SpecResult{},
	); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts or updates a run record keyed by discovery_path + run_id.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	var existing Run

	result := s.db.WithContext(ctx).
		Where("discovery_path = ? AND run_id = ?",
			run.DiscoveryPath, run.RunID).
		First(&existing)

	if result.Error == nil {
		run.ID = existing.ID

		if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
			return fmt.Errorf("updating run: %w", err)
		}

		return nil
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	return nil
}

// ListRuns returns all runs for a given discovery path ordered by timestamp.
func (s *store) ListRuns(
	ctx context.Context, discoveryPath string,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("discovery_path = ?", discoveryPath).
		Order("timestamp DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListAllRuns returns all runs across all discovery paths.
func (s *store) ListAllRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing all runs: %w", err)
	}

	return runs, nil
}

// ListRunIDs returns just the run IDs for a given discovery path.
func (s *store) ListRunIDs(
	ctx context.Context, discoveryPath string,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("discovery_path = ?", discoveryPath).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing run ids: %w", err)
	}

	return ids, nil
}

// ListIncompleteRunIDs returns run IDs whose spec artifacts have not all
// been indexed yet, so later passes pick up stragglers from in-progress
// uploads.
func (s *store) ListIncompleteRunIDs(
	ctx context.Context, discoveryPath string,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("discovery_path = ? AND complete = ?", discoveryPath, false).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing incomplete run ids: %w", err)
	}

	return ids, nil
}

// BulkUpsertSpecResults inserts multiple spec result records in a single
// transaction. Existing rows for the runs involved should be deleted first
// via DeleteSpecResultsForRun.
func (s *store) BulkUpsertSpecResults(
	ctx context.Context, results []*SpecResult,
) error {
	if len(results) == 0 {
		return nil
	}

	const batchSize = 100

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(results); i += batchSize {
			end := i + batchSize
			if end > len(results) {
				end = len(results)
			}

			batch := results[i:end]

			if err := tx.CreateInBatches(batch, len(batch)).Error; err != nil {
				return fmt.Errorf("bulk inserting spec results: %w", err)
			}
		}

		return nil
	})
}

// ListSpecResults returns the indexed spec results for one run.
func (s *store) ListSpecResults(
	ctx context.Context, discoveryPath, runID string,
) ([]SpecResult, error) {
	var results []SpecResult
	if err := s.db.WithContext(ctx).
		Where("discovery_path = ? AND run_id = ?", discoveryPath, runID).
		Order("spec ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing spec results: %w", err)
	}

	return results, nil
}

// ListSpecHistory returns all indexed results for one spec file across
// runs, newest first. Used for flakiness trends.
func (s *store) ListSpecHistory(
	ctx context.Context, groupID, spec string,
) ([]SpecResult, error) {
	var results []SpecResult
	if err := s.db.WithContext(ctx).
		Where("group_id = ? AND spec = ?", groupID, spec).
		Order("start_time DESC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing spec history: %w", err)
	}

	return results, nil
}

// DeleteSpecResultsForRun removes all spec result entries for a run.
func (s *store) DeleteSpecResultsForRun(
	ctx context.Context, discoveryPath, runID string,
) error {
	if err := s.db.WithContext(ctx).
		Where("discovery_path = ? AND run_id = ?", discoveryPath, runID).
		Delete(&SpecResult{}).Error; err != nil {
		return fmt.Errorf("deleting spec results for run: %w", err)
	}

	return nil
}
