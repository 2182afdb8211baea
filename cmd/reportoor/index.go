package main

import (
	"fmt"
	"time"

	"github.com/ethpandaops/reportoor/pkg/api/indexer"
	"github.com/ethpandaops/reportoor/pkg/api/indexstore"
	"github.com/ethpandaops/reportoor/pkg/api/storage"
	"github.com/ethpandaops/reportoor/pkg/cache"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/spf13/cobra"
)

var indexFromArchive string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run a single indexing pass over stored runs",
	Long: `Scan the configured storage backend for report runs and update the
run index database. With --from-archive, a zip archive of runs is
downloaded (and cached locally) and indexed instead.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexFromArchive, "from-archive", "",
		"URL of a zip archive of runs to download and index")
}

func runIndex(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	var reader storage.Reader

	switch {
	case indexFromArchive != "":
		c, err := cache.New(log, cfg.Cache)
		if err != nil {
			return fmt.Errorf("creating archive cache: %w", err)
		}

		dir, err := c.FetchArchive(ctx, indexFromArchive)
		if err != nil {
			return fmt.Errorf("fetching archive: %w", err)
		}

		reader = storage.NewLocalReader(&config.APILocalStorageConfig{
			Enabled:        true,
			DiscoveryPaths: map[string]string{"archive": dir},
		})
	case cfg.API.Storage.S3 != nil && cfg.API.Storage.S3.Enabled:
		reader = storage.NewS3Reader(cfg.API.Storage.S3)
	case cfg.API.Storage.Local != nil && cfg.API.Storage.Local.Enabled:
		reader = storage.NewLocalReader(cfg.API.Storage.Local)
	default:
		return fmt.Errorf("no storage backend configured under api.storage")
	}

	store := indexstore.NewStore(log, &cfg.API.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop index store")
		}
	}()

	// The interval is unused for a one-shot pass.
	idx := indexer.NewIndexer(log, store, reader, time.Minute)

	start := time.Now()

	if err := idx.RunOnce(ctx); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		Info("Indexing pass completed")

	return nil
}
