package main

import (
	"fmt"

	"github.com/ethpandaops/reportoor/pkg/upload"
	"github.com/spf13/cobra"
)

var uploadRunDir string

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a run directory to remote storage",
	Long:  `Upload a local run directory to S3-compatible storage using the config file settings.`,
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&uploadRunDir, "run-dir", "",
		"Path to the run directory to upload")

	_ = uploadCmd.MarkFlagRequired("run-dir")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Upload.S3 == nil || !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader, err := upload.NewS3Uploader(log, cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	// Fail fast: verify S3 is reachable and writable before walking the dir.
	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("S3 upload preflight check failed: %w", err)
	}

	log.WithField("dir", uploadRunDir).Info("Uploading run")

	if err := uploader.Upload(ctx, uploadRunDir); err != nil {
		return fmt.Errorf("uploading run: %w", err)
	}

	log.Info("Upload completed successfully")

	return nil
}
