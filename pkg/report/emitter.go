package report

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/ident"
	"github.com/sirupsen/logrus"
)

// Emitter writes run and spec artifacts into a run directory.
type Emitter interface {
	// StartRun creates the run directory and writes the run config artifact.
	StartRun(ctx context.Context, totalSpecs int) error
	// Persist writes the spec report artifact for key. Each key can be
	// persisted at most once per run.
	Persist(ctx context.Context, key ident.SpecKey, rep *SpecReport) error
	// RunDir returns the run directory path. Empty before StartRun.
	RunDir() string
	// Processed returns the number of spec artifacts written so far.
	Processed() int
}

// Config holds the emitter settings.
type Config struct {
	OutputDir string
	ProjectID string
	Tags      []string
	Worker    events.Worker
	Owner     *fsutil.OwnerConfig
	// HostInfo embeds a machine snapshot in the run config artifact.
	HostInfo bool
}

// RunConfig is the config.json artifact describing one recording run.
type RunConfig struct {
	CreatedAt  time.Time     `json:"createdAt"`
	ProjectID  string        `json:"projectId"`
	Tags       []string      `json:"tags,omitempty"`
	Worker     events.Worker `json:"worker"`
	TotalSpecs int           `json:"totalSpecs"`
	Host       *HostInfo     `json:"host,omitempty"`
}

type emitter struct {
	log logrus.FieldLogger
	cfg Config

	mu         sync.Mutex
	runDir     string
	totalSpecs int
	processed  int
}

var _ Emitter = (*emitter)(nil)

// NewEmitter creates an emitter writing under cfg.OutputDir.
func NewEmitter(log logrus.FieldLogger, cfg Config) Emitter {
	return &emitter{
		log: log.WithField("component", "emitter"),
		cfg: cfg,
	}
}

func (e *emitter) StartRun(ctx context.Context, totalSpecs int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runDir != "" {
		return fmt.Errorf("run already started in %s", e.runDir)
	}

	runID := fmt.Sprintf("%d_%s", time.Now().Unix(), generateShortID())
	runDir := filepath.Join(e.cfg.OutputDir, runID)

	if err := fsutil.MkdirAll(filepath.Join(runDir, "instances"), 0o755, e.cfg.Owner); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	runCfg := RunConfig{
		CreatedAt:  time.Now().UTC(),
		ProjectID:  e.cfg.ProjectID,
		Tags:       e.cfg.Tags,
		Worker:     e.cfg.Worker,
		TotalSpecs: totalSpecs,
	}

	if e.cfg.HostInfo {
		runCfg.Host = collectHostInfo(ctx, e.log)
	}

	data, err := json.MarshalIndent(runCfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run config: %w", err)
	}

	if err := fsutil.WriteFileAtomic(filepath.Join(runDir, "config.json"), data, 0o644, e.cfg.Owner); err != nil {
		return fmt.Errorf("writing run config: %w", err)
	}

	e.runDir = runDir
	e.totalSpecs = totalSpecs

	e.log.WithFields(logrus.Fields{
		"dir":         runDir,
		"total_specs": totalSpecs,
	}).Info("Run started")

	return nil
}

func (e *emitter) Persist(_ context.Context, key ident.SpecKey, rep *SpecReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runDir == "" {
		return fmt.Errorf("run not started")
	}

	path := filepath.Join(e.runDir, "instances", key.Hash()+".json")

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("spec report already persisted: %s", path)
	}

	rep.SortTests()

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling spec report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644, e.cfg.Owner); err != nil {
		return fmt.Errorf("writing spec report: %w", err)
	}

	e.processed++

	e.log.WithFields(logrus.Fields{
		"spec":     key.Spec,
		"file":     filepath.Base(path),
		"size":     units.HumanSize(float64(len(data))),
		"progress": fmt.Sprintf("%d/%d", e.processed, e.totalSpecs),
	}).Info("Spec report written")

	return nil
}

func (e *emitter) RunDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.runDir
}

func (e *emitter) Processed() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.processed
}

// generateShortID returns a random 8 character hex string.
func generateShortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}

	return hex.EncodeToString(b)
}
