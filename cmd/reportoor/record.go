package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/ident"
	"github.com/ethpandaops/reportoor/pkg/recorder"
	"github.com/ethpandaops/reportoor/pkg/report"
	"github.com/spf13/cobra"
)

var (
	recordInput   string
	recordTimeout time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a test run from a lifecycle event stream",
	Long: `Read newline-delimited JSON lifecycle events from a file or stdin
and write per-spec report artifacts into a new run directory.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVar(&recordInput, "input", "-",
		"Event stream file path, or \"-\" for stdin")
	recordCmd.Flags().DurationVar(&recordTimeout, "timeout", 10*time.Minute,
		"Abort if the run has not completed within this duration (0 disables)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	owner, err := fsutil.ParseOwner(cfg.Record.Owner)
	if err != nil {
		return fmt.Errorf("parsing record.owner: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if recordTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, recordTimeout)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	input := os.Stdin

	if recordInput != "-" {
		f, err := os.Open(recordInput)
		if err != nil {
			return fmt.Errorf("opening event stream: %w", err)
		}

		defer f.Close()

		input = f
	}

	emitter := report.NewEmitter(log, report.Config{
		OutputDir: cfg.Record.OutputDir,
		ProjectID: cfg.Record.ProjectID,
		Tags:      cfg.Record.Tags,
		Worker: events.Worker{
			WorkerIndex:   cfg.Record.Worker.WorkerIndex,
			ParallelIndex: cfg.Record.Worker.ParallelIndex,
		},
		Owner:    owner,
		HostInfo: cfg.Record.HostInfoEnabled(),
	})

	rec := recorder.New(log, emitter)
	dec := events.NewDecoder(input)

	// The stream preserves causal order within a spec file but interleaves
	// spec files arbitrarily. One goroutine per spec file keeps each file's
	// events in order while letting files progress independently, mirroring
	// the runner's worker parallelism.
	var (
		wg          sync.WaitGroup
		streams     = make(map[ident.SpecKey]chan *events.Envelope)
		runComplete *events.Envelope
	)

	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			log.WithError(err).Warn("Skipping malformed event")

			continue
		}

		switch ev.Type {
		case events.TypeRunStart:
			// Handled inline: it resolves the run gate every spec stream
			// may be blocked on, so it must never queue behind one.
			if err := rec.Handle(ctx, ev); err != nil {
				log.WithError(err).Error("Failed to handle run start")
			}
		case events.TypeRunComplete:
			// Deferred until every spec stream has drained so the
			// completion summary sees the final finalized count.
			runComplete = ev
		default:
			key := ident.NewSpecKey(ev.Project, ev.Spec)

			ch, ok := streams[key]
			if !ok {
				ch = make(chan *events.Envelope, 64)
				streams[key] = ch

				wg.Add(1)

				go func() {
					defer wg.Done()

					for ev := range ch {
						if err := rec.Handle(ctx, ev); err != nil {
							log.WithError(err).
								WithField("type", ev.Type).
								Error("Failed to handle event")
						}
					}
				}()
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}

		if ctx.Err() != nil {
			break
		}
	}

	for _, ch := range streams {
		close(ch)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("recording aborted: %w", err)
	}

	if runComplete != nil {
		if err := rec.Handle(ctx, runComplete); err != nil {
			log.WithError(err).Error("Failed to handle run complete")
		}
	}

	log.WithField("dir", emitter.RunDir()).
		WithField("specs", emitter.Processed()).
		Info("Recording completed")

	return nil
}
