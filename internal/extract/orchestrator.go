package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"stealthcompany.com/hisextract/internal/artifact"
	"stealthcompany.com/hisextract/internal/his"
	"stealthcompany.com/hisextract/internal/metrics"
	"stealthcompany.com/hisextract/internal/progress"
)

// Config holds the run parameters. Built once by the CLI and passed
// explicitly; workers carry no ambient state.
type Config struct {
	// Concurrency is the bounded worker count.
	Concurrency int
	// RequestDelay is the minimum pause between remote requests per worker.
	RequestDelay time.Duration
	// RecycleEvery tears down and re-establishes the portal session after
	// this many processed patients. Zero disables recycling.
	RecycleEvery int
	// MaxAttempts bounds retries of a transient failure within one patient.
	MaxAttempts int
	// LoginAttempts bounds the run-level retries of the initial login.
	LoginAttempts int
	// OutputDir is the artifact root; one subdirectory per folder number.
	OutputDir string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.RequestDelay <= 0 {
		c.RequestDelay = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = 3
	}
	if c.OutputDir == "" {
		c.OutputDir = "artifacts"
	}
	return c
}

// Orchestrator drives resolve → enumerate → token exchange → persist across
// the master list with a bounded worker pool.
type Orchestrator struct {
	cfg    Config
	his    *his.Client
	store  progress.Store
	writer *artifact.Writer

	// recycleGate serializes session recycling against in-flight patients:
	// workers hold it for read while processing, the recycler takes it for
	// write so every in-flight patient drains first.
	recycleGate sync.RWMutex
	processed   atomic.Int64
	queued      atomic.Int64

	mu      sync.Mutex
	summary *progress.RunSummary

	// entries mirrors the progress store in memory so per-patient updates
	// do not re-query the whole store.
	entriesMu sync.Mutex
	entries   map[string]*progress.Entry
}

// New creates an orchestrator.
func New(cfg Config, client *his.Client, store progress.Store) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	writer, err := artifact.NewWriter(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:    cfg,
		his:    client,
		store:  store,
		writer: writer,
	}, nil
}

// Summary returns the final run summary once Run finishes, or a live
// summary computed from the in-memory mirror while the run is going. Safe to
// call from the status server at any time.
func (o *Orchestrator) Summary() *progress.RunSummary {
	o.mu.Lock()
	if o.summary != nil {
		defer o.mu.Unlock()
		return o.summary
	}
	o.mu.Unlock()

	o.entriesMu.Lock()
	defer o.entriesMu.Unlock()
	if o.entries == nil {
		return nil
	}
	return progress.Summarize(o.entries)
}

// Run processes the master list. Per-patient failures are recorded and the
// run continues; the returned error is non-nil only for run-level failures
// (no authenticated session at all, or a broken progress store).
func (o *Orchestrator) Run(ctx context.Context, folders []string) (*progress.RunSummary, error) {
	entries, err := o.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress store: %w", err)
	}

	queue, err := o.buildQueue(ctx, folders, entries)
	if err != nil {
		return nil, err
	}

	// The status server may already be polling Summary; publish the mirror
	// under the lock it reads with.
	o.entriesMu.Lock()
	o.entries = entries
	o.entriesMu.Unlock()

	log.Info().
		Int("total", len(folders)).
		Int("queued", len(queue)).
		Int("already_succeeded", len(folders)-len(queue)).
		Int("concurrency", o.cfg.Concurrency).
		Msg("Starting extraction run")

	if err := o.establishSession(ctx); err != nil {
		return nil, fmt.Errorf("cannot establish authenticated session: %w", err)
	}
	defer o.his.Sessions().Close()

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			o.workerLoop(ctx, id, work)
		}(i)
	}

	o.queued.Store(int64(len(queue)))
	metrics.SetQueueDepth(len(queue))

feed:
	for _, folder := range queue {
		select {
		case work <- folder:
			depth := o.queued.Add(-1)
			metrics.SetQueueDepth(int(depth))
		case <-ctx.Done():
			log.Info().Msg("Shutdown requested, no more patients will be dispatched")
			break feed
		}
	}
	close(work)
	wg.Wait()

	summary, err := o.store.Snapshot(ctx)
	if err != nil {
		// A snapshot failure at the very end should not mask a completed run.
		log.Error().Err(err).Msg("Failed to snapshot progress store")
		summary = &progress.RunSummary{}
	}
	o.setSummary(summary)

	if err := o.writeSummaryFile(summary); err != nil {
		log.Warn().Err(err).Msg("Failed to write run summary file")
	}

	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("pending", summary.Pending).
		Msg("Extraction run finished")

	return summary, nil
}

// buildQueue seeds missing entries as pending and returns every folder not
// already succeeded. Entries left inProgress by a crash are requeued; that is
// the documented at-least-once resume behavior.
func (o *Orchestrator) buildQueue(ctx context.Context, folders []string, entries map[string]*progress.Entry) ([]string, error) {
	var queue []string
	for _, folder := range folders {
		entry, ok := entries[folder]
		if !ok {
			entry = &progress.Entry{FolderNumber: folder, Status: progress.StatusPending}
			if err := o.store.Upsert(ctx, entry); err != nil {
				return nil, fmt.Errorf("failed to seed progress entry: %w", err)
			}
			entries[folder] = entry
		}
		switch entry.Status {
		case progress.StatusSucceeded:
			continue
		case progress.StatusInProgress:
			log.Warn().Str("folder", folder).Msg("Entry left inProgress by a previous run, requeueing")
		}
		queue = append(queue, folder)
	}
	return queue, nil
}

// establishSession performs the initial login with bounded run-level retries.
// Failure here is fatal: no patient can be processed without a session.
func (o *Orchestrator) establishSession(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= o.cfg.LoginAttempts; attempt++ {
		_, err = o.his.Sessions().Acquire(ctx)
		if err == nil {
			return nil
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", o.cfg.LoginAttempts).
			Msg("Initial login failed")
		if !his.IsRetryable(err) && !errors.Is(err, his.ErrAuthRequired) {
			return err
		}
		if attempt < o.cfg.LoginAttempts {
			if sleepErr := sleepCtx(ctx, backoff(attempt)); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return err
}

func (o *Orchestrator) workerLoop(ctx context.Context, id int, work <-chan string) {
	// Each worker paces its own requests; cross-worker parallelism stays.
	portal := o.his.WithPacer(his.NewPacer(o.cfg.RequestDelay))

	for folder := range work {
		if ctx.Err() != nil {
			// Drain mode: patients taken after shutdown are left pending for
			// the next run, never marked succeeded.
			o.markAbandoned(folder)
			continue
		}

		o.recycleGate.RLock()
		err := o.processPatient(ctx, folder, portal)
		o.recycleGate.RUnlock()

		o.recordOutcome(ctx, folder, err)

		n := o.processed.Add(1)
		if o.cfg.RecycleEvery > 0 && n%int64(o.cfg.RecycleEvery) == 0 {
			o.recycleSession(ctx, id, n)
		}
	}
}

// recycleSession drains in-flight patients and rebuilds the portal session.
func (o *Orchestrator) recycleSession(ctx context.Context, workerID int, processed int64) {
	if ctx.Err() != nil {
		return
	}
	o.recycleGate.Lock()
	defer o.recycleGate.Unlock()

	log.Info().
		Int("worker", workerID).
		Int64("processed", processed).
		Msg("Recycling portal session")

	if err := o.his.Sessions().Recycle(ctx); err != nil {
		log.Error().Err(err).Msg("Session recycle failed, workers will re-authenticate on demand")
		return
	}
	metrics.RecordSessionRefresh("recycle")
}

// markAbandoned records a patient handed to a worker after shutdown began.
func (o *Orchestrator) markAbandoned(folder string) {
	o.entriesMu.Lock()
	entry, ok := o.entries[folder]
	if !ok {
		entry = &progress.Entry{FolderNumber: folder}
		o.entries[folder] = entry
	}
	entry.Status = progress.StatusPending
	entry.FailureReason = "interrupted by shutdown"
	snapshot := *entry
	o.entriesMu.Unlock()

	// Shutdown is in progress; use a short independent context so the store
	// write still lands.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.Upsert(ctx, &snapshot); err != nil {
		log.Error().Err(err).Str("folder", folder).Msg("Failed to record abandoned patient")
	}
}

func (o *Orchestrator) setSummary(s *progress.RunSummary) {
	o.mu.Lock()
	o.summary = s
	o.mu.Unlock()
}

func (o *Orchestrator) writeSummaryFile(summary *progress.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.cfg.OutputDir, "run-summary.json"), data, 0o644)
}

// backoff returns the pause before retry attempt+1: linear, small, bounded.
func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 2 * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
