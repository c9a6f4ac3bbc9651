package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ResultApplier records an engine finding against an analysis. The update is
// idempotent and keyed by analysis id, so a retried dispatch cannot corrupt
// state.
type ResultApplier interface {
	ApplyFinding(ctx context.Context, analysisID int64, f Finding) error
}

// Dispatcher decouples the upload transaction from the engine call: the
// analysis row is committed first, then the finding is applied as a separate
// update. Swapping the sync dispatcher for the async one changes no
// transaction shape in the workflow.
type Dispatcher interface {
	// Dispatch requests analysis of the stored image. The sync implementation
	// returns the engine's error directly; the async one only reports a full
	// queue.
	Dispatch(ctx context.Context, analysisID int64, imagePath string) error
}

// SyncDispatcher runs the engine inline and applies the finding before
// returning, preserving the upload-returns-annotated-analysis contract.
type SyncDispatcher struct {
	engine  Engine
	applier ResultApplier
}

func NewSyncDispatcher(engine Engine, applier ResultApplier) *SyncDispatcher {
	return &SyncDispatcher{engine: engine, applier: applier}
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, analysisID int64, imagePath string) error {
	f, err := d.engine.Analyze(ctx, imagePath)
	if err != nil {
		return err
	}
	return d.applier.ApplyFinding(ctx, analysisID, *f)
}

type job struct {
	analysisID int64
	imagePath  string
}

// AsyncDispatcher queues inference jobs to a worker pool. Each job runs under
// its own timeout and is retried a bounded number of times; a slow or failing
// engine never holds a request transaction open.
type AsyncDispatcher struct {
	engine     Engine
	applier    ResultApplier
	logger     zerolog.Logger
	jobs       chan job
	wg         sync.WaitGroup
	jobTimeout time.Duration
	maxRetries int
	closeOnce  sync.Once
}

// AsyncConfig tunes the worker pool.
type AsyncConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	MaxRetries int
}

func NewAsyncDispatcher(engine Engine, applier ResultApplier, logger zerolog.Logger, cfg AsyncConfig) *AsyncDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	d := &AsyncDispatcher{
		engine:     engine,
		applier:    applier,
		logger:     logger,
		jobs:       make(chan job, cfg.QueueSize),
		jobTimeout: cfg.JobTimeout,
		maxRetries: cfg.MaxRetries,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

// Dispatch enqueues the job. It fails only when the queue is full or the
// caller's context is done; engine failures surface through worker logs and
// the analysis staying unannotated.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, analysisID int64, imagePath string) error {
	select {
	case d.jobs <- job{analysisID: analysisID, imagePath: imagePath}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	default:
		return fmt.Errorf("%w: inference queue full", ErrUnavailable)
	}
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.run(j)
	}
}

func (d *AsyncDispatcher) run(j job) {
	var err error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		err = d.runOnce(j)
		if err == nil {
			return
		}
	}

	d.logger.Error().
		Err(err).
		Int64("analysis_id", j.analysisID).
		Int("attempts", d.maxRetries+1).
		Msg("inference job failed")
}

func (d *AsyncDispatcher) runOnce(j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()

	f, err := d.engine.Analyze(ctx, j.imagePath)
	if err != nil {
		return err
	}
	return d.applier.ApplyFinding(ctx, j.analysisID, *f)
}

// Close stops accepting jobs and waits for in-flight work to drain.
func (d *AsyncDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}
