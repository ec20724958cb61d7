package pagination

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/export"
	"github.com/Sternrassler/coinmetrics-client/pkg/record"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxWorkers is the worker pool size when none is configured.
	DefaultMaxWorkers = 10

	// MaxWorkersLimit caps the pool size to stay within the API's rate limits.
	MaxWorkersLimit = 50

	progressEvery = 25
)

// ParallelOptions configures how a query is split and executed.
type ParallelOptions struct {
	// SplitOn lists comma-joined parameters to split into sub-queries.
	// Empty means the first of DefaultSplitParams present in the query.
	SplitOn []string

	// ChunkSize is the number of values per sub-query for each SplitOn
	// parameter. Default 1.
	ChunkSize int

	// TimeIncrement cuts [start_time, end_time) into windows of this size.
	TimeIncrement Increment

	// HeightIncrement cuts [start_height, end_height] into ranges of this
	// many blocks. Mutually exclusive with TimeIncrement.
	HeightIncrement int64

	// MaxWorkers bounds the number of sub-queries in flight.
	MaxWorkers int

	// Now supplies end_time when a time split query has none.
	Now func() time.Time
}

// DefaultParallelOptions returns options splitting on the default entity
// parameter with DefaultMaxWorkers workers.
func DefaultParallelOptions() ParallelOptions {
	return ParallelOptions{
		ChunkSize:  1,
		MaxWorkers: DefaultMaxWorkers,
		Now:        time.Now,
	}
}

func (o ParallelOptions) withDefaults() ParallelOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.MaxWorkers > MaxWorkersLimit {
		o.MaxWorkers = MaxWorkersLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ParallelCollection runs the sub-queries of a split plan on a bounded
// worker pool and merges their results in plan order, never completion
// order. Each worker owns its own Collection, so no iteration state is
// shared between goroutines.
type ParallelCollection struct {
	retriever  Retriever
	query      Query
	nonTabular bool
	opts       ParallelOptions
}

// NewParallel returns a parallel collection over q.
func NewParallel(r Retriever, q Query, opts ParallelOptions) *ParallelCollection {
	return newParallel(r, q, !IsTabular(q.Endpoint), opts)
}

func newParallel(r Retriever, q Query, nonTabular bool, opts ParallelOptions) *ParallelCollection {
	return &ParallelCollection{
		retriever:  r,
		query:      q.Clone(),
		nonTabular: nonTabular,
		opts:       opts.withDefaults(),
	}
}

// Plan returns the split plan.
func (p *ParallelCollection) Plan() ([]Split, error) {
	return BuildPlan(p.query, p.opts)
}

func (p *ParallelCollection) collection(s Split) *Collection {
	c := NewCollection(p.retriever, s.Query)
	c.nonTabular = p.nonTabular
	return c
}

// ToList runs every split to completion and concatenates the results in
// plan order. When some splits fail, the records of the successful splits
// are returned together with a *SplitExecutionError naming the failures.
func (p *ParallelCollection) ToList(ctx context.Context) ([]*record.Record, error) {
	plan, err := p.Plan()
	if err != nil {
		return nil, err
	}

	results := make([][]*record.Record, len(plan))
	errs := p.run(ctx, plan, func(ctx context.Context, s Split) error {
		recs, err := p.collection(s).ToList(ctx)
		if err != nil {
			return err
		}
		results[s.Index] = recs
		return nil
	})

	var merged []*record.Record
	for _, recs := range results {
		merged = append(merged, recs...)
	}
	return merged, splitError(plan, errs)
}

// Iterate starts the run and returns an iterator that yields records in
// plan order as soon as each split, and all splits before it, are done.
// Close must be called to release the workers; closing early cancels
// splits that have not started.
func (p *ParallelCollection) Iterate(ctx context.Context) (*MergedIterator, error) {
	plan, err := p.Plan()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	it := &MergedIterator{
		plan:   plan,
		slots:  make([]chan splitOutcome, len(plan)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for i := range it.slots {
		it.slots[i] = make(chan splitOutcome, 1)
	}

	sent := make([]bool, len(plan))
	go func() {
		defer close(it.done)
		errs := p.run(runCtx, plan, func(ctx context.Context, s Split) error {
			recs, err := p.collection(s).ToList(ctx)
			sent[s.Index] = true
			it.slots[s.Index] <- splitOutcome{records: recs, err: err}
			return err
		})
		for i, ok := range sent {
			if !ok {
				it.slots[i] <- splitOutcome{err: errs[i]}
			}
		}
	}()
	return it, nil
}

// ExportToCSV writes the merged result to w as a single CSV.
func (p *ParallelCollection) ExportToCSV(ctx context.Context, w io.Writer, columns ...string) error {
	if p.nonTabular {
		return fmt.Errorf("%w: %s", ErrCSVUnsupported, p.query.Endpoint)
	}
	it, err := p.Iterate(ctx)
	if err != nil {
		return err
	}
	defer it.Close()
	_, err = export.WriteCSV(ctx, w, it, nilIfEmpty(columns))
	return err
}

// ExportToJSON writes the merged result to w as JSON Lines.
func (p *ParallelCollection) ExportToJSON(ctx context.Context, w io.Writer) error {
	it, err := p.Iterate(ctx)
	if err != nil {
		return err
	}
	defer it.Close()
	_, err = export.WriteJSONLines(ctx, w, it)
	return err
}

// ToDataFrame builds one typed frame from the merged result.
func (p *ParallelCollection) ToDataFrame(ctx context.Context, columns ...string) (*export.Frame, error) {
	it, err := p.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return export.ToFrame(ctx, it, nilIfEmpty(columns))
}

// ExportToCSVFiles writes one CSV file per split into dir, streaming each
// split straight to its file. It returns the written paths in plan order.
// The file of a failed split is removed and the failure reported in a
// *SplitExecutionError.
func (p *ParallelCollection) ExportToCSVFiles(ctx context.Context, dir string, columns ...string) ([]string, error) {
	if p.nonTabular {
		return nil, fmt.Errorf("%w: %s", ErrCSVUnsupported, p.query.Endpoint)
	}
	return p.exportFiles(ctx, dir, ".csv", func(ctx context.Context, path string, src export.Source) error {
		_, err := export.WriteCSVFile(ctx, path, src, nilIfEmpty(columns))
		return err
	})
}

// ExportToJSONFiles writes one JSON Lines file per split into dir.
func (p *ParallelCollection) ExportToJSONFiles(ctx context.Context, dir string) ([]string, error) {
	return p.exportFiles(ctx, dir, ".jsonl", func(ctx context.Context, path string, src export.Source) error {
		_, err := export.WriteJSONLinesFile(ctx, path, src)
		return err
	})
}

func (p *ParallelCollection) exportFiles(ctx context.Context, dir, ext string, write func(context.Context, string, export.Source) error) ([]string, error) {
	plan, err := p.Plan()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	names := fileNames(plan, ext)
	written := make([]string, len(plan))
	errs := p.run(ctx, plan, func(ctx context.Context, s Split) error {
		path := filepath.Join(dir, names[s.Index])
		if err := write(ctx, path, p.collection(s)); err != nil {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove partial export file")
			}
			return err
		}
		written[s.Index] = path
		return nil
	})

	var paths []string
	for _, path := range written {
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, splitError(plan, errs)
}

// fileNames assigns each split its file name, suffixing the plan index when
// two splits would collide.
func fileNames(plan []Split, ext string) []string {
	names := make([]string, len(plan))
	count := make(map[string]int, len(plan))
	for i, s := range plan {
		names[i] = s.FileName(ext)
		count[names[i]]++
	}
	for i, s := range plan {
		if count[names[i]] > 1 {
			names[i] = fmt.Sprintf("%s_%d%s", s.FileName(""), s.Index, ext)
		}
	}
	return names
}

// run executes work for every split on a pool of at most MaxWorkers
// goroutines and returns the per-split errors indexed by plan position.
// Once ctx is done, splits that have not started are not executed and
// report ctx.Err().
func (p *ParallelCollection) run(ctx context.Context, plan []Split, work func(context.Context, Split) error) []error {
	start := time.Now()
	logger := log.With().
		Str("run_id", uuid.NewString()).
		Str("endpoint", p.query.Endpoint).
		Logger()

	errs := make([]error, len(plan))
	if len(plan) == 0 {
		return errs
	}

	workers := p.opts.MaxWorkers
	if workers > len(plan) {
		workers = len(plan)
	}

	logger.Info().
		Int("splits", len(plan)).
		Int("workers", workers).
		Msg("Starting parallel run")

	queue := make(chan int, len(plan))
	for i := range plan {
		queue <- i
	}
	close(queue)

	var (
		wg       sync.WaitGroup
		finished atomic.Int64
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go p.worker(ctx, logger, w, plan, queue, errs, work, &wg, &finished)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	parallelRunDuration.Observe(time.Since(start).Seconds())

	event := logger.Info()
	if failed > 0 {
		event = logger.Warn()
	}
	event.
		Int("splits", len(plan)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Parallel run complete")

	return errs
}

// worker processes splits from the queue.
func (p *ParallelCollection) worker(ctx context.Context, logger zerolog.Logger, workerID int, plan []Split, queue <-chan int, errs []error, work func(context.Context, Split) error, wg *sync.WaitGroup, finished *atomic.Int64) {
	defer wg.Done()
	processed := 0

	for i := range queue {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			splitsTotal.WithLabelValues("cancelled").Inc()
			continue
		}

		activeWorkers.Inc()
		err := work(ctx, plan[i])
		activeWorkers.Dec()
		processed++

		if err != nil {
			errs[i] = err
			splitsTotal.WithLabelValues("failed").Inc()
			logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("split", i).
				Str("labels", plan[i].String()).
				Msg("Split failed")
		} else {
			splitsTotal.WithLabelValues("succeeded").Inc()
		}

		if n := finished.Add(1); n%progressEvery == 0 {
			logger.Info().
				Int64("finished", n).
				Int("total", len(plan)).
				Float64("progress_pct", float64(n)/float64(len(plan))*100).
				Msg("Parallel progress")
		}
	}

	if processed > 0 {
		logger.Debug().
			Int("worker_id", workerID).
			Int("splits_processed", processed).
			Msg("Worker completed")
	}
}

func splitError(plan []Split, errs []error) error {
	var failures []SplitFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, SplitFailure{Split: plan[i], Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &SplitExecutionError{
		Failures:  failures,
		Completed: len(plan) - len(failures),
		Total:     len(plan),
	}
}

type splitOutcome struct {
	records []*record.Record
	err     error
}

// MergedIterator yields the records of a parallel run in plan order.
type MergedIterator struct {
	plan   []Split
	slots  []chan splitOutcome
	cancel context.CancelFunc
	done   chan struct{}

	next int
	buf  []*record.Record
	pos  int
	cur  *record.Record
	err  error
}

// Next advances to the next record, waiting for the next split in plan
// order when needed. A failed split stops iteration with a
// *SplitExecutionError naming it and cancels the remaining splits.
func (it *MergedIterator) Next(ctx context.Context) bool {
	for {
		if it.pos < len(it.buf) {
			it.cur = it.buf[it.pos]
			it.buf[it.pos] = nil
			it.pos++
			return true
		}
		it.cur = nil
		it.buf = nil
		it.pos = 0
		if it.err != nil || it.next >= len(it.slots) {
			return false
		}

		select {
		case out := <-it.slots[it.next]:
			s := it.plan[it.next]
			it.next++
			if out.err != nil {
				it.err = &SplitExecutionError{
					Failures:  []SplitFailure{{Split: s, Err: out.err}},
					Completed: it.next - 1,
					Total:     len(it.plan),
				}
				it.cancel()
				return false
			}
			it.buf = out.records
		case <-ctx.Done():
			it.err = ctx.Err()
			it.cancel()
			return false
		}
	}
}

// Record returns the current record.
func (it *MergedIterator) Record() *record.Record { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *MergedIterator) Err() error { return it.err }

// Close cancels outstanding splits and waits for the workers to stop.
func (it *MergedIterator) Close() error {
	it.cancel()
	<-it.done
	return nil
}
