package feed

import (
	"context"
	"hash/fnv"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/index"
	"github.com/Aman-CERP/attachview/internal/store"
)

// DefaultBufferSize is the per-worker queue length.
const DefaultBufferSize = 64

// Result is the outcome of one change.
type Result struct {
	Seq        int64
	DocumentID string
	Line       int
	Deleted    bool
	Delta      *store.Delta
	Err        error
}

// Summary aggregates a Run.
type Summary struct {
	Changes     int
	Upserts     int
	Deletes     int
	RowsAdded   int
	RowsRemoved int
	Failed      int
	LastSeq     int64
	Duration    time.Duration
}

// Processor applies a change feed through a Maintainer with a pool of
// workers. Changes are partitioned by document id hash, so all changes for
// one id are applied by the same worker in feed order.
type Processor struct {
	maintainer  *index.Maintainer
	workers     int
	bufferSize  int
	stopOnError bool
	onResult    func(Result)
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the number of workers (default runtime.NumCPU()).
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBufferSize sets the per-worker queue length.
func WithBufferSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// WithStopOnError makes the first failed change abort the run.
// By default failures are logged, counted and skipped.
func WithStopOnError(stop bool) Option {
	return func(p *Processor) {
		p.stopOnError = stop
	}
}

// WithResultHandler registers fn to receive every Result.
// Calls are serialized.
func WithResultHandler(fn func(Result)) Option {
	return func(p *Processor) {
		p.onResult = fn
	}
}

// NewProcessor creates a processor driving m.
func NewProcessor(m *index.Maintainer, opts ...Option) *Processor {
	p := &Processor{
		maintainer: m,
		workers:    runtime.NumCPU(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// partition maps a document id to a worker.
func partition(id string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(workers))
}

// Run reads dec to the end (or until ctx is done) and applies every change.
// It returns the first error only when stop-on-error is set or the feed
// cannot be read; per-change failures are otherwise reported through the
// result handler and Summary.Failed.
func (p *Processor) Run(ctx context.Context, dec *Decoder) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}
	var mu sync.Mutex

	record := func(r Result) error {
		mu.Lock()
		defer mu.Unlock()

		summary.Changes++
		if r.Seq > summary.LastSeq {
			summary.LastSeq = r.Seq
		}
		if r.Err != nil {
			summary.Failed++
			attrs := append([]slog.Attr{
				slog.String("document_id", r.DocumentID),
				slog.Int("line", r.Line),
			}, verrors.LogAttrs(r.Err)...)
			slog.LogAttrs(ctx, slog.LevelWarn, "failed to apply change", attrs...)
		} else {
			if r.Deleted {
				summary.Deletes++
			} else {
				summary.Upserts++
			}
			summary.RowsAdded += len(r.Delta.Add)
			summary.RowsRemoved += len(r.Delta.Remove)
		}
		if p.onResult != nil {
			p.onResult(r)
		}
		if r.Err != nil && p.stopOnError {
			return r.Err
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	queues := make([]chan *Change, p.workers)
	for i := range queues {
		queues[i] = make(chan *Change, p.bufferSize)
	}

	for i := range queues {
		queue := queues[i]
		g.Go(func() error {
			for change := range queue {
				if gctx.Err() != nil {
					// drain so the producer never blocks
					continue
				}
				if err := record(p.apply(gctx, change)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()

		for change, err := range dec.All() {
			if err != nil {
				if dec.scanner.Err() != nil {
					// the reader failed; nothing more can be decoded
					return err
				}
				if rerr := record(Result{Err: err, Line: dec.line}); rerr != nil {
					return rerr
				}
				continue
			}

			select {
			case queues[partition(change.ID, p.workers)] <- change:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	summary.Duration = time.Since(start)

	slog.Info("feed_applied",
		slog.Int("changes", summary.Changes),
		slog.Int("upserts", summary.Upserts),
		slog.Int("deletes", summary.Deletes),
		slog.Int("rows_added", summary.RowsAdded),
		slog.Int("rows_removed", summary.RowsRemoved),
		slog.Int("failed", summary.Failed),
		slog.Int64("last_seq", summary.LastSeq),
		slog.Duration("duration", summary.Duration))

	return summary, err
}

func (p *Processor) apply(ctx context.Context, change *Change) Result {
	result := Result{Seq: change.Seq, DocumentID: change.ID, Line: change.Line, Deleted: change.Deleted}

	doc, err := change.Document()
	if err != nil {
		result.Err = err
		return result
	}
	result.Deleted = doc.Deleted

	result.Delta, result.Err = p.maintainer.Upsert(ctx, doc)
	if result.Err == nil {
		slog.Debug("change_applied",
			slog.String("document_id", change.ID),
			slog.Int64("seq", change.Seq),
			slog.Int("added", len(result.Delta.Add)),
			slog.Int("removed", len(result.Delta.Remove)))
	}
	return result
}
