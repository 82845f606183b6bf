package matching

import (
	"context"

	"github.com/bkohler93/peermatch/internal/shared/transport"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

const workerQueueDepth = 16

// WorkerPool fans records out to a fixed set of workers by hashing the
// record key, so every record of a key is handled by the same worker in
// arrival order while other keys proceed in parallel.
type WorkerPool struct {
	workers int
	handle  func(ctx context.Context, rec transport.Record)
}

func NewWorkerPool(workers int, handle func(ctx context.Context, rec transport.Record)) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{workers: workers, handle: handle}
}

func partition(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Run dispatches until recCh closes or ctx is done, then waits for the
// workers to finish the record they are on.
func (p *WorkerPool) Run(ctx context.Context, recCh <-chan transport.Record) error {
	eg, gCtx := errgroup.WithContext(ctx)

	queues := make([]chan transport.Record, p.workers)
	for i := range queues {
		q := make(chan transport.Record, workerQueueDepth)
		queues[i] = q
		eg.Go(func() error {
			for rec := range q {
				if gCtx.Err() != nil {
					continue
				}
				p.handle(gCtx, rec)
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case rec, ok := <-recCh:
				if !ok {
					return nil
				}
				select {
				case queues[partition(rec.Key, p.workers)] <- rec:
				case <-gCtx.Done():
					return nil
				}
			}
		}
	})

	return eg.Wait()
}
