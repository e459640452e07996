package ledger

import (
	"context"
	"sync"
	"time"

	log "github.com/pborenstein/apantli/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultQueueSize     = 1000
)

// writeQueue is the single-writer discipline shared by both backends: a
// buffered channel drained by one goroutine into batched transactions,
// with a flush ticker and optional retention cleanup. Enqueue never
// blocks the request path; a full queue drops the record with a
// diagnostic instead.
type writeQueue struct {
	records       chan Record
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	retentionDays int

	writeBatch func(ctx context.Context, batch []Record) error
	cleanup    func(ctx context.Context, before time.Time) (int64, error)
}

func newWriteQueue(cfg Config,
	writeBatch func(ctx context.Context, batch []Record) error,
	cleanup func(ctx context.Context, before time.Time) (int64, error),
) *writeQueue {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &writeQueue{
		records:       make(chan Record, defaultQueueSize),
		flushTicker:   time.NewTicker(flushInterval),
		cleanupTicker: time.NewTicker(24 * time.Hour),
		stopCh:        make(chan struct{}),
		batchSize:     batchSize,
		retentionDays: cfg.RetentionDays,
		writeBatch:    writeBatch,
		cleanup:       cleanup,
	}
}

func (q *writeQueue) start() {
	q.wg.Add(2)
	go q.writeLoop()
	go q.cleanupLoop()
}

func (q *writeQueue) stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.flushTicker.Stop()
		q.cleanupTicker.Stop()
		q.wg.Wait()
	})
}

// enqueue queues one record without blocking.
func (q *writeQueue) enqueue(rec Record) {
	rec.normalize()
	select {
	case q.records <- rec:
	default:
		log.Warnf("ledger: write queue full, dropping record for %s/%s", rec.Provider, rec.Model)
	}
}

// flush drains the queue synchronously.
func (q *writeQueue) flush(ctx context.Context) error {
	batch := make([]Record, 0, q.batchSize)
	for {
		select {
		case rec := <-q.records:
			batch = append(batch, rec)
			if len(batch) >= q.batchSize {
				if err := q.writeBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				return q.writeBatch(ctx, batch)
			}
			return nil
		}
	}
}

func (q *writeQueue) writeLoop() {
	defer q.wg.Done()

	batch := make([]Record, 0, q.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := q.writeBatch(ctx, batch); err != nil {
			log.Errorf("ledger: failed to write batch of %d record(s): %v", len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-q.records:
			batch = append(batch, rec)
			if len(batch) >= q.batchSize {
				flush()
			}
		case <-q.flushTicker.C:
			flush()
		case <-q.stopCh:
			for {
				select {
				case rec := <-q.records:
					batch = append(batch, rec)
					if len(batch) >= q.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (q *writeQueue) cleanupLoop() {
	defer q.wg.Done()
	if q.retentionDays <= 0 {
		return
	}
	for {
		select {
		case <-q.cleanupTicker.C:
			cutoff := time.Now().AddDate(0, 0, -q.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			deleted, err := q.cleanup(ctx, cutoff)
			cancel()
			if err != nil {
				log.Errorf("ledger: retention cleanup failed: %v", err)
			} else if deleted > 0 {
				log.Infof("ledger: removed %d record(s) older than %d days", deleted, q.retentionDays)
			}
		case <-q.stopCh:
			return
		}
	}
}
