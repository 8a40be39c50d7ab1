package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"coffeechain/pkg/batch"
)

// Recorder journals submissions from a single goroutine so request handlers never wait on
// the database.
type Recorder struct {
	repo    *Repository
	entries chan Entry
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger

	// mu orders enqueues before close(quit) so the final drain sees every accepted entry.
	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the writer goroutine immediately. buffer bounds the pending entries;
// when it is full new entries are dropped and logged.
func NewRecorder(repo *Repository, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		repo:    repo,
		entries: make(chan Entry, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With("component", "journal"),
	}
	go r.loop()
	return r
}

// Record implements batch.Journal.
func (r *Recorder) Record(ctx context.Context, s batch.Submission) {
	e := FromSubmission(s)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.WarnContext(ctx, "journal closed, entry dropped", "op", e.Operation, "tx", e.TxHash)
		return
	}
	select {
	case r.entries <- e:
	default:
		r.logger.WarnContext(ctx, "journal queue full, entry dropped", "op", e.Operation, "tx", e.TxHash)
	}
}

// List returns the newest entries.
func (r *Recorder) List(ctx context.Context, limit int) ([]Entry, error) {
	return r.repo.List(ctx, limit)
}

// loop writes entries sequentially and drains the queue on Close.
func (r *Recorder) loop() {
	defer close(r.done)
	for {
		select {
		case e := <-r.entries:
			r.save(e)
		case <-r.quit:
			for {
				select {
				case e := <-r.entries:
					r.save(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) save(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.repo.Save(ctx, e); err != nil {
		r.logger.Error("journal write failed", "op", e.Operation, "tx", e.TxHash, "error", err)
	}
}

// Close flushes pending entries and stops the writer goroutine.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.quit)
		r.mu.Unlock()
	})
	<-r.done
}
