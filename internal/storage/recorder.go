package storage

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/collector"
)

// Recorder is a collector.Listener that buffers samples and writes them in
// batches, so listeners never wait on the database.
type Recorder struct {
	db        *DB
	log       *slog.Logger
	batchSize int

	mu      sync.Mutex
	buffer  []collector.Sample
	shares  []collector.AppShare
	kick    chan struct{}
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewRecorder starts a recorder that flushes every interval, or sooner once
// batchSize samples are waiting.
func NewRecorder(db *DB, batchSize int, interval time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	r := &Recorder{
		db:        db,
		log:       logger,
		batchSize: batchSize,
		buffer:    make([]collector.Sample, 0, batchSize),
		kick:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.flusher(interval)
	return r
}

// OnMeasurementReceived queues s for the next flush.
func (r *Recorder) OnMeasurementReceived(s collector.Sample) {
	r.mu.Lock()
	r.buffer = append(r.buffer, s)
	full := len(r.buffer) >= r.batchSize
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// ShareSink returns a collector.ShareSink that queues process shares for the
// next flush alongside the samples.
func (r *Recorder) ShareSink() collector.ShareSink {
	return func(shares []collector.AppShare) {
		r.mu.Lock()
		r.shares = append(r.shares, shares...)
		r.mu.Unlock()
	}
}

// Flush writes any buffered samples and shares now.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	batch := r.buffer
	shares := r.shares
	r.buffer = make([]collector.Sample, 0, r.batchSize)
	r.shares = nil
	r.mu.Unlock()

	if len(batch) == 0 && len(shares) == 0 {
		return nil
	}
	var errs []error
	if err := r.db.InsertSamples(batch); err != nil {
		errs = append(errs, err)
	}
	if err := r.db.InsertProcessShares(shares); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.log.Debug("samples flushed", "samples", len(batch), "shares", len(shares))
	return nil
}

// Close performs a final flush and stops the background writer.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.closing) })
	<-r.done
}

func (r *Recorder) flusher(interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-r.kick:
		case <-r.closing:
			if err := r.Flush(); err != nil {
				r.log.Error("final flush failed", "err", err)
			}
			return
		}
		if err := r.Flush(); err != nil {
			r.log.Error("flush failed", "err", err)
		}
	}
}
