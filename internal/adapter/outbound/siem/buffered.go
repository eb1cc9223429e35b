// Package siem forwards high and critical severity audit records to
// external SIEM sinks (Splunk HTTP Event Collector, Datadog logs API) over
// HTTPS. No client library for either sink exists anywhere in the
// retrieval pack, so both forwarders are built on stdlib net/http; the
// batching, bounded-queue, and overflow-eviction machinery is grounded on
// service.AuditService's own buffered-channel worker pattern, and delivery
// failures go through a shared-shape sony/gobreaker circuit breaker per
// sink so a sink outage degrades to dropped forwards instead of blocking
// the audit path.
package siem

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apathy-ca/sark/internal/domain/audit"
)

// Forwarder asynchronously ships high/critical severity audit records to a
// SIEM sink. Submit never blocks the caller.
type Forwarder interface {
	Submit(record audit.AuditRecord)
	Start(ctx context.Context)
	Stop()
}

// sendFunc delivers one batch to the sink. Implementations wrap the actual
// HTTP call in the forwarder's circuit breaker.
type sendFunc func(ctx context.Context, batch []audit.AuditRecord) error

// bufferedForwarder implements the batching and backpressure machinery
// shared by every SIEM sink: a bounded queue, batch-size/flush-interval
// triggered delivery, and an overflow policy that evicts the oldest
// non-critical record before ever dropping a critical one.
type bufferedForwarder struct {
	name          string
	send          sendFunc
	batchSize     int
	flushInterval time.Duration
	maxQueue      int
	logger        *slog.Logger

	mu    sync.Mutex
	queue []audit.AuditRecord

	dropped atomic.Int64

	queued chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func newBufferedForwarder(name string, send sendFunc, batchSize int, flushInterval time.Duration, logger *slog.Logger) *bufferedForwarder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	return &bufferedForwarder{
		name:          name,
		send:          send,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxQueue:      batchSize * 10,
		logger:        logger,
		queued:        make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Submit queues the record for the next batch. Low/medium severity
// records are ignored; only high and critical ones ever reach the sink.
func (f *bufferedForwarder) Submit(record audit.AuditRecord) {
	if record.Severity != audit.SeverityHigh && record.Severity != audit.SeverityCritical {
		return
	}

	f.mu.Lock()
	if len(f.queue) >= f.maxQueue {
		if !f.evictOldestNonCriticalLocked() {
			f.mu.Unlock()
			f.dropped.Add(1)
			f.logger.Warn("siem forwarder queue full of critical events, dropping", "forwarder", f.name)
			return
		}
	}
	f.queue = append(f.queue, record)
	full := len(f.queue) >= f.batchSize
	f.mu.Unlock()

	if full {
		select {
		case f.queued <- struct{}{}:
		default:
		}
	}
}

// evictOldestNonCriticalLocked drops the oldest non-critical record to make
// room for a newer one. Returns false if every queued record is critical,
// in which case the caller drops the incoming record instead.
func (f *bufferedForwarder) evictOldestNonCriticalLocked() bool {
	for i, rec := range f.queue {
		if rec.Severity != audit.SeverityCritical {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Dropped returns the number of records discarded because the queue was
// full of undroppable (critical) entries.
func (f *bufferedForwarder) Dropped() int64 {
	return f.dropped.Load()
}

func (f *bufferedForwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.worker(ctx)
}

func (f *bufferedForwarder) worker(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.queued:
			f.flush(ctx)
		case <-ticker.C:
			f.flush(ctx)
		case <-ctx.Done():
			f.flush(context.Background())
			return
		case <-f.done:
			f.flush(context.Background())
			return
		}
	}
}

func (f *bufferedForwarder) flush(ctx context.Context) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		return
	}
	batch := f.queue
	f.queue = nil
	f.mu.Unlock()

	for len(batch) > 0 {
		n := f.batchSize
		if n > len(batch) {
			n = len(batch)
		}
		chunk := batch[:n]
		batch = batch[n:]

		if err := f.send(ctx, chunk); err != nil {
			f.logger.Error("siem forward failed",
				"forwarder", f.name, "count", len(chunk), "error", err)
		}
	}
}

func (f *bufferedForwarder) Stop() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	f.wg.Wait()
}
