package flight

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/logger"
	"github.com/23skdu/longbow-eagle/internal/metrics"
	"github.com/23skdu/longbow-eagle/internal/speculative"
)

// Sender delivers one record. *Client implements it.
type Sender interface {
	DoPut(ctx context.Context, rec arrow.Record) error
}

const defaultMaxRows = 1 << 16

// Recorder buffers step events and ships them as Arrow records. It
// implements engine.Observer; finished requests trigger a flush on the Run
// loop so the request goroutine never waits on the network.
type Recorder struct {
	sender  Sender
	mem     memory.Allocator
	maxRows int

	mu      sync.Mutex
	rows    []StepRow
	dropped int

	flush chan struct{}
}

type RecorderOption func(*Recorder)

func WithAllocator(mem memory.Allocator) RecorderOption {
	return func(r *Recorder) { r.mem = mem }
}

// WithMaxRows bounds the buffer; rows beyond it are dropped until a flush.
func WithMaxRows(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.maxRows = n
		}
	}
}

func NewRecorder(sender Sender, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sender:  sender,
		mem:     memory.NewGoAllocator(),
		maxRows: defaultMaxRows,
		flush:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) ObserveStep(ev speculative.StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.rows) >= r.maxRows {
		r.dropped++
		return
	}
	r.rows = append(r.rows, StepRow{
		RequestID: ev.RequestID,
		Step:      ev.Step,
		Drafted:   ev.Drafted,
		Accepted:  ev.Accepted,
		Emitted:   len(ev.Tokens),
		Fallback:  ev.Fallback,
		Timestamp: time.Now(),
	})
}

func (r *Recorder) ObserveFinish(engine.Output) {
	select {
	case r.flush <- struct{}{}:
	default:
	}
}

// Pending returns the number of buffered rows.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Flush ships all buffered rows as one record. Rows are dropped if the
// send fails.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	rows := r.rows
	r.rows = nil
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	if dropped > 0 {
		logger.Log.Warn("step buffer overflowed", "dropped", dropped)
	}
	if len(rows) == 0 {
		return nil
	}

	rec := BuildRecord(r.mem, rows)
	defer rec.Release()

	err := r.sender.DoPut(ctx, rec)
	metrics.RecordExport(len(rows), err)
	if err != nil {
		logger.Log.Error("Failed to export step records", "rows", len(rows), "error", err)
		return err
	}
	logger.Log.Debug("exported step records", "rows", len(rows))
	return nil
}

// Run flushes after finished requests and every interval until ctx is done,
// then makes a final flush.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = r.Flush(context.WithoutCancel(ctx))
			return
		case <-r.flush:
			_ = r.Flush(ctx)
		case <-ticker.C:
			_ = r.Flush(ctx)
		}
	}
}
