package flight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/speculative"
)

func sampleRows() []StepRow {
	ts := time.UnixMicro(1_700_000_000_000_000)
	return []StepRow{
		{RequestID: "a", Step: 1, Drafted: 4, Accepted: 4, Emitted: 5, Timestamp: ts},
		{RequestID: "a", Step: 2, Drafted: 4, Accepted: 1, Emitted: 2, Timestamp: ts},
		{RequestID: "b", Step: 1, Drafted: 0, Accepted: 0, Emitted: 1, Fallback: true, Timestamp: ts},
	}
}

func TestBuildRecord_RoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rows := sampleRows()
	rec := BuildRecord(mem, rows)
	defer rec.Release()

	assert.Equal(t, int64(3), rec.NumRows())
	assert.True(t, rec.Schema().Equal(StepSchema))
	assert.Equal(t, rows, ReadRows(rec))
}

func TestBuildRecord_Empty(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := BuildRecord(mem, nil)
	defer rec.Release()
	assert.Zero(t, rec.NumRows())
}

func TestClient_DoPutRequiresConnect(t *testing.T) {
	c := NewClient("localhost:0")
	rec := BuildRecord(memory.NewGoAllocator(), sampleRows())
	defer rec.Release()

	err := c.DoPut(context.Background(), rec)
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.NoError(t, c.Close())
}

type captureSender struct {
	mu   sync.Mutex
	rows [][]StepRow
	err  error
}

func (s *captureSender) DoPut(_ context.Context, rec arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, ReadRows(rec))
	return nil
}

func (s *captureSender) batches() [][]StepRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]StepRow(nil), s.rows...)
}

func TestRecorder_Flush(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sender := &captureSender{}
	r := NewRecorder(sender, WithAllocator(mem))

	r.ObserveStep(speculative.StepEvent{RequestID: "x", Step: 1, Drafted: 4, Accepted: 2, Tokens: []int{1, 2, 3}})
	r.ObserveStep(speculative.StepEvent{RequestID: "x", Step: 2, Drafted: 0, Tokens: []int{4}, Fallback: true})
	assert.Equal(t, 2, r.Pending())

	require.NoError(t, r.Flush(context.Background()))
	assert.Zero(t, r.Pending())

	batches := sender.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, 3, batches[0][0].Emitted)
	assert.Equal(t, 2, batches[0][0].Accepted)
	assert.True(t, batches[0][1].Fallback)

	// Nothing buffered: no send
	require.NoError(t, r.Flush(context.Background()))
	assert.Len(t, sender.batches(), 1)
}

func TestRecorder_FlushErrorDropsRows(t *testing.T) {
	sender := &captureSender{err: errors.New("collector down")}
	r := NewRecorder(sender)
	r.ObserveStep(speculative.StepEvent{RequestID: "x", Step: 1})

	assert.Error(t, r.Flush(context.Background()))
	assert.Zero(t, r.Pending())
}

func TestRecorder_MaxRows(t *testing.T) {
	r := NewRecorder(&captureSender{}, WithMaxRows(2))
	for i := 0; i < 5; i++ {
		r.ObserveStep(speculative.StepEvent{RequestID: "x", Step: i + 1})
	}
	assert.Equal(t, 2, r.Pending())
}

func TestRecorder_RunFlushesOnFinish(t *testing.T) {
	sender := &captureSender{}
	r := NewRecorder(sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Hour)
		close(done)
	}()

	r.ObserveStep(speculative.StepEvent{RequestID: "x", Step: 1, Tokens: []int{1}})
	r.ObserveFinish(engine.Output{RequestID: "x"})

	assert.Eventually(t, func() bool { return len(sender.batches()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Rows observed after the last finish go out on shutdown
	r.ObserveStep(speculative.StepEvent{RequestID: "y", Step: 1, Tokens: []int{1}})
	cancel()
	<-done
	assert.Len(t, sender.batches(), 2)
}

// collector is a minimal Flight server that keeps every step row it is sent.
type collector struct {
	flight.BaseFlightServer

	mu    sync.Mutex
	rows  []StepRow
	paths [][]string
}

func (c *collector) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	for rdr.Next() {
		rows := ReadRows(rdr.Record())
		c.mu.Lock()
		c.rows = append(c.rows, rows...)
		if desc := rdr.LatestFlightDescriptor(); desc != nil {
			c.paths = append(c.paths, desc.Path)
		}
		c.mu.Unlock()
	}
	return rdr.Err()
}

func TestClient_DoPutToCollector(t *testing.T) {
	srv := flight.NewServerWithMiddleware(nil)
	coll := &collector{}
	srv.RegisterFlightService(coll)
	require.NoError(t, srv.Init("localhost:0"))
	go func() { _ = srv.Serve() }()
	defer srv.Shutdown()

	c := NewClient(srv.Addr().String())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	r := NewRecorder(c)
	for _, row := range sampleRows() {
		r.ObserveStep(speculative.StepEvent{
			RequestID: row.RequestID,
			Step:      row.Step,
			Drafted:   row.Drafted,
			Accepted:  row.Accepted,
			Tokens:    make([]int, row.Emitted),
			Fallback:  row.Fallback,
		})
	}
	require.NoError(t, r.Flush(context.Background()))

	coll.mu.Lock()
	defer coll.mu.Unlock()
	require.Len(t, coll.rows, 3)
	assert.Equal(t, "b", coll.rows[2].RequestID)
	assert.True(t, coll.rows[2].Fallback)
	require.NotEmpty(t, coll.paths)
	assert.Equal(t, StepsPath, coll.paths[0])
}
