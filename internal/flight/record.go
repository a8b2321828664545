// Package flight ships per-step speculative decoding statistics to an Arrow
// Flight collector.
package flight

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// StepRow is one controller step.
type StepRow struct {
	RequestID string
	Step      int
	Drafted   int
	Accepted  int
	Emitted   int
	Fallback  bool
	Timestamp time.Time
}

// StepSchema is the schema of exported step records.
var StepSchema = arrow.NewSchema([]arrow.Field{
	{Name: "request_id", Type: arrow.BinaryTypes.String},
	{Name: "step", Type: arrow.PrimitiveTypes.Int32},
	{Name: "drafted", Type: arrow.PrimitiveTypes.Int32},
	{Name: "accepted", Type: arrow.PrimitiveTypes.Int32},
	{Name: "emitted", Type: arrow.PrimitiveTypes.Int32},
	{Name: "fallback", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "timestamp_us", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// BuildRecord converts rows into a record. The caller releases it.
func BuildRecord(mem memory.Allocator, rows []StepRow) arrow.Record {
	b := array.NewRecordBuilder(mem, StepSchema)
	defer b.Release()

	ids := b.Field(0).(*array.StringBuilder)
	steps := b.Field(1).(*array.Int32Builder)
	drafted := b.Field(2).(*array.Int32Builder)
	accepted := b.Field(3).(*array.Int32Builder)
	emitted := b.Field(4).(*array.Int32Builder)
	fallback := b.Field(5).(*array.BooleanBuilder)
	ts := b.Field(6).(*array.Int64Builder)

	b.Reserve(len(rows))
	for _, r := range rows {
		ids.Append(r.RequestID)
		steps.Append(int32(r.Step))
		drafted.Append(int32(r.Drafted))
		accepted.Append(int32(r.Accepted))
		emitted.Append(int32(r.Emitted))
		fallback.Append(r.Fallback)
		ts.Append(r.Timestamp.UnixMicro())
	}
	return b.NewRecord()
}

// ReadRows converts a step record back into rows.
func ReadRows(rec arrow.Record) []StepRow {
	n := int(rec.NumRows())
	ids := rec.Column(0).(*array.String)
	steps := rec.Column(1).(*array.Int32)
	drafted := rec.Column(2).(*array.Int32)
	accepted := rec.Column(3).(*array.Int32)
	emitted := rec.Column(4).(*array.Int32)
	fallback := rec.Column(5).(*array.Boolean)
	ts := rec.Column(6).(*array.Int64)

	rows := make([]StepRow, n)
	for i := 0; i < n; i++ {
		rows[i] = StepRow{
			RequestID: ids.Value(i),
			Step:      int(steps.Value(i)),
			Drafted:   int(drafted.Value(i)),
			Accepted:  int(accepted.Value(i)),
			Emitted:   int(emitted.Value(i)),
			Fallback:  fallback.Value(i),
			Timestamp: time.UnixMicro(ts.Value(i)),
		}
	}
	return rows
}
