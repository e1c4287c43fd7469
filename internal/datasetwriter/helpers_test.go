// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package datasetwriter

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// eventSchema is the two-column schema used by the Arrow-based backend
// tests.
func eventSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "message", Type: arrow.BinaryTypes.String},
	}, nil)
}

// eventBuilder is a RowBuilder staging rows for eventSchema.
type eventBuilder struct {
	schema *arrow.Schema
	ids    *array.Int64Builder
	msgs   *array.StringBuilder
	bytes  int64
}

func newEventBuilder(schema *arrow.Schema) *eventBuilder {
	mem := memory.DefaultAllocator
	return &eventBuilder{
		schema: schema,
		ids:    array.NewInt64Builder(mem),
		msgs:   array.NewStringBuilder(mem),
	}
}

func (b *eventBuilder) Append(id int64, message string) {
	b.ids.Append(id)
	b.msgs.Append(message)
	b.bytes += 8 + int64(len(message))
}

func (b *eventBuilder) Len() int { return b.ids.Len() }

func (b *eventBuilder) Size() int64 { return b.bytes }

func (b *eventBuilder) NewRecordBatch() (arrow.RecordBatch, error) {
	ids := b.ids.NewArray()
	msgs := b.msgs.NewArray()
	rows := int64(ids.Len())
	rec := array.NewRecordBatch(b.schema, []arrow.Array{ids, msgs}, rows)
	ids.Release()
	msgs.Release()
	b.bytes = 0
	return rec, nil
}

// fakeWriter is a TableWriter[string] whose Close result is the path it was
// opened with. Flush and close failures are injectable per instance.
type fakeWriter struct {
	path     string
	flushErr error
	closeErr error
	flushes  int
	closed   bool
}

func (f *fakeWriter) Flush() error {
	f.flushes++
	return f.flushErr
}

func (f *fakeWriter) Close() (string, error) {
	if f.closed {
		return "", ErrWriterClosed
	}
	f.closed = true
	if f.closeErr != nil {
		return "", f.closeErr
	}
	return f.path, nil
}

// rowCountStats counts the rows added to each file and finalizes to that
// count.
type rowCountStats struct{}

func (rowCountStats) NewAccumulator() StatsAccumulator { return &rowCountAccumulator{} }

type rowCountAccumulator struct {
	rows int64
}

func (a *rowCountAccumulator) Add(map[string]any) { a.rows++ }

func (a *rowCountAccumulator) Finalize() any { return a.rows }
