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

package cmd

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// exportSchema is the shape of the synthetic rows the export command
// generates.
func exportSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "worker", Type: arrow.PrimitiveTypes.Int64},
		{Name: "message", Type: arrow.BinaryTypes.String},
	}, nil)
}

// exportBuilder stages synthetic rows for the Arrow-based backends.
type exportBuilder struct {
	schema  *arrow.Schema
	ids     *array.Int64Builder
	workers *array.Int64Builder
	msgs    *array.StringBuilder
	bytes   int64
}

func newExportBuilder(schema *arrow.Schema) *exportBuilder {
	mem := memory.DefaultAllocator
	return &exportBuilder{
		schema:  schema,
		ids:     array.NewInt64Builder(mem),
		workers: array.NewInt64Builder(mem),
		msgs:    array.NewStringBuilder(mem),
	}
}

func (b *exportBuilder) Append(id, worker int64, message string) {
	b.ids.Append(id)
	b.workers.Append(worker)
	b.msgs.Append(message)
	b.bytes += 16 + int64(len(message))
}

func (b *exportBuilder) Len() int { return b.ids.Len() }

func (b *exportBuilder) Size() int64 { return b.bytes }

func (b *exportBuilder) NewRecordBatch() (arrow.RecordBatch, error) {
	ids := b.ids.NewArray()
	workers := b.workers.NewArray()
	msgs := b.msgs.NewArray()
	rows := int64(ids.Len())
	rec := array.NewRecordBatch(b.schema, []arrow.Array{ids, workers, msgs}, rows)
	ids.Release()
	workers.Release()
	msgs.Release()
	b.bytes = 0
	return rec, nil
}
