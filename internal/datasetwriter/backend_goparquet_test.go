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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEventSchema() *parquet.Schema {
	return parquet.NewSchema("events", parquet.Group{
		"id":      parquet.Optional(parquet.Int(64)),
		"message": parquet.Optional(parquet.String()),
	})
}

func newTestGoParquetWriter(t *testing.T, cfg GoParquetWriterConfig) *GoParquetTableWriter {
	t.Helper()
	w, err := NewGoParquetTableWriter(filepath.Join(t.TempDir(), "events"), mapEventSchema(), cfg)
	require.NoError(t, err)
	return w
}

// readGoParquetLayout returns the row-group count and total row count of a
// parquet file.
func readGoParquetLayout(t *testing.T, path string) (groups int, rows int64) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	info, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, info.Size())
	require.NoError(t, err)
	return len(pf.RowGroups()), pf.NumRows()
}

func eventRow(i int64, message string) map[string]any {
	return map[string]any{"id": i, "message": message}
}

func TestGoParquetTableWriterFlushCutsOneRowGroup(t *testing.T) {
	w := newTestGoParquetWriter(t, GoParquetWriterConfig{RowGroupLength: 1000})

	for _, n := range []int{10, 5} {
		buf, err := w.Buffer()
		require.NoError(t, err)
		for i := range n {
			buf.Append(eventRow(int64(i), "payload"))
		}
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Flush())

	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(15), results[0].RecordCount)

	groups, rows := readGoParquetLayout(t, results[0].FileName)
	assert.Equal(t, 2, groups)
	assert.Equal(t, int64(15), rows)
}

func TestGoParquetTableWriterAutoflushRows(t *testing.T) {
	w := newTestGoParquetWriter(t, GoParquetWriterConfig{RowGroupLength: 100, AutoflushRows: 10})

	buf, err := w.Buffer()
	require.NoError(t, err)
	for i := range 10 {
		buf.Append(eventRow(int64(i), "row"))
	}

	buf, err = w.Buffer()
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Len())

	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 1)

	groups, rows := readGoParquetLayout(t, results[0].FileName)
	assert.Equal(t, 1, groups)
	assert.Equal(t, int64(10), rows)
}

func TestGoParquetTableWriterAutoflushBytes(t *testing.T) {
	w := newTestGoParquetWriter(t, GoParquetWriterConfig{
		RowGroupLength: 100,
		AutoflushRows:  1000,
		AutoflushBytes: 64,
	})

	buf, err := w.Buffer()
	require.NoError(t, err)
	buf.Append(eventRow(1, strings.Repeat("x", 128)))
	assert.GreaterOrEqual(t, buf.Size(), int64(64))

	buf, err = w.Buffer()
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, int64(0), buf.Size())

	_, err = w.Close()
	require.NoError(t, err)
}

func TestGoParquetTableWriterRollsOverAtRowGroupCeiling(t *testing.T) {
	w := newTestGoParquetWriter(t, GoParquetWriterConfig{RowGroupLength: 100, AutoflushRows: 50})
	w.st.maxRowGroups = 2

	for flush := range 3 {
		buf, err := w.Buffer()
		require.NoError(t, err)
		buf.Append(eventRow(int64(flush), "row"))
		require.NoError(t, w.Flush())
	}

	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, strings.HasSuffix(results[0].FileName, "events.parquet"))
	assert.True(t, strings.HasSuffix(results[1].FileName, "events_1.parquet"))
	assert.Equal(t, int64(2), results[0].RecordCount)
	assert.Equal(t, int64(1), results[1].RecordCount)

	groups, _ := readGoParquetLayout(t, results[0].FileName)
	assert.Equal(t, 2, groups)
	groups, _ = readGoParquetLayout(t, results[1].FileName)
	assert.Equal(t, 1, groups)
}

func TestGoParquetTableWriterStats(t *testing.T) {
	w := newTestGoParquetWriter(t, GoParquetWriterConfig{Stats: rowCountStats{}})

	buf, err := w.Buffer()
	require.NoError(t, err)
	for i := range 7 {
		buf.Append(eventRow(int64(i), "row"))
	}

	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(7), results[0].Metadata)
}

func TestGoParquetTableWriterSpentAfterClose(t *testing.T) {
	w := newTestGoParquetWriter(t, GoParquetWriterConfig{})

	_, err := w.Close()
	require.NoError(t, err)

	_, err = w.Buffer()
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.ErrorIs(t, w.Flush(), ErrWriterClosed)
	_, err = w.Close()
	assert.ErrorIs(t, err, ErrWriterClosed)
}
