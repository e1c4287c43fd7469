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
	"runtime"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

// GoParquetWriterConfig configures a GoParquetTableWriter.
type GoParquetWriterConfig struct {
	// RowGroupLength is the target number of rows per row group, enforced
	// by the underlying writer as a per-group ceiling. Defaults to
	// DefaultRowGroupLength.
	RowGroupLength int64

	// AutoflushRows triggers a flush from Buffer once this many rows are
	// buffered. Defaults to 90% of RowGroupLength so rows appended between
	// Buffer calls do not overshoot the target group size.
	AutoflushRows int

	// AutoflushBytes, when positive, triggers a flush from Buffer once the
	// buffered rows reach this estimated size.
	AutoflushBytes int64

	// Stats optionally collects per-file statistics, surfaced through
	// Result.Metadata. A fresh accumulator is created for every physical
	// file, including rollover successors.
	Stats StatsProvider
}

// Validate checks that the configuration is valid.
func (c *GoParquetWriterConfig) Validate() error {
	if c.RowGroupLength < 0 {
		return &ConfigError{Field: "RowGroupLength", Message: "cannot be negative"}
	}
	if c.AutoflushRows < 0 {
		return &ConfigError{Field: "AutoflushRows", Message: "cannot be negative"}
	}
	if c.AutoflushBytes < 0 {
		return &ConfigError{Field: "AutoflushBytes", Message: "cannot be negative"}
	}
	return nil
}

// RowBuffer stages map rows for a GoParquetTableWriter until the next
// flush.
type RowBuffer struct {
	rows []map[string]any
	size int64
}

// Append buffers one row.
func (b *RowBuffer) Append(row map[string]any) {
	b.rows = append(b.rows, row)
	b.size += estimateRowSize(row)
}

// Len is the number of buffered rows.
func (b *RowBuffer) Len() int { return len(b.rows) }

// Size is the estimated byte size of the buffered rows.
func (b *RowBuffer) Size() int64 { return b.size }

// take hands over the buffered rows and resets the buffer.
func (b *RowBuffer) take() []map[string]any {
	rows := b.rows
	b.rows = nil
	b.size = 0
	return rows
}

// estimateRowSize approximates the in-memory size of one row. Exact
// accounting is not worth the cost here; the estimate only drives the
// byte-size flush threshold.
func estimateRowSize(row map[string]any) int64 {
	size := int64(0)
	for key, value := range row {
		size += int64(len(key)) + 16
		switch v := value.(type) {
		case string:
			size += int64(len(v))
		case []byte:
			size += int64(len(v))
		case bool:
			size++
		case nil:
		default:
			size += 8
		}
	}
	return size
}

// GoParquetTableWriter writes map rows to one logical .parquet output using
// parquet-go. Every flush cuts one row group; when a physical file reaches
// the format's row-group ceiling the writer transparently rolls over to a
// new file named <base>_<n>.parquet.
type GoParquetTableWriter struct {
	st      *goParquetState
	cleanup runtime.Cleanup
}

var _ TableWriter[[]Result] = (*GoParquetTableWriter)(nil)

type goParquetState struct {
	basePath string
	schema   *parquet.Schema
	cfg      GoParquetWriterConfig
	buffer   RowBuffer

	autoflushRows  int
	autoflushBytes int64
	rowGroupLength int64
	maxRowGroups   int

	fw        *parquet.GenericWriter[map[string]any]
	file      *os.File
	path      string
	rowGroups int
	fileRows  int64
	rolled    int
	stats     StatsAccumulator

	results []Result
	closed  bool
}

// NewGoParquetTableWriter opens <path>.parquet for writing rows shaped by
// schema.
func NewGoParquetTableWriter(path string, schema *parquet.Schema, cfg GoParquetWriterConfig) (*GoParquetTableWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rowGroupLength := cfg.RowGroupLength
	if rowGroupLength == 0 {
		rowGroupLength = DefaultRowGroupLength
	}
	st := &goParquetState{
		basePath:       path,
		schema:         schema,
		cfg:            cfg,
		autoflushRows:  autoflushRows(cfg.AutoflushRows, rowGroupLength),
		autoflushBytes: cfg.AutoflushBytes,
		rowGroupLength: rowGroupLength,
		maxRowGroups:   maxRowGroupsPerFile,
	}
	if err := st.openNextFile(); err != nil {
		return nil, err
	}
	w := &GoParquetTableWriter{st: st}
	w.cleanup = runtime.AddCleanup(w, finalizeAbandoned, abandonedCloser(st))
	return w, nil
}

// Buffer returns the row buffer, flushing first if the buffered row count
// or estimated byte size has reached its threshold, so the buffer handed
// back always starts under threshold.
func (w *GoParquetTableWriter) Buffer() (*RowBuffer, error) {
	st := w.st
	if st.closed {
		return nil, ErrWriterClosed
	}
	if st.buffer.Len() >= st.autoflushRows {
		if err := st.flush(); err != nil {
			return nil, err
		}
	}
	if st.autoflushBytes > 0 && st.buffer.Size() >= st.autoflushBytes {
		if err := st.flush(); err != nil {
			return nil, err
		}
	}
	return &st.buffer, nil
}

// Flush serializes all buffered rows as one row group and clears the
// buffer.
func (w *GoParquetTableWriter) Flush() error {
	if w.st.closed {
		return ErrWriterClosed
	}
	return w.st.flush()
}

// Close performs a final flush, finalizes the current physical file, and
// returns one Result per physical file written under this logical identity.
func (w *GoParquetTableWriter) Close() ([]Result, error) {
	st := w.st
	if st.closed {
		return nil, ErrWriterClosed
	}
	st.closed = true
	w.cleanup.Stop()
	if err := st.flush(); err != nil {
		return st.results, err
	}
	if err := st.finishFile(); err != nil {
		return st.results, err
	}
	return st.results, nil
}

func (st *goParquetState) openNextFile() error {
	path := st.basePath
	if st.rolled > 0 {
		path += "_" + strconv.Itoa(st.rolled)
	}
	path += ".parquet"

	f, err := os.Create(path)
	if err != nil {
		return &CreationError{Path: path, Err: err}
	}
	st.fw = parquet.NewGenericWriter[map[string]any](f, st.schema,
		parquet.Compression(&parquet.Zstd),
		parquet.MaxRowsPerRowGroup(st.rowGroupLength),
	)
	st.file = f
	st.path = path
	st.rowGroups = 0
	st.fileRows = 0
	if st.cfg.Stats != nil {
		st.stats = st.cfg.Stats.NewAccumulator()
	}
	return nil
}

func (st *goParquetState) flush() error {
	rows := st.buffer.take()
	if len(rows) == 0 {
		return nil
	}
	if st.stats != nil {
		for _, row := range rows {
			st.stats.Add(row)
		}
	}
	if _, err := st.fw.Write(rows); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	if err := st.fw.Flush(); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	st.rowGroups++
	st.fileRows += int64(len(rows))
	if st.rowGroups >= st.maxRowGroups {
		if err := st.finishFile(); err != nil {
			return err
		}
		st.rolled++
		return st.openNextFile()
	}
	return nil
}

func (st *goParquetState) finishFile() error {
	if st.fw == nil {
		return nil
	}
	fw, f := st.fw, st.file
	st.fw = nil
	st.file = nil
	if err := fw.Close(); err != nil {
		_ = f.Close()
		return &FlushError{Path: st.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	size := int64(-1)
	if info, err := os.Stat(st.path); err == nil {
		size = info.Size()
	}
	var metadata any
	if st.stats != nil {
		metadata = st.stats.Finalize()
		st.stats = nil
	}
	st.results = append(st.results, Result{
		FileName:    st.path,
		RecordCount: st.fileRows,
		FileSize:    size,
		Metadata:    metadata,
	})
	return nil
}

func (st *goParquetState) closeAbandoned() (string, error) {
	if st.closed {
		return "", nil
	}
	st.closed = true
	if err := st.flush(); err != nil {
		return st.path, err
	}
	return st.path, st.finishFile()
}
