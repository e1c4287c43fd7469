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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ParquetWriterConfig configures a ParquetTableWriter.
type ParquetWriterConfig struct {
	// RowGroupLength is the target number of rows per row group, enforced
	// by the underlying writer as a per-group ceiling. Defaults to
	// DefaultRowGroupLength.
	RowGroupLength int64

	// AutoflushRows triggers a flush from Builder once this many rows are
	// buffered. Defaults to 90% of RowGroupLength so rows appended between
	// Builder calls do not overshoot the target group size.
	AutoflushRows int

	// AutoflushBytes, when positive, triggers a flush from Builder once the
	// buffered builders reach this size.
	AutoflushBytes int64

	// CompressionLevel is the zstd level for column chunks. Defaults to
	// DefaultCompressionLevel.
	CompressionLevel int
}

// Validate checks that the configuration is valid.
func (c *ParquetWriterConfig) Validate() error {
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

// ParquetTableWriter writes Arrow record batches to one logical .parquet
// output. Every flush emits one row group; when a physical file reaches the
// format's row-group ceiling the writer transparently rolls over to a new
// file named <base>_<n>.parquet. The builder handed out by Builder is
// flushed automatically once it crosses the configured thresholds.
type ParquetTableWriter[B RowBuilder] struct {
	st      *parquetState[B]
	cleanup runtime.Cleanup
}

var _ TableWriter[[]Result] = (*ParquetTableWriter[RowBuilder])(nil)

type parquetState[B RowBuilder] struct {
	basePath string
	schema   *arrow.Schema
	props    *parquet.WriterProperties
	builder  B

	autoflushRows  int
	autoflushBytes int64
	maxRowGroups   int

	fw        *pqarrow.FileWriter
	file      *os.File
	path      string
	rowGroups int
	fileRows  int64
	rolled    int

	results []Result
	closed  bool
}

// NewParquetTableWriter opens <path>.parquet for writing rows staged in
// builder. The builder's schema must match the supplied schema.
func NewParquetTableWriter[B RowBuilder](path string, schema *arrow.Schema, builder B, cfg ParquetWriterConfig) (*ParquetTableWriter[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rowGroupLength := cfg.RowGroupLength
	if rowGroupLength == 0 {
		rowGroupLength = DefaultRowGroupLength
	}
	level := cfg.CompressionLevel
	if level == 0 {
		level = DefaultCompressionLevel
	}
	st := &parquetState[B]{
		basePath: path,
		schema:   schema,
		props: parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Zstd),
			parquet.WithCompressionLevel(level),
			parquet.WithDictionaryDefault(true),
			parquet.WithMaxRowGroupLength(rowGroupLength),
		),
		builder:        builder,
		autoflushRows:  autoflushRows(cfg.AutoflushRows, rowGroupLength),
		autoflushBytes: cfg.AutoflushBytes,
		maxRowGroups:   maxRowGroupsPerFile,
	}
	if err := st.openNextFile(); err != nil {
		return nil, err
	}
	w := &ParquetTableWriter[B]{st: st}
	w.cleanup = runtime.AddCleanup(w, finalizeAbandoned, abandonedCloser(st))
	return w, nil
}

// Builder returns the row builder, flushing first if the buffered row count
// or byte size has reached its threshold, so the builder handed back always
// starts under threshold.
func (w *ParquetTableWriter[B]) Builder() (B, error) {
	st := w.st
	var zero B
	if st.closed {
		return zero, ErrWriterClosed
	}
	if st.builder.Len() >= st.autoflushRows {
		if err := st.flush(); err != nil {
			return zero, err
		}
	}
	if st.autoflushBytes > 0 && st.builder.Size() >= st.autoflushBytes {
		if err := st.flush(); err != nil {
			return zero, err
		}
	}
	return st.builder, nil
}

// Flush serializes all buffered rows as one row group and clears the
// builder.
func (w *ParquetTableWriter[B]) Flush() error {
	if w.st.closed {
		return ErrWriterClosed
	}
	return w.st.flush()
}

// Close performs a final flush, finalizes the current physical file, and
// returns one Result per physical file written under this logical identity.
func (w *ParquetTableWriter[B]) Close() ([]Result, error) {
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

// openNextFile creates the next physical file for this logical writer: the
// base path for the first file, then <base>_1, <base>_2, ... for rollover
// successors.
func (st *parquetState[B]) openNextFile() error {
	path := st.basePath
	if st.rolled > 0 {
		path += "_" + strconv.Itoa(st.rolled)
	}
	path += ".parquet"

	f, err := os.Create(path)
	if err != nil {
		return &CreationError{Path: path, Err: err}
	}
	fw, err := pqarrow.NewFileWriter(st.schema, f, st.props,
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return &CreationError{Path: path, Err: err}
	}
	st.fw = fw
	st.file = f
	st.path = path
	st.rowGroups = 0
	st.fileRows = 0
	return nil
}

func (st *parquetState[B]) flush() error {
	rec, err := st.builder.NewRecordBatch()
	if err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	rows := rec.NumRows()
	if rows == 0 {
		rec.Release()
		return nil
	}
	err = st.fw.Write(rec)
	rec.Release()
	if err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	st.rowGroups++
	st.fileRows += rows
	if st.rowGroups >= st.maxRowGroups {
		if err := st.finishFile(); err != nil {
			return err
		}
		st.rolled++
		return st.openNextFile()
	}
	return nil
}

// finishFile writes the footer of the current physical file and records its
// Result. Closing the pqarrow writer also closes the underlying file.
func (st *parquetState[B]) finishFile() error {
	if st.fw == nil {
		return nil
	}
	fw := st.fw
	st.fw = nil
	st.file = nil
	if err := fw.Close(); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	size := int64(-1)
	if info, err := os.Stat(st.path); err == nil {
		size = info.Size()
	}
	st.results = append(st.results, Result{
		FileName:    st.path,
		RecordCount: st.fileRows,
		FileSize:    size,
	})
	return nil
}

func (st *parquetState[B]) closeAbandoned() (string, error) {
	if st.closed {
		return "", nil
	}
	st.closed = true
	if err := st.flush(); err != nil {
		return st.path, err
	}
	return st.path, st.finishFile()
}
