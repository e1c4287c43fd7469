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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// IPCWriterConfig configures an IPCTableWriter.
type IPCWriterConfig struct {
	// FlushRows triggers a flush from Builder once this many rows are
	// buffered. Defaults to DefaultIPCFlushRows.
	FlushRows int

	// AutoflushBytes, when positive, triggers a flush from Builder once the
	// buffered builders reach this size.
	AutoflushBytes int64
}

// Validate checks that the configuration is valid.
func (c *IPCWriterConfig) Validate() error {
	if c.FlushRows < 0 {
		return &ConfigError{Field: "FlushRows", Message: "cannot be negative"}
	}
	if c.AutoflushBytes < 0 {
		return &ConfigError{Field: "AutoflushBytes", Message: "cannot be negative"}
	}
	return nil
}

// IPCTableWriter writes Arrow record batches to a .arrow IPC file. The IPC
// format has no per-file row-group ceiling, so one logical writer is always
// one physical file.
type IPCTableWriter[B RowBuilder] struct {
	st      *ipcState[B]
	cleanup runtime.Cleanup
}

var _ TableWriter[Result] = (*IPCTableWriter[RowBuilder])(nil)

type ipcState[B RowBuilder] struct {
	builder B

	flushRows      int
	autoflushBytes int64

	fw       *ipc.FileWriter
	file     *os.File
	path     string
	fileRows int64

	closed bool
}

// NewIPCTableWriter opens <path>.arrow for writing rows staged in builder.
func NewIPCTableWriter[B RowBuilder](path string, schema *arrow.Schema, builder B, cfg IPCWriterConfig) (*IPCTableWriter[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	flushRows := cfg.FlushRows
	if flushRows == 0 {
		flushRows = DefaultIPCFlushRows
	}
	path += ".arrow"
	f, err := os.Create(path)
	if err != nil {
		return nil, &CreationError{Path: path, Err: err}
	}
	fw, err := ipc.NewFileWriter(f,
		ipc.WithSchema(schema),
		ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &CreationError{Path: path, Err: err}
	}
	st := &ipcState[B]{
		builder:        builder,
		flushRows:      flushRows,
		autoflushBytes: cfg.AutoflushBytes,
		fw:             fw,
		file:           f,
		path:           path,
	}
	w := &IPCTableWriter[B]{st: st}
	w.cleanup = runtime.AddCleanup(w, finalizeAbandoned, abandonedCloser(st))
	return w, nil
}

// Builder returns the row builder, flushing first if the buffered row count
// or byte size has reached its threshold.
func (w *IPCTableWriter[B]) Builder() (B, error) {
	st := w.st
	var zero B
	if st.closed {
		return zero, ErrWriterClosed
	}
	if st.builder.Len() >= st.flushRows {
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

// Flush serializes all buffered rows as one record batch and clears the
// builder.
func (w *IPCTableWriter[B]) Flush() error {
	if w.st.closed {
		return ErrWriterClosed
	}
	return w.st.flush()
}

// Close performs a final flush, writes the IPC footer, and returns the
// file's Result.
func (w *IPCTableWriter[B]) Close() (Result, error) {
	st := w.st
	if st.closed {
		return Result{}, ErrWriterClosed
	}
	st.closed = true
	w.cleanup.Stop()
	if err := st.flush(); err != nil {
		return Result{}, err
	}
	return st.finishFile()
}

func (st *ipcState[B]) flush() error {
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
	st.fileRows += rows
	return nil
}

func (st *ipcState[B]) finishFile() (Result, error) {
	if err := st.fw.Close(); err != nil {
		_ = st.file.Close()
		return Result{}, &FlushError{Path: st.path, Err: err}
	}
	if err := st.file.Close(); err != nil {
		return Result{}, &FlushError{Path: st.path, Err: err}
	}
	size := int64(-1)
	if info, err := os.Stat(st.path); err == nil {
		size = info.Size()
	}
	return Result{FileName: st.path, RecordCount: st.fileRows, FileSize: size}, nil
}

func (st *ipcState[B]) closeAbandoned() (string, error) {
	if st.closed {
		return "", nil
	}
	st.closed = true
	if err := st.flush(); err != nil {
		return st.path, err
	}
	_, err := st.finishFile()
	return st.path, err
}
