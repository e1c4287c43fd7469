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
	"encoding/csv"
	"os"
	"runtime"

	"github.com/klauspost/compress/zstd"
)

// CSVWriterConfig configures a CSVTableWriter.
type CSVWriterConfig struct {
	// Header, when non-empty, is written as the first record of the file.
	// It does not count toward the Result's RecordCount.
	Header []string

	// CompressionLevel is the zstd level. Defaults to
	// DefaultCompressionLevel.
	CompressionLevel int
}

// CSVTableWriter writes delimited records to a zstd-compressed .csv.zst
// file, with CRLF record terminators. Records are buffered by the csv
// encoder and pushed through the compressor on every Flush.
type CSVTableWriter struct {
	st      *csvState
	cleanup runtime.Cleanup
}

var _ TableWriter[Result] = (*CSVTableWriter)(nil)

type csvState struct {
	file   *os.File
	enc    *zstd.Encoder
	cw     *csv.Writer
	path   string
	rows   int64
	closed bool
}

// NewCSVTableWriter opens <path>.csv.zst for writing.
func NewCSVTableWriter(path string, cfg CSVWriterConfig) (*CSVTableWriter, error) {
	level := cfg.CompressionLevel
	if level == 0 {
		level = DefaultCompressionLevel
	}
	path += ".csv.zst"
	f, err := os.Create(path)
	if err != nil {
		return nil, &CreationError{Path: path, Err: err}
	}
	enc, err := zstd.NewWriter(f,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &CreationError{Path: path, Err: err}
	}
	cw := csv.NewWriter(enc)
	cw.UseCRLF = true
	st := &csvState{file: f, enc: enc, cw: cw, path: path}
	if len(cfg.Header) > 0 {
		if err := cw.Write(cfg.Header); err != nil {
			_ = enc.Close()
			_ = f.Close()
			_ = os.Remove(path)
			return nil, &CreationError{Path: path, Err: err}
		}
	}
	w := &CSVTableWriter{st: st}
	w.cleanup = runtime.AddCleanup(w, finalizeAbandoned, abandonedCloser(st))
	return w, nil
}

// Write appends one record.
func (w *CSVTableWriter) Write(record []string) error {
	st := w.st
	if st.closed {
		return ErrWriterClosed
	}
	if err := st.cw.Write(record); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	st.rows++
	return nil
}

// Flush pushes all buffered records through the compressor.
func (w *CSVTableWriter) Flush() error {
	if w.st.closed {
		return ErrWriterClosed
	}
	return w.st.flush()
}

// Close flushes, finalizes the zstd frame, and returns the file's Result.
func (w *CSVTableWriter) Close() (Result, error) {
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

func (st *csvState) flush() error {
	st.cw.Flush()
	if err := st.cw.Error(); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	if err := st.enc.Flush(); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	return nil
}

func (st *csvState) finishFile() (Result, error) {
	if err := st.enc.Close(); err != nil {
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
	return Result{FileName: st.path, RecordCount: st.rows, FileSize: size}, nil
}

func (st *csvState) closeAbandoned() (string, error) {
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
