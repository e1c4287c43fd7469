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

// Package datasetwriter provides a parallel dataset-export engine. Many
// worker goroutines each own one physical output file (or a rollover
// sequence of files) in a columnar or delimited format, optionally routed
// into Hive-style partition subdirectories, with threshold-based flushing
// and guaranteed finalization of every open file.
package datasetwriter

import (
	"errors"
	"log/slog"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
)

// TableWriter is the lifecycle contract every format backend implements.
//
// Flush serializes all currently buffered rows into the sink and clears the
// buffer; on failure everything written before the failing write stays
// readable. Close performs a final flush, finalizes the physical file
// (footer/trailer), and consumes the writer; any call after Close returns
// ErrWriterClosed.
type TableWriter[R any] interface {
	Flush() error
	Close() (R, error)
}

// OpenFunc constructs a backend writer rooted at path. Path carries no
// extension; the backend appends its own. Schema and per-format
// configuration are bound by the closure, so the parallel and partitioned
// layers can clone writers without knowing either.
type OpenFunc[W any] func(path string) (W, error)

// RowBuilder stages rows in memory until the owning writer flushes them.
// Implementations follow the Arrow builder pattern: appending is cheap,
// and NewRecordBatch atomically hands over everything buffered so far.
type RowBuilder interface {
	// Len is the number of buffered rows.
	Len() int

	// Size is the number of buffered bytes across all column builders.
	Size() int64

	// NewRecordBatch hands over the buffered rows as an immutable record
	// batch and resets the builder to empty. The caller owns the returned
	// batch and must release it.
	NewRecordBatch() (arrow.RecordBatch, error)
}

// Result contains metadata about a single physical output file.
type Result struct {
	// FileName is the path of the written file.
	FileName string

	// RecordCount is the number of rows written to this file.
	RecordCount int64

	// FileSize is the size of the file in bytes, or -1 if unknown.
	FileSize int64

	// Metadata carries format- or caller-specific information about the
	// file, such as finalized stats from a StatsAccumulator.
	Metadata any
}

// ErrWriterClosed is returned by every operation on a consumed writer.
var ErrWriterClosed = errors.New("datasetwriter: writer is already closed")

// CreationError reports that a directory or file could not be made, or that
// the backend rejected the schema or configuration at open time.
type CreationError struct {
	Path string
	Err  error
}

func (e *CreationError) Error() string {
	return "datasetwriter: create " + e.Path + ": " + e.Err.Error()
}

func (e *CreationError) Unwrap() error { return e.Err }

// FlushError reports that serializing buffered rows or writing them to the
// sink failed. A close error is a flush error that occurs during
// finalization.
type FlushError struct {
	Path string
	Err  error
}

func (e *FlushError) Error() string {
	return "datasetwriter: flush " + e.Path + ": " + e.Err.Error()
}

func (e *FlushError) Unwrap() error { return e.Err }

// abandonedCloser is implemented by each backend's internal state so a
// writer discarded without Close still flushes and finalizes its file.
type abandonedCloser interface {
	// closeAbandoned finalizes the writer if it was not explicitly closed.
	// It returns the path of the file being finalized along with any error.
	closeAbandoned() (string, error)
}

// finalizeAbandoned runs from a runtime cleanup when a writer is garbage
// collected without an explicit Close. No caller can observe an error here,
// and a truncated file must not be left behind looking complete, so any
// failure terminates the process.
func finalizeAbandoned(st abandonedCloser) {
	path, err := st.closeAbandoned()
	if err == nil {
		return
	}
	slog.Error("datasetwriter: failed to finalize abandoned writer",
		slog.String("file", path),
		slog.Any("error", err))
	os.Exit(1)
}
