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

	"github.com/klauspost/compress/zstd"
)

// ZstdWriterConfig configures a ZstdTableWriter.
type ZstdWriterConfig struct {
	// Extension is the output file extension, without the leading dot.
	// Defaults to "zst".
	Extension string

	// CompressionLevel is the zstd level. Defaults to
	// DefaultCompressionLevel.
	CompressionLevel int
}

// ZstdTableWriter is a plain compressed byte sink: callers stream arbitrary
// bytes through its io.Writer surface and the table-writer lifecycle takes
// care of frame finalization.
type ZstdTableWriter struct {
	st      *zstdState
	cleanup runtime.Cleanup
}

var _ TableWriter[Result] = (*ZstdTableWriter)(nil)

type zstdState struct {
	file   *os.File
	enc    *zstd.Encoder
	path   string
	closed bool
}

// NewZstdTableWriter opens <path>.<extension> for writing.
func NewZstdTableWriter(path string, cfg ZstdWriterConfig) (*ZstdTableWriter, error) {
	ext := cfg.Extension
	if ext == "" {
		ext = "zst"
	}
	level := cfg.CompressionLevel
	if level == 0 {
		level = DefaultCompressionLevel
	}
	path += "." + ext
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
	st := &zstdState{file: f, enc: enc, path: path}
	w := &ZstdTableWriter{st: st}
	w.cleanup = runtime.AddCleanup(w, finalizeAbandoned, abandonedCloser(st))
	return w, nil
}

// Write compresses p into the output file.
func (w *ZstdTableWriter) Write(p []byte) (int, error) {
	st := w.st
	if st.closed {
		return 0, ErrWriterClosed
	}
	n, err := st.enc.Write(p)
	if err != nil {
		return n, &FlushError{Path: st.path, Err: err}
	}
	return n, nil
}

// Flush forces the encoder to emit everything buffered so far.
func (w *ZstdTableWriter) Flush() error {
	st := w.st
	if st.closed {
		return ErrWriterClosed
	}
	if err := st.enc.Flush(); err != nil {
		return &FlushError{Path: st.path, Err: err}
	}
	return nil
}

// Close finalizes the zstd frame and returns the file's Result.
func (w *ZstdTableWriter) Close() (Result, error) {
	st := w.st
	if st.closed {
		return Result{}, ErrWriterClosed
	}
	st.closed = true
	w.cleanup.Stop()
	return st.finishFile()
}

func (st *zstdState) finishFile() (Result, error) {
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
	return Result{FileName: st.path, FileSize: size}, nil
}

func (st *zstdState) closeAbandoned() (string, error) {
	if st.closed {
		return "", nil
	}
	st.closed = true
	_, err := st.finishFile()
	return st.path, err
}
