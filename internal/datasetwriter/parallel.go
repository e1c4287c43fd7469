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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
)

// ParallelDatasetWriter owns a pool of worker-exclusive table writers under
// one dataset directory. Each worker's writer is created lazily on its
// first access and named after a unique, dense file sequence number
// allocated with a single atomic increment. Flush and close fan out across
// all live writers concurrently.
type ParallelDatasetWriter[W TableWriter[R], R any] struct {
	dir     string
	open    OpenFunc[W]
	nextSeq atomic.Uint64
	writers sync.Map // worker id (int) -> *workerSlot[W]
	closed  atomic.Bool
}

// workerSlot holds one worker's writer. busy flags an outstanding borrow so
// aliasing a worker id across goroutines fails loudly instead of silently
// sharing a writer.
type workerSlot[W any] struct {
	once   sync.Once
	writer W
	err    error
	ready  atomic.Bool
	busy   atomic.Bool
}

// ReleaseFunc returns a borrowed worker writer, allowing the same worker id
// to borrow it again.
type ReleaseFunc func()

// NewParallelDatasetWriter creates the dataset directory (idempotently) and
// returns a writer pool whose per-worker writers are constructed by open.
func NewParallelDatasetWriter[W TableWriter[R], R any](dir string, open OpenFunc[W]) (*ParallelDatasetWriter[W, R], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &CreationError{Path: dir, Err: err}
	}
	return &ParallelDatasetWriter[W, R]{dir: dir, open: open}, nil
}

// Dir returns the dataset directory.
func (d *ParallelDatasetWriter[W, R]) Dir() string { return d.dir }

// Writer returns the table writer owned by workerID, creating it on first
// access at <dir>/<sequence-number>. Subsequent calls with the same id
// return the same instance. The returned ReleaseFunc must be called before
// the next Writer call with the same id.
//
// Writer panics if the writer for workerID is still borrowed: two
// goroutines sharing one worker id is a programming error, not a condition
// to report.
func (d *ParallelDatasetWriter[W, R]) Writer(workerID int) (W, ReleaseFunc, error) {
	var zero W
	if d.closed.Load() {
		return zero, nil, ErrWriterClosed
	}
	v, _ := d.writers.LoadOrStore(workerID, &workerSlot[W]{})
	slot := v.(*workerSlot[W])
	slot.once.Do(func() {
		seq := d.nextSeq.Add(1) - 1
		slot.writer, slot.err = d.open(filepath.Join(d.dir, strconv.FormatUint(seq, 10)))
		slot.ready.Store(true)
	})
	if slot.err != nil {
		return zero, nil, slot.err
	}
	if !slot.busy.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("datasetwriter: writer for worker %d is already borrowed", workerID))
	}
	return slot.writer, func() { slot.busy.Store(false) }, nil
}

// FlushAll flushes every currently allocated worker writer concurrently.
// Writers that flushed successfully stay flushed even when a sibling fails;
// all failures are aggregated into the returned error.
func (d *ParallelDatasetWriter[W, R]) FlushAll() error {
	if d.closed.Load() {
		return ErrWriterClosed
	}
	return forEachConcurrently(d.snapshot(), func(s *workerSlot[W]) error {
		return s.writer.Flush()
	})
}

// CloseAll detaches the entire registry, closes every worker writer
// concurrently, and returns their individual results. Result order is
// unspecified, but every writer is accounted for exactly once: either its
// result is returned or its error is part of the aggregate. After CloseAll
// the pool is spent.
func (d *ParallelDatasetWriter[W, R]) CloseAll() ([]R, error) {
	if !d.closed.CompareAndSwap(false, true) {
		return nil, ErrWriterClosed
	}
	slots := d.snapshot()
	d.writers.Clear()
	return collectConcurrently(slots, func(s *workerSlot[W]) (R, error) {
		return s.writer.Close()
	})
}

// snapshot collects the slots whose writers were created successfully. A
// slot whose construction is still in flight is skipped: its writer is not
// usable yet, and the goroutine constructing it still holds the borrow.
func (d *ParallelDatasetWriter[W, R]) snapshot() []*workerSlot[W] {
	var slots []*workerSlot[W]
	d.writers.Range(func(_, v any) bool {
		slot := v.(*workerSlot[W])
		if slot.ready.Load() && slot.err == nil {
			slots = append(slots, slot)
		}
		return true
	})
	return slots
}
