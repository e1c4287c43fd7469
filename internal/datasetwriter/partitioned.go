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
	"strconv"
)

// splitPartitionPath splits the path a wrapped writer would otherwise have
// used into its parent directory and the trailing identity segment. The
// identity segment (typically the worker's file sequence number) is reused
// unchanged inside every partition subdirectory.
func splitPartitionPath(path string) (parent, identity string, err error) {
	parent = filepath.Dir(path)
	identity = filepath.Base(path)
	if parent == path || identity == "." || identity == string(filepath.Separator) {
		return "", "", &CreationError{Path: path, Err: errNoParent}
	}
	return parent, identity, nil
}

var errNoParent = &ConfigError{Field: "path", Message: "has no parent component"}

// BucketPartitionedWriter wraps N table writers so that each writes to
// <parent>/<column>=<bucket>/<identity> instead of <parent>/<identity>,
// giving a Hive-partitioned layout while every worker keeps exclusive
// ownership of its files. Buckets are dense integers in [0, N), and all N
// partition directories and sub-writers are created eagerly at
// construction.
//
// With buckets == 0 partitioning is disabled: a single sub-writer writes
// directly to <parent>/<identity> with no partition suffix.
type BucketPartitionedWriter[W TableWriter[R], R any] struct {
	writers []W
}

var (
	_ TableWriter[[]Result] = (*BucketPartitionedWriter[*CSVTableWriter, Result])(nil)
	_ TableWriter[[]Result] = (*KeyedPartitionedWriter[*CSVTableWriter, Result])(nil)
)

// NewBucketPartitionedWriter builds the partition directories and one
// sub-writer per bucket. The supplied path must have a parent component.
func NewBucketPartitionedWriter[W TableWriter[R], R any](path, column string, buckets int, open OpenFunc[W]) (*BucketPartitionedWriter[W, R], error) {
	parent, identity, err := splitPartitionPath(path)
	if err != nil {
		return nil, err
	}
	if buckets < 0 {
		return nil, &ConfigError{Field: "buckets", Message: "cannot be negative"}
	}
	n := buckets
	if n == 0 {
		n = 1
	}
	writers := make([]W, 0, n)
	for i := range n {
		dir := parent
		if buckets > 0 {
			dir = filepath.Join(parent, column+"="+strconv.Itoa(i))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &CreationError{Path: dir, Err: err}
		}
		w, err := open(filepath.Join(dir, identity))
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	return &BucketPartitionedWriter[W, R]{writers: writers}, nil
}

// Partition returns the sub-writer for the given bucket index. It panics if
// the index is outside [0, N).
func (p *BucketPartitionedWriter[W, R]) Partition(bucket int) W {
	return p.writers[bucket]
}

// Flush flushes every sub-writer concurrently, aggregating all failures.
func (p *BucketPartitionedWriter[W, R]) Flush() error {
	if p.writers == nil {
		return ErrWriterClosed
	}
	return forEachConcurrently(p.writers, func(w W) error { return w.Flush() })
}

// Close closes every sub-writer concurrently and returns their results.
func (p *BucketPartitionedWriter[W, R]) Close() ([]R, error) {
	if p.writers == nil {
		return nil, ErrWriterClosed
	}
	writers := p.writers
	p.writers = nil
	return collectConcurrently(writers, func(w W) (R, error) { return w.Close() })
}

// KeyedPartitionedWriter wraps a dynamic set of table writers so that each
// writes to <parent>/<column>=<key>/<identity>, where key is an arbitrary
// string. Partition directories and sub-writers are created lazily on the
// first reference to an unseen key; later references with an equal key
// string reuse the existing sub-writer. Keys are compared exactly, with no
// normalization.
//
// The key registry is not synchronized: one KeyedPartitionedWriter instance
// must be driven by at most one goroutine at a time. Flush and Close only
// read the already-populated registry.
type KeyedPartitionedWriter[W TableWriter[R], R any] struct {
	parent   string
	column   string
	identity string
	open     OpenFunc[W]
	writers  map[string]W
}

// NewKeyedPartitionedWriter prepares a keyed partition layout rooted at the
// parent of path. The supplied path must have a parent component.
func NewKeyedPartitionedWriter[W TableWriter[R], R any](path, column string, open OpenFunc[W]) (*KeyedPartitionedWriter[W, R], error) {
	parent, identity, err := splitPartitionPath(path)
	if err != nil {
		return nil, err
	}
	return &KeyedPartitionedWriter[W, R]{
		parent:   parent,
		column:   column,
		identity: identity,
		open:     open,
		writers:  make(map[string]W),
	}, nil
}

// Partition returns the sub-writer for key, creating its directory and
// writer on first reference.
func (p *KeyedPartitionedWriter[W, R]) Partition(key string) (W, error) {
	var zero W
	if p.writers == nil {
		return zero, ErrWriterClosed
	}
	if w, ok := p.writers[key]; ok {
		return w, nil
	}
	dir := filepath.Join(p.parent, p.column+"="+key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zero, &CreationError{Path: dir, Err: err}
	}
	w, err := p.open(filepath.Join(dir, p.identity))
	if err != nil {
		return zero, err
	}
	p.writers[key] = w
	return w, nil
}

// Keys returns the partition keys seen so far, in no particular order.
func (p *KeyedPartitionedWriter[W, R]) Keys() []string {
	keys := make([]string, 0, len(p.writers))
	for key := range p.writers {
		keys = append(keys, key)
	}
	return keys
}

// Flush flushes every sub-writer concurrently, aggregating all failures.
func (p *KeyedPartitionedWriter[W, R]) Flush() error {
	if p.writers == nil {
		return ErrWriterClosed
	}
	return forEachConcurrently(p.held(), func(w W) error { return w.Flush() })
}

// Close closes every sub-writer concurrently and returns their results.
func (p *KeyedPartitionedWriter[W, R]) Close() ([]R, error) {
	if p.writers == nil {
		return nil, ErrWriterClosed
	}
	writers := p.held()
	p.writers = nil
	return collectConcurrently(writers, func(w W) (R, error) { return w.Close() })
}

func (p *KeyedPartitionedWriter[W, R]) held() []W {
	writers := make([]W, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	return writers
}
