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
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openZstd(path string) (*ZstdTableWriter, error) {
	return NewZstdTableWriter(path, ZstdWriterConfig{})
}

func openCSV(path string) (*CSVTableWriter, error) {
	return NewCSVTableWriter(path, CSVWriterConfig{Header: []string{"id", "name"}})
}

func TestBucketPartitionedWriterCreatesPartitionDirectories(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "7")

	pw, err := NewBucketPartitionedWriter[*ZstdTableWriter, Result](path, "bucket", 4, openZstd)
	require.NoError(t, err)

	for i := range 4 {
		info, err := os.Stat(filepath.Join(base, "bucket="+strconv.Itoa(i)))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	_, err = pw.Partition(2).Write([]byte("hello"))
	require.NoError(t, err)

	results, err := pw.Close()
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Every bucket keeps the wrapped writer's identity segment.
	for i := range 4 {
		file := filepath.Join(base, "bucket="+strconv.Itoa(i), "7.zst")
		_, err := os.Stat(file)
		assert.NoError(t, err, "bucket %d", i)
	}
}

func TestBucketPartitionedWriterDisabled(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "0")

	pw, err := NewBucketPartitionedWriter[*ZstdTableWriter, Result](path, "bucket", 0, openZstd)
	require.NoError(t, err)

	_, err = pw.Partition(0).Write([]byte("payload"))
	require.NoError(t, err)

	results, err := pw.Close()
	require.NoError(t, err)
	require.Len(t, results, 1)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0.zst", entries[0].Name())
}

func TestBucketPartitionedWriterRequiresParent(t *testing.T) {
	open := func(path string) (*fakeWriter, error) { return &fakeWriter{path: path}, nil }
	_, err := NewBucketPartitionedWriter[*fakeWriter, string]("/", "bucket", 2, open)
	require.Error(t, err)

	var cerr *CreationError
	assert.ErrorAs(t, err, &cerr)
}

func TestBucketPartitionedWriterRejectsNegativeBuckets(t *testing.T) {
	open := func(path string) (*fakeWriter, error) { return &fakeWriter{path: path}, nil }
	_, err := NewBucketPartitionedWriter[*fakeWriter, string](filepath.Join(t.TempDir(), "0"), "bucket", -1, open)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "buckets", cfgErr.Field)
}

func TestBucketPartitionedWriterFlushAggregatesErrors(t *testing.T) {
	flushFail := errors.New("flush failed")
	fakes := make(map[string]*fakeWriter)
	open := func(path string) (*fakeWriter, error) {
		w := &fakeWriter{path: path}
		if strings.Contains(path, "part=1") {
			w.flushErr = flushFail
		}
		fakes[path] = w
		return w, nil
	}

	pw, err := NewBucketPartitionedWriter[*fakeWriter, string](filepath.Join(t.TempDir(), "0"), "part", 3, open)
	require.NoError(t, err)

	err = pw.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, flushFail)
	for _, w := range fakes {
		assert.Equal(t, 1, w.flushes)
	}
}

func TestBucketPartitionedWriterSpentAfterClose(t *testing.T) {
	pw, err := NewBucketPartitionedWriter[*ZstdTableWriter, Result](filepath.Join(t.TempDir(), "0"), "bucket", 2, openZstd)
	require.NoError(t, err)

	_, err = pw.Close()
	require.NoError(t, err)

	assert.ErrorIs(t, pw.Flush(), ErrWriterClosed)
	_, err = pw.Close()
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestKeyedPartitionedWriterRoutesByKey(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "0")

	pw, err := NewKeyedPartitionedWriter[*CSVTableWriter, Result](path, "year", openCSV)
	require.NoError(t, err)

	w2021, err := pw.Partition("2021")
	require.NoError(t, err)
	require.NoError(t, w2021.Write([]string{"1", "one"}))

	w2022, err := pw.Partition("2022")
	require.NoError(t, err)
	require.NoError(t, w2022.Write([]string{"2", "two"}))

	// An equal key string routes to the same writer and the same file.
	again, err := pw.Partition("2021")
	require.NoError(t, err)
	assert.Same(t, w2021, again)
	require.NoError(t, again.Write([]string{"3", "three"}))

	assert.ElementsMatch(t, []string{"2021", "2022"}, pw.Keys())

	results, err := pw.Close()
	require.NoError(t, err)
	require.Len(t, results, 2)

	counts := make(map[string]int64)
	for _, r := range results {
		counts[r.FileName] = r.RecordCount
	}
	assert.Equal(t, int64(2), counts[filepath.Join(base, "year=2021", "0.csv.zst")])
	assert.Equal(t, int64(1), counts[filepath.Join(base, "year=2022", "0.csv.zst")])
}

func TestKeyedPartitionedWriterSpentAfterClose(t *testing.T) {
	pw, err := NewKeyedPartitionedWriter[*CSVTableWriter, Result](filepath.Join(t.TempDir(), "0"), "year", openCSV)
	require.NoError(t, err)

	_, err = pw.Partition("2021")
	require.NoError(t, err)

	_, err = pw.Close()
	require.NoError(t, err)

	_, err = pw.Partition("2021")
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.ErrorIs(t, pw.Flush(), ErrWriterClosed)
	_, err = pw.Close()
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestKeyedPartitionedWriterRequiresParent(t *testing.T) {
	_, err := NewKeyedPartitionedWriter[*CSVTableWriter, Result]("/", "year", openCSV)
	require.Error(t, err)

	var cerr *CreationError
	assert.ErrorAs(t, err, &cerr)
}
