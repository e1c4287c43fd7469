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
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdTableWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0")
	w, err := NewZstdTableWriter(path, ZstdWriterConfig{})
	require.NoError(t, err)

	n, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, w.Flush())

	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	result, err := w.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.FileName, "0.zst"))
	assert.Equal(t, int64(0), result.RecordCount)
	assert.Greater(t, result.FileSize, int64(0))

	assert.Equal(t, []byte("hello world"), decompressFile(t, result.FileName))
}

func TestZstdTableWriterCustomExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0")
	w, err := NewZstdTableWriter(path, ZstdWriterConfig{Extension: "bin.zst", CompressionLevel: 19})
	require.NoError(t, err)

	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)

	result, err := w.Close()
	require.NoError(t, err)
	assert.Equal(t, path+".bin.zst", result.FileName)
	assert.Equal(t, []byte("payload"), decompressFile(t, result.FileName))
}

func TestZstdTableWriterSpentAfterClose(t *testing.T) {
	w, err := NewZstdTableWriter(filepath.Join(t.TempDir(), "0"), ZstdWriterConfig{})
	require.NoError(t, err)

	_, err = w.Close()
	require.NoError(t, err)

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.ErrorIs(t, w.Flush(), ErrWriterClosed)
	_, err = w.Close()
	assert.ErrorIs(t, err, ErrWriterClosed)
}
