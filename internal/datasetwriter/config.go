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

const (
	// DefaultRowGroupLength is the target number of rows per parquet row
	// group when the configuration does not specify one.
	DefaultRowGroupLength = 80_000

	// DefaultCompressionLevel is the zstd level used when the configuration
	// does not specify one.
	DefaultCompressionLevel = 3

	// DefaultIPCFlushRows is the row-count flush threshold for Arrow IPC
	// writers when the configuration does not specify one.
	DefaultIPCFlushRows = 1 << 20

	// maxRowGroupsPerFile is the parquet format ceiling on row groups per
	// physical file (i16 max minus 2). Reaching it forces a rollover to a
	// new file under the same logical writer identity.
	maxRowGroupsPerFile = 32765
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "datasetwriter config: " + e.Field + " " + e.Message
}

// autoflushRows resolves the effective row-count flush threshold: the
// configured value if positive, otherwise 90% of the target row-group
// length. The headroom keeps rows appended between the threshold check and
// the next flush from overshooting the target group size.
func autoflushRows(configured int, rowGroupLength int64) int {
	if configured > 0 {
		return configured
	}
	return int(rowGroupLength * 9 / 10)
}
