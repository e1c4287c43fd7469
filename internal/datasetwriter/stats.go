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

// StatsAccumulator collects statistics for a single physical output file.
type StatsAccumulator interface {
	// Add is called once per row written to this file.
	Add(row map[string]any)

	// Finalize is called exactly once after the last row. The returned
	// value is surfaced through Result.Metadata.
	Finalize() any
}

// StatsProvider creates StatsAccumulators for collecting file-level
// statistics. A new accumulator is created for every physical file,
// including rollover successors.
type StatsProvider interface {
	NewAccumulator() StatsAccumulator
}
