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

package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/datasetwriter/config"
	"github.com/cardinalhq/datasetwriter/internal/datasetwriter"
)

func init() {
	var (
		dir              string
		workers          int
		rowsPerWorker    int
		format           string
		rowGroupLength   int64
		compressionLevel int
		partitionColumn  string
		buckets          int
	)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Generate a synthetic dataset across parallel workers",
		Long:  `Spawn worker goroutines that each own one output file and write synthetic rows through the configured format backend. Defaults come from config/environment; flags override.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ec := cfg.Export
			flags := cmd.Flags()
			if flags.Changed("dir") {
				ec.Dir = dir
			}
			if flags.Changed("workers") {
				ec.Workers = workers
			}
			if flags.Changed("rows-per-worker") {
				ec.RowsPerWorker = rowsPerWorker
			}
			if flags.Changed("format") {
				ec.Format = format
			}
			if flags.Changed("row-group-length") {
				ec.RowGroupLength = rowGroupLength
			}
			if flags.Changed("compression-level") {
				ec.CompressionLevel = compressionLevel
			}
			if flags.Changed("partition-column") {
				ec.PartitionColumn = partitionColumn
			}
			if flags.Changed("buckets") {
				ec.Buckets = buckets
			}
			return runExport(ec)
		},
	}

	exportCmd.Flags().StringVar(&dir, "dir", "dataset", "Directory to create the dataset run directory under")
	exportCmd.Flags().IntVar(&workers, "workers", 4, "Number of concurrent export workers")
	exportCmd.Flags().IntVar(&rowsPerWorker, "rows-per-worker", 100_000, "Rows each worker generates")
	exportCmd.Flags().StringVar(&format, "format", "parquet", "Output format: parquet, goparquet, ipc, csv or zstd")
	exportCmd.Flags().Int64Var(&rowGroupLength, "row-group-length", 0, "Target rows per parquet row group (0 = default)")
	exportCmd.Flags().IntVar(&compressionLevel, "compression-level", 0, "Zstd compression level (0 = default)")
	exportCmd.Flags().StringVar(&partitionColumn, "partition-column", "bucket", "Hive partition column name")
	exportCmd.Flags().IntVar(&buckets, "buckets", 0, "Number of hash buckets for partitioned output (0 = unpartitioned)")

	rootCmd.AddCommand(exportCmd)
}

func runExport(ec config.ExportConfig) error {
	if ec.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", ec.Workers)
	}
	if ec.RowsPerWorker < 0 {
		return fmt.Errorf("rows-per-worker cannot be negative, got %d", ec.RowsPerWorker)
	}

	runID := ulid.Make().String()
	dir := filepath.Join(ec.Dir, runID)
	ll := slog.Default()
	ll.Info("Starting export",
		slog.String("runID", runID),
		slog.String("dir", dir),
		slog.String("format", ec.Format),
		slog.Int("workers", ec.Workers),
		slog.Int("rowsPerWorker", ec.RowsPerWorker),
		slog.Int("buckets", ec.Buckets))

	var (
		results []datasetwriter.Result
		err     error
	)
	switch ec.Format {
	case "parquet":
		results, err = exportParquet(dir, runID, ec)
	case "goparquet":
		results, err = exportGoParquet(dir, runID, ec)
	case "ipc":
		results, err = exportIPC(dir, runID, ec)
	case "csv":
		results, err = exportCSV(dir, runID, ec)
	case "zstd":
		results, err = exportZstd(dir, runID, ec)
	default:
		return fmt.Errorf("unknown format %q", ec.Format)
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	var totalRows, totalBytes int64
	for _, r := range results {
		attrs := []any{
			slog.String("file", r.FileName),
			slog.Int64("records", r.RecordCount),
			slog.Int64("bytes", r.FileSize),
		}
		if r.Metadata != nil {
			attrs = append(attrs, slog.Any("metadata", r.Metadata))
		}
		ll.Info("Wrote file", attrs...)
		totalRows += r.RecordCount
		totalBytes += r.FileSize
	}
	ll.Info("Export complete",
		slog.Int("files", len(results)),
		slog.Int64("rows", totalRows),
		slog.Int64("bytes", totalBytes))
	return nil
}

// runWorkers fans fn out over the configured worker count and waits for all
// of them.
func runWorkers(workers int, fn func(worker int) error) error {
	var g errgroup.Group
	for worker := range workers {
		g.Go(func() error { return fn(worker) })
	}
	return g.Wait()
}

// rowID assigns every generated row a globally unique id.
func rowID(worker, i, rowsPerWorker int) int64 {
	return int64(worker)*int64(rowsPerWorker) + int64(i)
}

// bucketOf routes a row id to a partition bucket. With partitioning
// disabled everything lands in bucket 0, which the partitioned writer
// collapses into the parent directory.
func bucketOf(id int64, buckets int) int {
	if buckets <= 0 {
		return 0
	}
	return int(id % int64(buckets))
}

func exportParquet(dir, runID string, ec config.ExportConfig) ([]datasetwriter.Result, error) {
	schema := exportSchema()
	openParquet := func(path string) (*datasetwriter.ParquetTableWriter[*exportBuilder], error) {
		return datasetwriter.NewParquetTableWriter(path, schema, newExportBuilder(schema),
			datasetwriter.ParquetWriterConfig{
				RowGroupLength:   ec.RowGroupLength,
				CompressionLevel: ec.CompressionLevel,
			})
	}
	open := func(path string) (*datasetwriter.BucketPartitionedWriter[*datasetwriter.ParquetTableWriter[*exportBuilder], []datasetwriter.Result], error) {
		return datasetwriter.NewBucketPartitionedWriter[*datasetwriter.ParquetTableWriter[*exportBuilder], []datasetwriter.Result](
			path, ec.PartitionColumn, ec.Buckets, openParquet)
	}

	dw, err := datasetwriter.NewParallelDatasetWriter[*datasetwriter.BucketPartitionedWriter[*datasetwriter.ParquetTableWriter[*exportBuilder], []datasetwriter.Result], [][]datasetwriter.Result](dir, open)
	if err != nil {
		return nil, err
	}

	err = runWorkers(ec.Workers, func(worker int) error {
		w, release, err := dw.Writer(worker)
		if err != nil {
			return err
		}
		defer release()
		for i := range ec.RowsPerWorker {
			id := rowID(worker, i, ec.RowsPerWorker)
			b, err := w.Partition(bucketOf(id, ec.Buckets)).Builder()
			if err != nil {
				return err
			}
			b.Append(id, int64(worker), runID+"-"+strconv.Itoa(i))
		}
		return nil
	})
	if err != nil {
		_, _ = dw.CloseAll()
		return nil, err
	}

	nested, err := dw.CloseAll()
	if err != nil {
		return nil, err
	}
	var results []datasetwriter.Result
	for _, perWorker := range nested {
		for _, perBucket := range perWorker {
			results = append(results, perBucket...)
		}
	}
	return results, nil
}

// idRangeStats tracks the id range written to each physical file; the
// range lands in Result.Metadata.
type idRangeStats struct{}

func (idRangeStats) NewAccumulator() datasetwriter.StatsAccumulator {
	return &idRangeAccumulator{}
}

type idRangeAccumulator struct {
	seen     bool
	min, max int64
}

func (a *idRangeAccumulator) Add(row map[string]any) {
	id, ok := row["id"].(int64)
	if !ok {
		return
	}
	if !a.seen || id < a.min {
		a.min = id
	}
	if !a.seen || id > a.max {
		a.max = id
	}
	a.seen = true
}

func (a *idRangeAccumulator) Finalize() any {
	if !a.seen {
		return nil
	}
	return fmt.Sprintf("ids %d..%d", a.min, a.max)
}

func exportGoParquet(dir, runID string, ec config.ExportConfig) ([]datasetwriter.Result, error) {
	schema := parquet.NewSchema("export", parquet.Group{
		"id":      parquet.Optional(parquet.Int(64)),
		"worker":  parquet.Optional(parquet.Int(64)),
		"message": parquet.Optional(parquet.String()),
	})
	openParquet := func(path string) (*datasetwriter.GoParquetTableWriter, error) {
		return datasetwriter.NewGoParquetTableWriter(path, schema,
			datasetwriter.GoParquetWriterConfig{
				RowGroupLength: ec.RowGroupLength,
				Stats:          idRangeStats{},
			})
	}
	open := func(path string) (*datasetwriter.BucketPartitionedWriter[*datasetwriter.GoParquetTableWriter, []datasetwriter.Result], error) {
		return datasetwriter.NewBucketPartitionedWriter[*datasetwriter.GoParquetTableWriter, []datasetwriter.Result](
			path, ec.PartitionColumn, ec.Buckets, openParquet)
	}

	dw, err := datasetwriter.NewParallelDatasetWriter[*datasetwriter.BucketPartitionedWriter[*datasetwriter.GoParquetTableWriter, []datasetwriter.Result], [][]datasetwriter.Result](dir, open)
	if err != nil {
		return nil, err
	}

	err = runWorkers(ec.Workers, func(worker int) error {
		w, release, err := dw.Writer(worker)
		if err != nil {
			return err
		}
		defer release()
		for i := range ec.RowsPerWorker {
			id := rowID(worker, i, ec.RowsPerWorker)
			buf, err := w.Partition(bucketOf(id, ec.Buckets)).Buffer()
			if err != nil {
				return err
			}
			buf.Append(map[string]any{
				"id":      id,
				"worker":  int64(worker),
				"message": runID + "-" + strconv.Itoa(i),
			})
		}
		return nil
	})
	if err != nil {
		_, _ = dw.CloseAll()
		return nil, err
	}

	nested, err := dw.CloseAll()
	if err != nil {
		return nil, err
	}
	var results []datasetwriter.Result
	for _, perWorker := range nested {
		for _, perBucket := range perWorker {
			results = append(results, perBucket...)
		}
	}
	return results, nil
}

func exportIPC(dir, runID string, ec config.ExportConfig) ([]datasetwriter.Result, error) {
	if ec.Buckets > 0 {
		return nil, fmt.Errorf("format %q does not support bucket partitioning", ec.Format)
	}
	schema := exportSchema()
	open := func(path string) (*datasetwriter.IPCTableWriter[*exportBuilder], error) {
		return datasetwriter.NewIPCTableWriter(path, schema, newExportBuilder(schema),
			datasetwriter.IPCWriterConfig{})
	}

	dw, err := datasetwriter.NewParallelDatasetWriter[*datasetwriter.IPCTableWriter[*exportBuilder], datasetwriter.Result](dir, open)
	if err != nil {
		return nil, err
	}

	err = runWorkers(ec.Workers, func(worker int) error {
		w, release, err := dw.Writer(worker)
		if err != nil {
			return err
		}
		defer release()
		for i := range ec.RowsPerWorker {
			b, err := w.Builder()
			if err != nil {
				return err
			}
			b.Append(rowID(worker, i, ec.RowsPerWorker), int64(worker), runID+"-"+strconv.Itoa(i))
		}
		return nil
	})
	if err != nil {
		_, _ = dw.CloseAll()
		return nil, err
	}
	return dw.CloseAll()
}

func exportCSV(dir, runID string, ec config.ExportConfig) ([]datasetwriter.Result, error) {
	if ec.Buckets > 0 {
		return nil, fmt.Errorf("format %q does not support bucket partitioning", ec.Format)
	}
	open := func(path string) (*datasetwriter.CSVTableWriter, error) {
		return datasetwriter.NewCSVTableWriter(path, datasetwriter.CSVWriterConfig{
			Header:           []string{"id", "worker", "message"},
			CompressionLevel: ec.CompressionLevel,
		})
	}

	dw, err := datasetwriter.NewParallelDatasetWriter[*datasetwriter.CSVTableWriter, datasetwriter.Result](dir, open)
	if err != nil {
		return nil, err
	}

	err = runWorkers(ec.Workers, func(worker int) error {
		w, release, err := dw.Writer(worker)
		if err != nil {
			return err
		}
		defer release()
		for i := range ec.RowsPerWorker {
			id := rowID(worker, i, ec.RowsPerWorker)
			record := []string{
				strconv.FormatInt(id, 10),
				strconv.Itoa(worker),
				runID + "-" + strconv.Itoa(i),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_, _ = dw.CloseAll()
		return nil, err
	}
	return dw.CloseAll()
}

func exportZstd(dir, runID string, ec config.ExportConfig) ([]datasetwriter.Result, error) {
	if ec.Buckets > 0 {
		return nil, fmt.Errorf("format %q does not support bucket partitioning", ec.Format)
	}
	open := func(path string) (*datasetwriter.ZstdTableWriter, error) {
		return datasetwriter.NewZstdTableWriter(path, datasetwriter.ZstdWriterConfig{
			CompressionLevel: ec.CompressionLevel,
		})
	}

	dw, err := datasetwriter.NewParallelDatasetWriter[*datasetwriter.ZstdTableWriter, datasetwriter.Result](dir, open)
	if err != nil {
		return nil, err
	}

	err = runWorkers(ec.Workers, func(worker int) error {
		w, release, err := dw.Writer(worker)
		if err != nil {
			return err
		}
		defer release()
		for i := range ec.RowsPerWorker {
			id := rowID(worker, i, ec.RowsPerWorker)
			line := fmt.Appendf(nil, "%d\t%d\t%s-%d\n", id, worker, runID, i)
			if _, err := w.Write(line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_, _ = dw.CloseAll()
		return nil, err
	}
	return dw.CloseAll()
}
