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

package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	Export ExportConfig `mapstructure:"export"`
}

// ExportConfig holds the defaults for the export command. Command-line
// flags override these values.
type ExportConfig struct {
	// Dir is the directory dataset run directories are created under.
	Dir string `mapstructure:"dir"`

	// Workers is the number of concurrent export workers.
	Workers int `mapstructure:"workers"`

	// RowsPerWorker is the number of rows each worker generates.
	RowsPerWorker int `mapstructure:"rows_per_worker"`

	// Format selects the output backend: parquet, goparquet, ipc, csv or
	// zstd.
	Format string `mapstructure:"format"`

	// RowGroupLength is the target rows per parquet row group.
	RowGroupLength int64 `mapstructure:"row_group_length"`

	// CompressionLevel is the zstd level used by the backends.
	CompressionLevel int `mapstructure:"compression_level"`

	// PartitionColumn names the Hive partition column when Buckets > 0.
	PartitionColumn string `mapstructure:"partition_column"`

	// Buckets is the number of hash buckets for partitioned output, or 0
	// for unpartitioned output.
	Buckets int `mapstructure:"buckets"`
}

// DefaultExportConfig returns the built-in export defaults.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Dir:             "dataset",
		Workers:         4,
		RowsPerWorker:   100_000,
		Format:          "parquet",
		PartitionColumn: "bucket",
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "DATASETWRITER" and the dot
// character in keys is replaced by an underscore. For example,
// "export.workers" becomes "DATASETWRITER_EXPORT_WORKERS".
func Load() (*Config, error) {
	cfg := &Config{
		Export: DefaultExportConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("DATASETWRITER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
