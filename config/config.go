// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	ModelRange   = "range"
	ModelPopular = "popular"
	ModelUserKNN = "userknn"
)

// Config is the configuration for the recommender service.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

// DatabaseConfig is the configuration for the source of interactions.
type DatabaseConfig struct {
	DataStore   string    `mapstructure:"data_store"`
	TablePrefix string    `mapstructure:"table_prefix"`
	CSVPath     string    `mapstructure:"csv_path"`
	CSVSep      string    `mapstructure:"csv_sep" validate:"required"`
	CSVHeader   bool      `mapstructure:"csv_header"`
	SQL         SQLConfig `mapstructure:"sql"`
}

// SQLConfig is the configuration for connections to MySQL, Postgres or SQLite.
type SQLConfig struct {
	IsolationLevel  string        `mapstructure:"isolation_level" validate:"oneof=READ-UNCOMMITTED READ-COMMITTED REPEATABLE-READ SERIALIZABLE"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey    string `mapstructure:"api_key"`
	DefaultN  int    `mapstructure:"default_n" validate:"gt=0"`
	MaxUserId int64  `mapstructure:"max_user_id" validate:"gt=0"`
}

type RecommendConfig struct {
	NumPopular int            `mapstructure:"num_popular" validate:"gte=0"`
	Models     []ModelConfig  `mapstructure:"models" validate:"required,dive"`
	Neighbor   NeighborConfig `mapstructure:"neighbor"`
}

// ModelConfig registers a recommender under a name.
type ModelConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Type string `mapstructure:"type" validate:"oneof=range popular userknn"`
}

// NeighborConfig is the configuration for the user-KNN recommender.
type NeighborConfig struct {
	Index        string `mapstructure:"index" validate:"oneof=bruteforce hnsw"`
	Similarity   string `mapstructure:"similarity" validate:"oneof=cosine jaccard"`
	NumNeighbors int    `mapstructure:"num_neighbors" validate:"gt=0"`
	ExcludeSeen  bool   `mapstructure:"exclude_seen"`
	NumJobs      int    `mapstructure:"num_jobs" validate:"gt=0"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			CSVSep:    ",",
			CSVHeader: true,
			SQL: SQLConfig{
				IsolationLevel: "READ-UNCOMMITTED",
			},
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			DefaultN:  10,
			MaxUserId: 1_000_000_000,
		},
		Recommend: RecommendConfig{
			NumPopular: 100,
			Models: []ModelConfig{
				{Name: "test", Type: ModelRange},
				{Name: "popular", Type: ModelPopular},
				{Name: "userknn", Type: ModelUserKNN},
			},
			Neighbor: NeighborConfig{
				Index:        "bruteforce",
				Similarity:   "cosine",
				NumNeighbors: 50,
				NumJobs:      1,
			},
		},
	}
}

func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Annotate(err, "invalid config")
	}
	names := make(map[string]struct{}, len(config.Recommend.Models))
	for _, model := range config.Recommend.Models {
		if _, exist := names[model.Name]; exist {
			return errors.NotValidf("duplicate model name %q", model.Name)
		}
		names[model.Name] = struct{}{}
	}
	return nil
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	v.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	v.SetDefault("database.csv_path", defaultConfig.Database.CSVPath)
	v.SetDefault("database.csv_sep", defaultConfig.Database.CSVSep)
	v.SetDefault("database.csv_header", defaultConfig.Database.CSVHeader)
	// [database.sql]
	v.SetDefault("database.sql.isolation_level", defaultConfig.Database.SQL.IsolationLevel)
	v.SetDefault("database.sql.max_open_conns", defaultConfig.Database.SQL.MaxOpenConns)
	v.SetDefault("database.sql.max_idle_conns", defaultConfig.Database.SQL.MaxIdleConns)
	v.SetDefault("database.sql.conn_max_lifetime", defaultConfig.Database.SQL.ConnMaxLifetime)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("server.api_key", defaultConfig.Server.APIKey)
	v.SetDefault("server.default_n", defaultConfig.Server.DefaultN)
	v.SetDefault("server.max_user_id", defaultConfig.Server.MaxUserId)
	// [recommend]
	v.SetDefault("recommend.num_popular", defaultConfig.Recommend.NumPopular)
	v.SetDefault("recommend.models", defaultConfig.Recommend.Models)
	// [recommend.neighbor]
	v.SetDefault("recommend.neighbor.index", defaultConfig.Recommend.Neighbor.Index)
	v.SetDefault("recommend.neighbor.similarity", defaultConfig.Recommend.Neighbor.Similarity)
	v.SetDefault("recommend.neighbor.num_neighbors", defaultConfig.Recommend.Neighbor.NumNeighbors)
	v.SetDefault("recommend.neighbor.exclude_seen", defaultConfig.Recommend.Neighbor.ExcludeSeen)
	v.SetDefault("recommend.neighbor.num_jobs", defaultConfig.Recommend.Neighbor.NumJobs)
}

type configBinding struct {
	key string
	env string
}

func bindEnv(v *viper.Viper) error {
	bindings := []configBinding{
		{"database.data_store", "USERKNN_DATA_STORE"},
		{"database.table_prefix", "USERKNN_TABLE_PREFIX"},
		{"database.csv_path", "USERKNN_CSV_PATH"},
		{"database.sql.isolation_level", "USERKNN_SQL_ISOLATION_LEVEL"},
		{"database.sql.max_open_conns", "USERKNN_SQL_MAX_OPEN_CONNS"},
		{"database.sql.max_idle_conns", "USERKNN_SQL_MAX_IDLE_CONNS"},
		{"database.sql.conn_max_lifetime", "USERKNN_SQL_CONN_MAX_LIFETIME"},
		{"server.host", "USERKNN_SERVER_HOST"},
		{"server.port", "USERKNN_SERVER_PORT"},
		{"server.api_key", "USERKNN_SERVER_API_KEY"},
		{"server.default_n", "USERKNN_SERVER_DEFAULT_N"},
		{"recommend.neighbor.num_jobs", "USERKNN_NUM_JOBS"},
	}
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a TOML file. Values missing in the file fall back to
// defaults and environment variables override both. An empty path loads defaults only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	if err := bindEnv(v); err != nil {
		return nil, errors.Trace(err)
	}
	if path != "" {
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}
