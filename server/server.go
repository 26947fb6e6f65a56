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

package server

import (
	"context"
	"time"

	"github.com/gorse-io/userknn/base/log"
	"github.com/gorse-io/userknn/config"
	"github.com/gorse-io/userknn/dataset"
	"github.com/gorse-io/userknn/logics"
	"github.com/gorse-io/userknn/storage"
	"github.com/gorse-io/userknn/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Server loads interactions, fits models and serves recommendations.
type Server struct {
	*RestServer
	config *config.Config
}

func NewServer(cfg *config.Config) *Server {
	return &Server{config: cfg}
}

// LoadInteractions reads interactions from the CSV file and the data store. The data store
// is filled with the CSV file if it is empty.
func LoadInteractions(ctx context.Context, cfg config.DatabaseConfig) ([]dataset.Interaction, error) {
	var (
		interactions []dataset.Interaction
		err          error
	)
	if cfg.CSVPath != "" {
		start := time.Now()
		interactions, err = dataset.LoadCSV(cfg.CSVPath, cfg.CSVSep, cfg.CSVHeader)
		if err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("load interactions from csv",
			zap.String("path", cfg.CSVPath),
			zap.Int("n_interactions", len(interactions)),
			zap.Duration("used_time", time.Since(start)))
	}
	if cfg.DataStore == "" {
		if cfg.CSVPath == "" {
			return nil, errors.NotValidf("neither data store nor csv path")
		}
		return interactions, nil
	}

	database, err := OpenDataStore(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Logger().Error("failed to close data store", zap.Error(err))
		}
	}()
	if err = database.Init(); err != nil {
		return nil, errors.Trace(err)
	}
	count, err := database.CountInteractions(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if count == 0 && len(interactions) > 0 {
		if err = database.BatchInsertInteractions(ctx, interactions); err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("import interactions into data store",
			zap.String("data_store", log.RedactDBURL(cfg.DataStore)),
			zap.Int("n_interactions", len(interactions)))
	}
	start := time.Now()
	interactions, err = database.GetInteractions(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load interactions from data store",
		zap.String("data_store", log.RedactDBURL(cfg.DataStore)),
		zap.Int("n_interactions", len(interactions)),
		zap.Duration("used_time", time.Since(start)))
	return interactions, nil
}

// OpenDataStore connects to the data store with the pool settings in cfg.SQL.
func OpenDataStore(cfg config.DatabaseConfig) (data.Database, error) {
	opts := []storage.Option{
		storage.WithIsolationLevel(cfg.SQL.IsolationLevel),
		storage.WithMaxOpenConns(cfg.SQL.MaxOpenConns),
		storage.WithMaxIdleConns(cfg.SQL.MaxIdleConns),
		storage.WithConnMaxLifetime(cfg.SQL.ConnMaxLifetime),
	}
	database, err := data.Open(cfg.DataStore, cfg.TablePrefix, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("connect data store", append([]zap.Field{
		zap.String("data_store", log.RedactDBURL(cfg.DataStore)),
	}, storage.NewOptions(opts...).ZapFields()...)...)
	return database, nil
}

// Serve loads interactions, fits models and starts the REST API. It blocks until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	interactions, err := LoadInteractions(ctx, s.config.Database)
	if err != nil {
		return errors.Trace(err)
	}
	NumInteractions.Set(float64(len(interactions)))
	models, err := logics.NewModels(ctx, s.config.Recommend, interactions)
	if err != nil {
		return errors.Trace(err)
	}
	NumModels.Set(float64(len(models)))
	s.RestServer = NewRestServer(s.config, models)
	return s.StartHttpServer(ctx)
}
