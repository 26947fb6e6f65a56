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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorse-io/userknn/config"
	"github.com/gorse-io/userknn/storage"
	"github.com/gorse-io/userknn/storage/data"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func writeCSV(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "interactions.csv")
	assert.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoadInteractionsFromCSV(t *testing.T) {
	cfg := config.GetDefaultConfig().Database
	cfg.DataStore = ""
	cfg.CSVPath = writeCSV(t, "user_id,item_id,weight\n1,10,1\n1,20,2\n2,10,\n")
	interactions, err := LoadInteractions(context.Background(), cfg)
	assert.NoError(t, err)
	assert.Len(t, interactions, 3)
	assert.Equal(t, int64(20), interactions[1].ItemId)
	assert.Equal(t, float32(2), interactions[1].Weight)
}

func TestLoadInteractionsFromDataStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.GetDefaultConfig().Database
	cfg.DataStore = storage.SQLitePrefix + filepath.Join(t.TempDir(), "data.db")
	cfg.TablePrefix = "knn_"
	cfg.CSVPath = writeCSV(t, "user_id,item_id\n1,10\n1,20\n2,10\n2,30\n")

	// the empty data store is filled with the csv file
	interactions, err := LoadInteractions(ctx, cfg)
	assert.NoError(t, err)
	assert.Len(t, interactions, 4)

	// the data store is not filled twice
	interactions, err = LoadInteractions(ctx, cfg)
	assert.NoError(t, err)
	assert.Len(t, interactions, 4)

	cfg.CSVPath = ""
	interactions, err = LoadInteractions(ctx, cfg)
	assert.NoError(t, err)
	assert.Len(t, interactions, 4)
	assert.Equal(t, int64(2), interactions[3].UserId)
	assert.Equal(t, int64(30), interactions[3].ItemId)
}

func TestOpenDataStoreOptions(t *testing.T) {
	cfg := config.GetDefaultConfig().Database
	cfg.DataStore = storage.SQLitePrefix + filepath.Join(t.TempDir(), "data.db")
	cfg.SQL = config.SQLConfig{
		IsolationLevel:  storage.ReadCommitted,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}
	database, err := OpenDataStore(cfg)
	assert.NoError(t, err)
	sqlDatabase, ok := database.(*data.SQLDatabase)
	assert.True(t, ok)
	assert.Equal(t, storage.Options{
		IsolationLevel:  storage.ReadCommitted,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, sqlDatabase.Options())

	assert.NoError(t, database.Close())

	// loading works with a single connection
	cfg.CSVPath = writeCSV(t, "user_id,item_id\n1,10\n2,20\n")
	interactions, err := LoadInteractions(context.Background(), cfg)
	assert.NoError(t, err)
	assert.Len(t, interactions, 2)
}

func TestLoadInteractionsInvalid(t *testing.T) {
	ctx := context.Background()
	cfg := config.GetDefaultConfig().Database
	cfg.DataStore = ""
	_, err := LoadInteractions(ctx, cfg)
	assert.True(t, errors.Is(err, errors.NotValid))

	cfg.CSVPath = writeCSV(t, "user_id,item_id\n1,abc\n")
	_, err = LoadInteractions(ctx, cfg)
	assert.True(t, errors.Is(err, errors.NotValid))

	cfg.CSVPath = ""
	cfg.DataStore = "redis://127.0.0.1:6379"
	_, err = LoadInteractions(ctx, cfg)
	assert.True(t, errors.Is(err, errors.NotSupported))
}
