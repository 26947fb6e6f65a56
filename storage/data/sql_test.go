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

package data

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorse-io/userknn/dataset"
	"github.com/gorse-io/userknn/storage"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type SQLiteTestSuite struct {
	suite.Suite
	Database
}

func (suite *SQLiteTestSuite) SetupTest() {
	var err error
	path := filepath.Join(suite.T().TempDir(), "sqlite.db")
	suite.Database, err = Open(storage.SQLitePrefix+path, "knn_", storage.WithMaxOpenConns(1))
	suite.NoError(err)
	suite.NoError(suite.Init())
}

func (suite *SQLiteTestSuite) TestPoolOptions() {
	database, ok := suite.Database.(*SQLDatabase)
	suite.True(ok)
	suite.Equal(1, database.Options().MaxOpenConns)
	suite.Equal(1, database.client.Stats().MaxOpenConnections)
}

func (suite *SQLiteTestSuite) TearDownTest() {
	suite.NoError(suite.Database.Close())
}

func (suite *SQLiteTestSuite) TestInteractions() {
	ctx := context.Background()
	timestamp := time.Date(2022, 5, 1, 12, 30, 0, 0, time.UTC)
	interactions := []dataset.Interaction{
		{UserId: 1, ItemId: 10, Weight: 1, Timestamp: timestamp},
		{UserId: 1, ItemId: 20, Weight: 2.5, Timestamp: timestamp.Add(time.Hour)},
		{UserId: 2, ItemId: 10},
		{UserId: 1, ItemId: 10, Weight: 3},
	}
	suite.NoError(suite.BatchInsertInteractions(ctx, interactions))
	suite.NoError(suite.BatchInsertInteractions(ctx, nil))

	count, err := suite.CountInteractions(ctx)
	suite.NoError(err)
	suite.Equal(4, count)

	result, err := suite.GetInteractions(ctx)
	suite.NoError(err)
	suite.Len(result, 4)
	for i := range interactions {
		suite.Equal(interactions[i].UserId, result[i].UserId)
		suite.Equal(interactions[i].ItemId, result[i].ItemId)
		suite.Equal(interactions[i].Weight, result[i].Weight)
		suite.True(interactions[i].Timestamp.Equal(result[i].Timestamp), result[i].Timestamp)
	}

	// purge
	suite.NoError(suite.Purge())
	result, err = suite.GetInteractions(ctx)
	suite.NoError(err)
	suite.Empty(result)
}

func (suite *SQLiteTestSuite) TestInteractionStream() {
	ctx := context.Background()
	interactions := make([]dataset.Interaction, 25)
	for i := range interactions {
		interactions[i] = dataset.Interaction{UserId: int64(i % 5), ItemId: int64(i)}
	}
	suite.NoError(suite.BatchInsertInteractions(ctx, interactions))

	interactionChan, errChan := suite.GetInteractionStream(ctx, 10)
	var sizes []int
	var itemIds []int64
	for batch := range interactionChan {
		sizes = append(sizes, len(batch))
		for _, interaction := range batch {
			itemIds = append(itemIds, interaction.ItemId)
		}
	}
	suite.NoError(<-errChan)
	suite.Equal([]int{10, 10, 5}, sizes)
	suite.Len(itemIds, 25)
	for i, itemId := range itemIds {
		suite.Equal(int64(i), itemId)
	}
}

func TestSQLite(t *testing.T) {
	suite.Run(t, new(SQLiteTestSuite))
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open("redis://127.0.0.1:6379", "")
	assert.True(t, errors.Is(err, errors.NotSupported))
}
