// Copyright 2025 gorse Project Authors
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

package logics

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/userknn/common/ann"
	"github.com/gorse-io/userknn/config"
	"github.com/gorse-io/userknn/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

var scenario = []dataset.Interaction{
	{UserId: 1, ItemId: 10},
	{UserId: 1, ItemId: 20},
	{UserId: 2, ItemId: 10},
	{UserId: 2, ItemId: 30},
}

func neighborConfig() config.NeighborConfig {
	return config.NeighborConfig{
		Index:        "bruteforce",
		Similarity:   "cosine",
		NumNeighbors: 5,
		NumJobs:      1,
	}
}

type mockIndex struct {
	neighbors map[int][]lo.Tuple2[int, float32]
}

func (m *mockIndex) Fit(context.Context, *dataset.Matrix) error {
	return nil
}

func (m *mockIndex) SimilarRows(q, n int) ([]lo.Tuple2[int, float32], error) {
	neighbors := m.neighbors[q]
	if len(neighbors) > n {
		neighbors = neighbors[:n]
	}
	return neighbors, nil
}

func newMockUserKNN(index ann.Index) *UserKNN {
	return &UserKNN{
		numNeighbors: 10,
		newIndex: func() (ann.Index, error) {
			return index, nil
		},
	}
}

type UserKNNTestSuite struct {
	suite.Suite
	model *UserKNN
}

func (suite *UserKNNTestSuite) SetupTest() {
	var err error
	suite.model, err = NewUserKNN(neighborConfig(), 100)
	suite.NoError(err)
	suite.NoError(suite.model.Fit(context.Background(), scenario))
}

func (suite *UserKNNTestSuite) TestScenario() {
	// item 30 comes from user 2 and is rarer than item 10
	items, err := suite.model.PredictOne(1, nil, 2)
	suite.NoError(err)
	suite.Equal([]int64{30, 10}, items)

	items, err = suite.model.PredictOne(2, nil, 10)
	suite.NoError(err)
	suite.Equal([]int64{20, 10}, items)
}

func (suite *UserKNNTestSuite) TestExcludeSeen() {
	cfg := neighborConfig()
	cfg.ExcludeSeen = true
	model, err := NewUserKNN(cfg, 100)
	suite.NoError(err)
	suite.NoError(model.Fit(context.Background(), scenario))
	items, err := model.PredictOne(1, nil, 2)
	suite.NoError(err)
	suite.Equal([]int64{30}, items)
}

func (suite *UserKNNTestSuite) TestColdUser() {
	items, err := suite.model.PredictOne(999999, nil, 3)
	suite.NoError(err)
	suite.Equal([]int64{10, 20, 30}, items)

	results, err := suite.model.Predict([]int64{999999}, nil, 3)
	suite.NoError(err)
	suite.Equal(map[int64][]int64{999999: {10, 20, 30}}, results)

	// popularity from other interactions
	records := []dataset.Interaction{
		{UserId: 7, ItemId: 40},
		{UserId: 8, ItemId: 50},
		{UserId: 9, ItemId: 50},
	}
	items, err = suite.model.PredictOne(999999, records, 3)
	suite.NoError(err)
	suite.Equal([]int64{50, 40}, items)
	results, err = suite.model.Predict([]int64{999999, 1}, records, 1)
	suite.NoError(err)
	suite.Equal(map[int64][]int64{999999: {50}, 1: {30}}, results)
}

func (suite *UserKNNTestSuite) TestZeroK() {
	items, err := suite.model.PredictOne(1, nil, 0)
	suite.NoError(err)
	suite.Empty(items)
	items, err = suite.model.PredictOne(999999, nil, 0)
	suite.NoError(err)
	suite.Empty(items)

	results, err := suite.model.Predict([]int64{1, 999999}, nil, 0)
	suite.NoError(err)
	suite.Len(results, 2)
	suite.Empty(results[1])
	suite.Empty(results[999999])
}

func (suite *UserKNNTestSuite) TestPredictBatch() {
	results, err := suite.model.Predict([]int64{1, 2, 1, 3}, nil, 2)
	suite.NoError(err)
	suite.Len(results, 3)
	for _, userId := range []int64{1, 2, 3} {
		items, err := suite.model.PredictOne(userId, nil, 2)
		suite.NoError(err)
		suite.Equal(items, results[userId])
	}
}

func (suite *UserKNNTestSuite) TestRecommend() {
	var recommender Recommender = suite.model
	items, err := recommender.Recommend(1, 10)
	suite.NoError(err)
	suite.Equal([]int64{30, 10}, items)
}

func (suite *UserKNNTestSuite) TestFitInvalid() {
	err := suite.model.Fit(context.Background(), []dataset.Interaction{{UserId: 1, ItemId: 10, Weight: -1}})
	suite.True(errors.Is(err, errors.NotValid))
	// the previous state is kept
	items, err := suite.model.PredictOne(1, nil, 2)
	suite.NoError(err)
	suite.Equal([]int64{30, 10}, items)
}

func TestUserKNN(t *testing.T) {
	suite.Run(t, new(UserKNNTestSuite))
}

func TestUserKNNNotFitted(t *testing.T) {
	model, err := NewUserKNN(neighborConfig(), 100)
	assert.NoError(t, err)
	assert.False(t, model.IsFitted())
	_, err = model.Predict([]int64{1}, nil, 10)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = model.PredictOne(1, nil, 10)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = model.Recommend(1, 10)
	assert.ErrorIs(t, err, ErrNotFitted)

	err = model.Fit(context.Background(), []dataset.Interaction{{UserId: 1, ItemId: 10, Weight: float32(math.NaN())}})
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.False(t, model.IsFitted())
}

func TestNewUserKNNInvalid(t *testing.T) {
	cfg := neighborConfig()
	cfg.Index = "faiss"
	_, err := NewUserKNN(cfg, 100)
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestUserKNNSelfExclusion(t *testing.T) {
	// user 1 -> row 0, user 2 -> row 1
	model := newMockUserKNN(&mockIndex{neighbors: map[int][]lo.Tuple2[int, float32]{
		0: {{A: 0, B: 1}, {A: 1, B: 0.5}},
		1: {{A: 1, B: 1}, {A: 0, B: 0.5}},
	}})
	assert.NoError(t, model.Fit(context.Background(), []dataset.Interaction{
		{UserId: 1, ItemId: 10},
		{UserId: 1, ItemId: 20},
		{UserId: 2, ItemId: 30},
	}))
	items, err := model.PredictOne(1, nil, 10)
	assert.NoError(t, err)
	assert.Equal(t, []int64{30}, items)
	items, err = model.PredictOne(2, nil, 10)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 20}, items)
}

func TestUserKNNDuplicateNeighbor(t *testing.T) {
	// a neighbor with similarity 1 is excluded even if it is not the user itself
	model := newMockUserKNN(&mockIndex{neighbors: map[int][]lo.Tuple2[int, float32]{
		0: {{A: 1, B: 1}, {A: 0, B: 1}},
	}})
	model.numPopular = 100
	assert.NoError(t, model.Fit(context.Background(), []dataset.Interaction{
		{UserId: 1, ItemId: 10},
		{UserId: 2, ItemId: 10},
		{UserId: 3, ItemId: 30},
		{UserId: 4, ItemId: 30},
		{UserId: 5, ItemId: 30},
	}))
	// empty personalized results fall back to popular items
	items, err := model.PredictOne(1, nil, 10)
	assert.NoError(t, err)
	assert.Equal(t, []int64{30, 10}, items)
}

func TestUserKNNBestSimilarity(t *testing.T) {
	// item 30 is reached from two neighbors and scored with the most similar one
	model := newMockUserKNN(&mockIndex{neighbors: map[int][]lo.Tuple2[int, float32]{
		0: {{A: 0, B: 1}, {A: 1, B: 0.8}, {A: 2, B: 0.2}},
	}})
	interactions := []dataset.Interaction{
		{UserId: 1, ItemId: 10},
		{UserId: 2, ItemId: 30},
		{UserId: 3, ItemId: 30},
		{UserId: 3, ItemId: 40},
	}
	assert.NoError(t, model.Fit(context.Background(), interactions))
	items, err := model.PredictOne(1, nil, 10)
	assert.NoError(t, err)
	// 0.8 * idf(4, 2) > 0.2 * idf(4, 1)
	assert.Equal(t, []int64{30, 40}, items)
}

func TestUserKNNTieBreak(t *testing.T) {
	model, err := NewUserKNN(neighborConfig(), 100)
	assert.NoError(t, err)
	assert.NoError(t, model.Fit(context.Background(), []dataset.Interaction{
		{UserId: 1, ItemId: 1},
		{UserId: 2, ItemId: 1},
		{UserId: 2, ItemId: 300},
		{UserId: 2, ItemId: 200},
		{UserId: 2, ItemId: 100},
	}))
	items, err := model.PredictOne(1, nil, 10)
	assert.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 300, 1}, items)
}

func randomInteractions(numUsers, numItems, numInteractions int) []dataset.Interaction {
	rng := rand.New(rand.NewSource(0))
	interactions := make([]dataset.Interaction, numInteractions)
	for i := range interactions {
		interactions[i] = dataset.Interaction{
			UserId: rng.Int63n(int64(numUsers)),
			ItemId: rng.Int63n(int64(numItems)),
		}
	}
	return interactions
}

func TestUserKNNProperties(t *testing.T) {
	interactions := randomInteractions(100, 200, 2000)
	for _, index := range []string{"bruteforce", "hnsw"} {
		cfg := neighborConfig()
		cfg.Index = index
		cfg.NumNeighbors = 20
		cfg.NumJobs = 4
		model, err := NewUserKNN(cfg, 100)
		assert.NoError(t, err)
		assert.NoError(t, model.Fit(context.Background(), interactions))
		users := lo.Range(110)
		results, err := model.Predict(lo.Map(users, func(u int, _ int) int64 { return int64(u) }), nil, 10)
		assert.NoError(t, err)
		assert.Len(t, results, 110)
		for userId, items := range results {
			assert.LessOrEqual(t, len(items), 10, userId)
			assert.NotEmpty(t, items, userId)
			assert.Equal(t, len(items), mapset.NewSet(items...).Cardinality(), userId)
		}
	}
}

func TestUserKNNIdempotent(t *testing.T) {
	interactions := randomInteractions(50, 100, 500)
	model, err := NewUserKNN(neighborConfig(), 100)
	assert.NoError(t, err)
	assert.NoError(t, model.Fit(context.Background(), interactions))
	first := model.state.Load()
	assert.NoError(t, model.Fit(context.Background(), interactions))
	second := model.state.Load()
	assert.Equal(t, first.users, second.users)
	assert.Equal(t, first.items, second.items)
	assert.Equal(t, first.matrix, second.matrix)
	assert.Equal(t, first.idf, second.idf)
	assert.Equal(t, first.popular, second.popular)
}

func TestUserKNNConcurrentFit(t *testing.T) {
	interactions := randomInteractions(50, 100, 500)
	model, err := NewUserKNN(neighborConfig(), 100)
	assert.NoError(t, err)
	assert.NoError(t, model.Fit(context.Background(), scenario))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				items, err := model.PredictOne(int64(j%5), nil, 5)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(items), 5)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if i%2 == 0 {
			assert.NoError(t, model.Fit(context.Background(), interactions))
		} else {
			assert.NoError(t, model.Fit(context.Background(), scenario))
		}
	}
	wg.Wait()
}
