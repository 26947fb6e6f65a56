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
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/userknn/base/heap"
	"github.com/gorse-io/userknn/base/log"
	"github.com/gorse-io/userknn/common/ann"
	"github.com/gorse-io/userknn/config"
	"github.com/gorse-io/userknn/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrNotFitted = errors.New("model is not fitted")

// userKNNState is an immutable snapshot produced by a successful fit.
type userKNNState struct {
	users   *dataset.Dict
	items   *dataset.Dict
	matrix  *dataset.Matrix
	index   ann.Index
	idf     ItemIDF
	popular *Popular
}

// UserKNN recommends items consumed by similar users. Neighbors are rows of the user-item
// matrix found by an ann.Index, weighted by similarity and item IDF.
type UserKNN struct {
	numNeighbors int
	numPopular   int
	excludeSeen  bool
	newIndex     func() (ann.Index, error)
	state        atomic.Pointer[userKNNState]
}

func NewUserKNN(cfg config.NeighborConfig, numPopular int) (*UserKNN, error) {
	newIndex := func() (ann.Index, error) {
		return ann.NewIndex(ann.IndexType(cfg.Index), ann.Similarity(cfg.Similarity), cfg.NumJobs)
	}
	if _, err := newIndex(); err != nil {
		return nil, errors.Trace(err)
	}
	return &UserKNN{
		numNeighbors: cfg.NumNeighbors,
		numPopular:   numPopular,
		excludeSeen:  cfg.ExcludeSeen,
		newIndex:     newIndex,
	}, nil
}

func (m *UserKNN) IsFitted() bool {
	return m.state.Load() != nil
}

// Fit builds a new state from interactions and replaces the current one. The current state
// is kept if fitting fails.
func (m *UserKNN) Fit(ctx context.Context, interactions []dataset.Interaction) error {
	start := time.Now()
	ds, err := dataset.NewDataset(interactions)
	if err != nil {
		return errors.Trace(err)
	}
	index, err := m.newIndex()
	if err != nil {
		return errors.Trace(err)
	}
	if err = index.Fit(ctx, ds.GetMatrix()); err != nil {
		return errors.Trace(err)
	}
	m.state.Store(&userKNNState{
		users:   ds.GetUserDict(),
		items:   ds.GetItemDict(),
		matrix:  ds.GetMatrix(),
		index:   index,
		idf:     NewItemIDF(interactions),
		popular: NewPopular(interactions, m.numPopular),
	})
	log.Logger().Info("fit user-knn model",
		zap.Int("n_users", ds.CountUsers()),
		zap.Int("n_items", ds.CountItems()),
		zap.Int("n_interactions", ds.CountInteractions()),
		zap.Duration("used_time", time.Since(start)))
	return nil
}

// Predict recommends k items for each user. Users absent from the training set receive
// the most popular items of popularityRecords, or of the training set if popularityRecords
// is nil.
func (m *UserKNN) Predict(users []int64, popularityRecords []dataset.Interaction, k int) (map[int64][]int64, error) {
	state := m.state.Load()
	if state == nil {
		return nil, ErrNotFitted
	}
	popular := state.popularity(popularityRecords, k)
	results := make(map[int64][]int64, len(users))
	var numCold int
	for _, userId := range lo.Uniq(users) {
		userIndex, ok := state.users.ToIndex(userId)
		if !ok {
			results[userId] = popular.Get(k)
			numCold++
			continue
		}
		items, err := m.predict(state, userIndex, popular, k)
		if err != nil {
			return nil, errors.Trace(err)
		}
		results[userId] = items
	}
	log.Logger().Debug("predict user-knn model",
		zap.Int("n_users", len(results)),
		zap.Int("n_cold_users", numCold),
		zap.Int("k", k))
	return results, nil
}

// PredictOne recommends k items for a single user.
func (m *UserKNN) PredictOne(userId int64, popularityRecords []dataset.Interaction, k int) ([]int64, error) {
	state := m.state.Load()
	if state == nil {
		return nil, ErrNotFitted
	}
	popular := state.popularity(popularityRecords, k)
	userIndex, ok := state.users.ToIndex(userId)
	if !ok {
		return popular.Get(k), nil
	}
	return m.predict(state, userIndex, popular, k)
}

// Recommend recommends n items for a user with the popularity of the training set.
func (m *UserKNN) Recommend(userId int64, n int) ([]int64, error) {
	return m.PredictOne(userId, nil, n)
}

func (s *userKNNState) popularity(records []dataset.Interaction, k int) *Popular {
	if records == nil {
		return s.popular
	}
	return NewPopular(records, k)
}

func (m *UserKNN) predict(state *userKNNState, userIndex int, popular *Popular, k int) ([]int64, error) {
	if k <= 0 {
		return []int64{}, nil
	}
	neighbors, err := state.index.SimilarRows(userIndex, m.numNeighbors)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// keep the most similar neighbor for each item
	best := make(map[int32]float32)
	for _, neighbor := range neighbors {
		if neighbor.A == userIndex || neighbor.B >= 1 {
			continue
		}
		indices, _ := state.matrix.Row(neighbor.A)
		for _, itemIndex := range indices {
			if sim, exist := best[itemIndex]; !exist || neighbor.B > sim {
				best[itemIndex] = neighbor.B
			}
		}
	}
	var seen mapset.Set[int32]
	if m.excludeSeen {
		indices, _ := state.matrix.Row(userIndex)
		seen = mapset.NewThreadUnsafeSet(indices...)
	}
	candidates := make([]int64, 0, len(best))
	scores := make(map[int64]float32, len(best))
	for itemIndex, sim := range best {
		if seen != nil && seen.Contains(itemIndex) {
			continue
		}
		itemId, _ := state.items.ToID(int(itemIndex))
		idf, exist := state.idf[itemId]
		if !exist {
			continue
		}
		candidates = append(candidates, itemId)
		scores[itemId] = sim * idf
	}
	// equal scores are ranked by ascending item ids
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i] < candidates[j]
	})
	filter := heap.NewTopKFilter[int64, float32](k)
	for _, itemId := range candidates {
		filter.Push(itemId, scores[itemId])
	}
	items, _ := filter.PopAll()
	if len(items) == 0 {
		return popular.Get(k), nil
	}
	return items, nil
}
