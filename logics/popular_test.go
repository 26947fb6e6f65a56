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
	"math"
	"testing"

	"github.com/gorse-io/userknn/dataset"
	"github.com/stretchr/testify/assert"
)

func TestIDF(t *testing.T) {
	assert.InDelta(t, math.Log(2.5), IDF(2, 1), 1e-6)
	assert.InDelta(t, math.Log(2), IDF(2, 2), 1e-6)
	for n := 1; n < 100; n += 7 {
		for x := 0; x < n; x++ {
			assert.Greater(t, IDF(n, x), IDF(n, x+1))
			assert.Greater(t, IDF(n, x+1), float32(0))
		}
	}
}

func TestNewItemIDF(t *testing.T) {
	idf := NewItemIDF(scenario)
	assert.Len(t, idf, 3)
	assert.Equal(t, IDF(4, 2), idf[10])
	assert.Equal(t, IDF(4, 1), idf[20])
	assert.Equal(t, IDF(4, 1), idf[30])
	_, exist := idf[40]
	assert.False(t, exist)
	assert.Empty(t, NewItemIDF(nil))
}

func TestPopular(t *testing.T) {
	interactions := []dataset.Interaction{
		{UserId: 1, ItemId: 3},
		{UserId: 1, ItemId: 1},
		{UserId: 2, ItemId: 2},
		{UserId: 2, ItemId: 1},
		{UserId: 3, ItemId: 2},
		{UserId: 3, ItemId: 4},
		{UserId: 4, ItemId: 1},
	}
	popular := NewPopular(interactions, 0)
	assert.Equal(t, 4, popular.Count())
	// ties are ranked by first appearance
	assert.Equal(t, []int64{1, 2, 3, 4}, popular.Get(10))
	assert.Equal(t, []int64{1, 2}, popular.Get(2))
	assert.Empty(t, popular.Get(0))
	assert.Empty(t, popular.Get(-1))

	popular = NewPopular(interactions, 3)
	assert.Equal(t, []int64{1, 2, 3}, popular.Get(10))
	items, err := popular.Recommend(100, 2)
	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, items)

	assert.Empty(t, NewPopular(nil, 10).Get(10))
}

func TestPopularGetCopy(t *testing.T) {
	popular := NewPopular(scenario, 0)
	items := popular.Get(3)
	items[0] = 100
	assert.Equal(t, []int64{10, 20, 30}, popular.Get(3))
}
