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
	"github.com/gorse-io/userknn/base/heap"
	"github.com/gorse-io/userknn/dataset"
)

// Popular ranks items by the number of interactions. Items with the same count are ranked
// by their first appearance.
type Popular struct {
	items []int64
}

// NewPopular keeps the topK most popular items. All items are kept if topK <= 0.
func NewPopular(interactions []dataset.Interaction, topK int) *Popular {
	items := dataset.NewDict()
	for _, interaction := range interactions {
		items.Add(interaction.ItemId)
	}
	if topK <= 0 {
		topK = items.Count()
	}
	filter := heap.NewTopKFilter[int64, int](topK)
	for i, itemId := range items.IDs() {
		filter.Push(itemId, items.Freq(i))
	}
	popular, _ := filter.PopAll()
	return &Popular{items: popular}
}

// Get returns the first k popular items.
func (p *Popular) Get(k int) []int64 {
	if k <= 0 {
		return []int64{}
	}
	if k > len(p.items) {
		k = len(p.items)
	}
	result := make([]int64, k)
	copy(result, p.items[:k])
	return result
}

func (p *Popular) Count() int {
	return len(p.items)
}

// Recommend returns popular items regardless of the user.
func (p *Popular) Recommend(_ int64, n int) ([]int64, error) {
	return p.Get(n), nil
}
