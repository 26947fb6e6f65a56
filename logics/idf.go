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
	"github.com/chewxy/math32"
	"github.com/gorse-io/userknn/dataset"
)

// IDF returns the inverse document frequency of an item mentioned by docFreq out of n records.
func IDF(n, docFreq int) float32 {
	return math32.Log(float32(1+n)/float32(1+docFreq) + 1)
}

// ItemIDF maps item ids to inverse document frequencies.
type ItemIDF map[int64]float32

func NewItemIDF(interactions []dataset.Interaction) ItemIDF {
	docFreq := make(map[int64]int)
	for _, interaction := range interactions {
		docFreq[interaction.ItemId]++
	}
	idf := make(ItemIDF, len(docFreq))
	for itemId, freq := range docFreq {
		idf[itemId] = IDF(len(interactions), freq)
	}
	return idf
}
