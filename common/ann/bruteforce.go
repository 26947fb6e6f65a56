// Copyright 2024 gorse Project Authors
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

package ann

import (
	"context"
	"sort"

	"github.com/gorse-io/userknn/base/heap"
	"github.com/gorse-io/userknn/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Bruteforce is an exact index. Candidates are the rows sharing at least one
// column with the query row, found through the transposed matrix.
type Bruteforce struct {
	similarity Similarity
	matrix     *dataset.Matrix
	transpose  *dataset.Matrix
	norms      []float64
}

func NewBruteforce(similarity Similarity) *Bruteforce {
	return &Bruteforce{similarity: similarity}
}

func (b *Bruteforce) Fit(_ context.Context, matrix *dataset.Matrix) error {
	b.matrix = matrix
	b.transpose = matrix.Transpose()
	b.norms = rowNorms(matrix, b.similarity)
	return nil
}

func (b *Bruteforce) SimilarRows(q, n int) ([]lo.Tuple2[int, float32], error) {
	if b.matrix == nil {
		return nil, errNotFitted
	}
	// Check index
	if rows, _ := b.matrix.Shape(); q < 0 || q >= rows {
		return nil, errors.Errorf("index out of range: %v", q)
	}
	// Accumulate overlaps
	overlaps := make(map[int32]float64)
	indices, values := b.matrix.Row(q)
	for k, col := range indices {
		rows, weights := b.transpose.Row(int(col))
		for l, row := range rows {
			if b.similarity == Jaccard {
				overlaps[row]++
			} else {
				overlaps[row] += float64(values[k]) * float64(weights[l])
			}
		}
	}
	// Search
	candidates := lo.Keys(overlaps)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i] < candidates[j]
	})
	filter := heap.NewTopKFilter[int, float32](n)
	for _, row := range candidates {
		if int(row) == q {
			filter.Push(q, 1)
			continue
		}
		similarity := float32(score(b.similarity, overlaps[row], b.norms[q], b.norms[row]))
		if similarity > 0 {
			filter.Push(int(row), similarity)
		}
	}
	rows, similarities := filter.PopAll()
	scores := make([]lo.Tuple2[int, float32], len(rows))
	for i := range rows {
		scores[i] = lo.Tuple2[int, float32]{A: rows[i], B: similarities[i]}
	}
	return scores, nil
}
