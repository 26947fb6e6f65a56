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

package dataset

import (
	"sort"

	"github.com/samber/lo"
)

// Matrix is a sparse matrix in compressed sparse row format. Column indices are
// sorted within each row. A Matrix is immutable once built.
type Matrix struct {
	rows    int
	cols    int
	indptr  []int32
	indices []int32
	values  []float32
}

// NewMatrix builds the user-item matrix of interactions. Rows are user indices and
// columns are item indices. Interactions whose user or item is missing from the
// dictionaries are dropped. Weights of repeated (user, item) pairs are summed.
func NewMatrix(interactions []Interaction, users, items *Dict) *Matrix {
	entries := make([][]lo.Tuple2[int32, float32], users.Count())
	for _, interaction := range interactions {
		userIndex, ok := users.ToIndex(interaction.UserId)
		if !ok {
			continue
		}
		itemIndex, ok := items.ToIndex(interaction.ItemId)
		if !ok {
			continue
		}
		entries[userIndex] = append(entries[userIndex], lo.Tuple2[int32, float32]{
			A: int32(itemIndex),
			B: interaction.GetWeight(),
		})
	}
	return newMatrixFromEntries(entries, items.Count())
}

func newMatrixFromEntries(entries [][]lo.Tuple2[int32, float32], cols int) *Matrix {
	m := &Matrix{
		rows:   len(entries),
		cols:   cols,
		indptr: make([]int32, len(entries)+1),
	}
	for i, row := range entries {
		sort.SliceStable(row, func(a, b int) bool {
			return row[a].A < row[b].A
		})
		for j, entry := range row {
			if j > 0 && row[j-1].A == entry.A {
				m.values[len(m.values)-1] += entry.B
				continue
			}
			m.indices = append(m.indices, entry.A)
			m.values = append(m.values, entry.B)
		}
		m.indptr[i+1] = int32(len(m.indices))
	}
	return m
}

// Shape returns the number of rows and columns.
func (m *Matrix) Shape() (int, int) {
	return m.rows, m.cols
}

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int {
	return len(m.indices)
}

// Row returns column indices and values of the i-th row. The returned slices
// must not be modified.
func (m *Matrix) Row(i int) ([]int32, []float32) {
	begin, end := m.indptr[i], m.indptr[i+1]
	return m.indices[begin:end], m.values[begin:end]
}

// Get returns the value at (i, j), zero if absent.
func (m *Matrix) Get(i, j int) float32 {
	indices, values := m.Row(i)
	k := sort.Search(len(indices), func(k int) bool {
		return indices[k] >= int32(j)
	})
	if k < len(indices) && indices[k] == int32(j) {
		return values[k]
	}
	return 0
}

// Transpose returns the column-major view of the matrix as a new CSR matrix.
func (m *Matrix) Transpose() *Matrix {
	entries := make([][]lo.Tuple2[int32, float32], m.cols)
	for i := 0; i < m.rows; i++ {
		indices, values := m.Row(i)
		for k, j := range indices {
			entries[j] = append(entries[j], lo.Tuple2[int32, float32]{A: int32(i), B: values[k]})
		}
	}
	return newMatrixFromEntries(entries, m.rows)
}
