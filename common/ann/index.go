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

package ann

import (
	"context"
	"math"

	"github.com/gorse-io/userknn/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Index finds the rows of a matrix most similar to a given row. Results are
// ordered by decreasing similarity and contain the query row itself with
// similarity 1 if the row is not empty.
type Index interface {
	Fit(ctx context.Context, matrix *dataset.Matrix) error
	SimilarRows(row, n int) ([]lo.Tuple2[int, float32], error)
}

type Similarity string

const (
	Cosine  Similarity = "cosine"
	Jaccard Similarity = "jaccard"
)

type IndexType string

const (
	TypeBruteforce IndexType = "bruteforce"
	TypeHNSW       IndexType = "hnsw"
)

// NewIndex creates an unfitted index.
func NewIndex(indexType IndexType, similarity Similarity, jobs int) (Index, error) {
	if similarity != Cosine && similarity != Jaccard {
		return nil, errors.NotSupportedf("similarity %q", similarity)
	}
	switch indexType {
	case TypeBruteforce:
		return NewBruteforce(similarity), nil
	case TypeHNSW:
		return NewHNSW(similarity, jobs), nil
	}
	return nil, errors.NotSupportedf("index %q", indexType)
}

var errNotFitted = errors.New("index is not fitted")

// rowNorms returns the L2 norm of each row for cosine similarity and the
// number of entries of each row for Jaccard similarity.
func rowNorms(matrix *dataset.Matrix, similarity Similarity) []float64 {
	rows, _ := matrix.Shape()
	norms := make([]float64, rows)
	for i := range norms {
		indices, values := matrix.Row(i)
		if similarity == Jaccard {
			norms[i] = float64(len(indices))
			continue
		}
		for _, v := range values {
			norms[i] += float64(v) * float64(v)
		}
		norms[i] = math.Sqrt(norms[i])
	}
	return norms
}

// score converts the accumulated overlap of two rows into a similarity. The
// overlap is the dot product for cosine and the intersection size for Jaccard.
func score(similarity Similarity, overlap, normA, normB float64) float64 {
	switch similarity {
	case Jaccard:
		union := normA + normB - overlap
		if union <= 0 {
			return 0
		}
		return overlap / union
	default:
		if normA == 0 || normB == 0 {
			return 0
		}
		return overlap / (normA * normB)
	}
}
