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

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/userknn/common/parallel"
	"github.com/gorse-io/userknn/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Split holds out the latest testRatio of interactions. Interactions with the same timestamp
// keep their order.
func Split(interactions []dataset.Interaction, testRatio float64) (train, test []dataset.Interaction) {
	sorted := make([]dataset.Interaction, len(interactions))
	copy(sorted, interactions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	numTest := int(float64(len(sorted)) * testRatio)
	numTest = max(0, min(numTest, len(sorted)))
	return sorted[:len(sorted)-numTest], sorted[len(sorted)-numTest:]
}

// Score is the average of metrics over users in the test set.
type Score struct {
	Precision float32
	Recall    float32
	NDCG      float32
	HR        float32
	NumUsers  int
}

// Metric is used by evaluators in top-k tasks.
type Metric func(targetSet mapset.Set[int64], rankList []int64) float32

// Evaluate recommends k items for every user in the test set and compares them with the
// items the user interacted with. The progress callback is invoked once per user if not nil.
func Evaluate(ctx context.Context, model Recommender, test []dataset.Interaction, k, jobs int, progress func()) (Score, error) {
	targets := make(map[int64]mapset.Set[int64])
	for _, interaction := range test {
		if _, exist := targets[interaction.UserId]; !exist {
			targets[interaction.UserId] = mapset.NewThreadUnsafeSet[int64]()
		}
		targets[interaction.UserId].Add(interaction.ItemId)
	}
	users := lo.Keys(targets)
	sort.Slice(users, func(i, j int) bool {
		return users[i] < users[j]
	})
	metrics := []Metric{Precision, Recall, NDCG, HR}
	values := make([][]float32, len(users))
	err := parallel.Parallel(ctx, len(users), jobs, func(_, jobId int) error {
		rankList, err := model.Recommend(users[jobId], k)
		if err != nil {
			return errors.Trace(err)
		}
		values[jobId] = lo.Map(metrics, func(metric Metric, _ int) float32 {
			return metric(targets[users[jobId]], rankList)
		})
		if progress != nil {
			progress()
		}
		return nil
	})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	var score Score
	if len(users) == 0 {
		return score, nil
	}
	for _, v := range values {
		score.Precision += v[0]
		score.Recall += v[1]
		score.NDCG += v[2]
		score.HR += v[3]
	}
	n := float32(len(users))
	score.Precision /= n
	score.Recall /= n
	score.NDCG /= n
	score.HR /= n
	score.NumUsers = len(users)
	return score, nil
}

// NDCG means Normalized Discounted Cumulative Gain.
func NDCG(targetSet mapset.Set[int64], rankList []int64) float32 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < targetSet.Cardinality() && i < len(rankList); i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	if idcg == 0 {
		return 0
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math32.Log2(float32(i)+2.0)
		}
	}
	return dcg / idcg
}

// Precision is the fraction of relevant items among the recommended items.
func Precision(targetSet mapset.Set[int64], rankList []int64) float32 {
	if len(rankList) == 0 {
		return 0
	}
	hit := float32(0)
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit / float32(len(rankList))
}

// Recall is the fraction of relevant items that have been recommended.
func Recall(targetSet mapset.Set[int64], rankList []int64) float32 {
	if targetSet.Cardinality() == 0 {
		return 0
	}
	hit := 0
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return float32(hit) / float32(targetSet.Cardinality())
}

// HR means Hit Ratio.
func HR(targetSet mapset.Set[int64], rankList []int64) float32 {
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1
		}
	}
	return 0
}
