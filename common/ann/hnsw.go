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
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/userknn/base/heap"
	"github.com/gorse-io/userknn/common/parallel"
	"github.com/gorse-io/userknn/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/mathutil"
)

const maxLevel = 16

// HNSW is an approximate index based on Hierarchical Navigable Small Worlds. The
// distance between two rows is one minus their similarity.
type HNSW struct {
	similarity      Similarity
	jobs            int
	matrix          *dataset.Matrix
	norms           []float64
	bottomNeighbors []*heap.PriorityQueue
	upperNeighbors  []sync.Map
	bottomMutex     []*sync.RWMutex
	enterPoint      int32
	topLayer        int
	initOnce        sync.Once
	rootMutex       sync.Mutex

	levelFactor    float32
	maxConnection  int // maximum number of connections for each element per layer
	maxConnection0 int
	ef             int
	efConstruction int
}

func NewHNSW(similarity Similarity, jobs int) *HNSW {
	return &HNSW{
		similarity:     similarity,
		jobs:           jobs,
		levelFactor:    1.0 / math32.Log(48),
		maxConnection:  48,
		maxConnection0: 96,
		efConstruction: 100,
	}
}

// Fit inserts every row of the matrix into a new graph.
func (h *HNSW) Fit(ctx context.Context, matrix *dataset.Matrix) error {
	rows, _ := matrix.Shape()
	h.matrix = matrix
	h.norms = rowNorms(matrix, h.similarity)
	h.bottomNeighbors = make([]*heap.PriorityQueue, rows)
	h.bottomMutex = make([]*sync.RWMutex, rows)
	for i := 0; i < rows; i++ {
		h.bottomNeighbors[i] = heap.NewPriorityQueue(false)
		h.bottomMutex[i] = new(sync.RWMutex)
	}
	h.upperNeighbors = make([]sync.Map, maxLevel)
	h.topLayer = 0
	h.initOnce = sync.Once{}
	// sample levels in advance so that the graph only depends on the insertion order
	rng := rand.New(rand.NewSource(0))
	levels := make([]int, rows)
	for i := range levels {
		levels[i] = mathutil.Min(int(math32.Floor(-math32.Log(1-rng.Float32())*h.levelFactor)), maxLevel)
	}
	return parallel.Parallel(ctx, rows, h.jobs, func(_, jobId int) error {
		h.insert(int32(jobId), levels[jobId])
		return nil
	})
}

func (h *HNSW) SimilarRows(q, n int) ([]lo.Tuple2[int, float32], error) {
	if h.matrix == nil {
		return nil, errNotFitted
	}
	// Check index
	if q < 0 || q >= len(h.bottomNeighbors) {
		return nil, errors.Errorf("index out of range: %v", q)
	}
	if n <= 0 {
		return nil, nil
	}
	w := h.knnSearch(int32(q), n, h.efSearchValue(n))
	scores := make([]lo.Tuple2[int, float32], 0, w.Len())
	for w.Len() > 0 {
		value, distance := w.Pop()
		similarity := 1 - distance
		if int(value) == q {
			similarity = 1
		}
		if similarity > 0 {
			scores = append(scores, lo.Tuple2[int, float32]{A: int(value), B: similarity})
		}
	}
	return scores, nil
}

func (h *HNSW) distanceFunc(a, b int32) float32 {
	if a == b {
		return 0
	}
	ai, av := h.matrix.Row(int(a))
	bi, bv := h.matrix.Row(int(b))
	overlap := 0.0
	for i, j := 0, 0; i < len(ai) && j < len(bi); {
		switch {
		case ai[i] < bi[j]:
			i++
		case ai[i] > bi[j]:
			j++
		default:
			if h.similarity == Jaccard {
				overlap++
			} else {
				overlap += float64(av[i]) * float64(bv[j])
			}
			i++
			j++
		}
	}
	return float32(1 - score(h.similarity, overlap, h.norms[a], h.norms[b]))
}

func (h *HNSW) knnSearch(q int32, k, ef int) *heap.PriorityQueue {
	var (
		w           *heap.PriorityQueue                    // set for the current the nearest element
		enterPoints = h.distance(q, []int32{h.enterPoint}) // get enter point for hnsw
	)
	for currentLayer := h.topLayer; currentLayer > 0; currentLayer-- {
		w = h.searchLayer(q, enterPoints, 1, currentLayer)
		enterPoints = heap.NewPriorityQueue(false)
		enterPoints.Push(w.Peek())
	}
	w = h.searchLayer(q, enterPoints, ef, 0)
	return h.selectNeighbors(w, k)
}

// insert q-th row into the graph at level l.
func (h *HNSW) insert(q int32, l int) {
	// insert first point
	var isFirstPoint bool
	h.initOnce.Do(func() {
		h.enterPoint = q
		isFirstPoint = true
	})
	if isFirstPoint {
		return
	}

	h.rootMutex.Lock()
	var (
		w           *heap.PriorityQueue                    // list for the currently found nearest elements
		enterPoints = h.distance(q, []int32{h.enterPoint}) // get enter point for hnsw
		topLayer    = h.topLayer
	)
	if l <= topLayer {
		h.rootMutex.Unlock()
	} else {
		defer h.rootMutex.Unlock()
	}

	for currentLayer := topLayer; currentLayer >= l+1; currentLayer-- {
		w = h.searchLayer(q, enterPoints, 1, currentLayer)
		enterPoints = h.selectNeighbors(w, 1)
	}

	for currentLayer := mathutil.Min(topLayer, l); currentLayer >= 0; currentLayer-- {
		w = h.searchLayer(q, enterPoints, h.efConstruction, currentLayer)
		neighbors := h.selectNeighbors(w, h.maxConnection)
		// add bidirectional connections from neighbors to q at layer l_c
		h.bottomMutex[q].Lock()
		h.setNeighbourhood(q, currentLayer, neighbors)
		elems := append([]heap.Elem[int32, float32](nil), neighbors.Elems()...)
		h.bottomMutex[q].Unlock()
		for _, e := range elems {
			if e.Value == q {
				continue
			}
			h.bottomMutex[e.Value].Lock()
			connections := h.getNeighbourhood(e.Value, currentLayer)
			if connections == nil {
				connections = heap.NewPriorityQueue(false)
			}
			connections.Push(q, e.Weight)
			var currentMaxConnection int
			if currentLayer == 0 {
				currentMaxConnection = h.maxConnection0
			} else {
				currentMaxConnection = h.maxConnection
			}
			if connections.Len() > currentMaxConnection {
				// shrink connections of e if lc = 0 then M_max = M_max0
				connections = h.selectNeighbors(connections, currentMaxConnection)
			}
			h.setNeighbourhood(e.Value, currentLayer, connections)
			h.bottomMutex[e.Value].Unlock()
		}
		enterPoints = w
	}

	if l > topLayer {
		// set enter point for hnsw to q
		h.bottomMutex[q].Lock()
		for currentLayer := topLayer + 1; currentLayer <= l; currentLayer++ {
			h.setNeighbourhood(q, currentLayer, heap.NewPriorityQueue(false))
		}
		h.bottomMutex[q].Unlock()
		h.enterPoint = q
		h.topLayer = l
	}
}

func (h *HNSW) searchLayer(q int32, enterPoints *heap.PriorityQueue, ef, currentLayer int) *heap.PriorityQueue {
	var (
		v          = bitset.New(uint(len(h.bottomNeighbors))) // set of visited elements
		candidates = enterPoints.Clone()                      // set of candidates
		w          = enterPoints.Reverse()                    // dynamic list of found nearest neighbors
	)
	for _, e := range enterPoints.Values() {
		v.Set(uint(e))
	}
	for candidates.Len() > 0 {
		// extract nearest element from candidates to q
		c, cq := candidates.Pop()
		// get the furthest element from w to q
		_, fq := w.Peek()

		if cq > fq {
			break // all elements in w are evaluated
		}

		// update candidates and w
		var neighbors []int32
		h.bottomMutex[c].RLock()
		if connections := h.getNeighbourhood(c, currentLayer); connections != nil {
			neighbors = connections.Values()
		}
		h.bottomMutex[c].RUnlock()
		for _, e := range neighbors {
			if !v.Test(uint(e)) {
				v.Set(uint(e))
				// get the furthest element from w to q
				_, fq = w.Peek()
				if eq := h.distanceFunc(e, q); eq < fq || w.Len() < ef {
					candidates.Push(e, eq)
					w.Push(e, eq)
					if w.Len() > ef {
						// remove the furthest element from w to q
						w.Pop()
					}
				}
			}
		}
	}
	return w.Reverse()
}

func (h *HNSW) setNeighbourhood(e int32, currentLayer int, connections *heap.PriorityQueue) {
	if currentLayer == 0 {
		h.bottomNeighbors[e] = connections
	} else {
		h.upperNeighbors[currentLayer-1].Store(e, connections)
	}
}

func (h *HNSW) getNeighbourhood(e int32, currentLayer int) *heap.PriorityQueue {
	if currentLayer == 0 {
		return h.bottomNeighbors[e]
	} else {
		if connections, ok := h.upperNeighbors[currentLayer-1].Load(e); ok {
			return connections.(*heap.PriorityQueue)
		}
		return nil
	}
}

// selectNeighbors keeps the m nearest candidates.
func (h *HNSW) selectNeighbors(candidates *heap.PriorityQueue, m int) *heap.PriorityQueue {
	pq := candidates.Reverse()
	for pq.Len() > m {
		pq.Pop()
	}
	return pq.Reverse()
}

func (h *HNSW) distance(q int32, points []int32) *heap.PriorityQueue {
	pq := heap.NewPriorityQueue(false)
	for _, point := range points {
		pq.Push(point, h.distanceFunc(point, q))
	}
	return pq
}

// efSearchValue returns the efSearch value to use, given the current number of elements desired.
func (h *HNSW) efSearchValue(n int) int {
	if h.ef > 0 {
		return mathutil.Max(h.ef, n)
	}
	return mathutil.Max(h.efConstruction, n)
}
