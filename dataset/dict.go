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

// Dict maps external identifiers to dense indices in first-seen order and
// counts how many times each identifier has been added.
type Dict struct {
	si  map[int64]int
	is  []int64
	cnt []int
}

func NewDict() *Dict {
	return &Dict{si: map[int64]int{}}
}

// NewDictFromIDs builds a dictionary from a sequence of identifiers.
func NewDictFromIDs(ids []int64) *Dict {
	d := NewDict()
	for _, id := range ids {
		d.Add(id)
	}
	return d
}

func (d *Dict) Count() int {
	return len(d.is)
}

// Add returns the index of id, assigning the next index if id is new.
func (d *Dict) Add(id int64) int {
	if y, ok := d.si[id]; ok {
		d.cnt[y]++
		return y
	}
	y := len(d.is)
	d.si[id] = y
	d.is = append(d.is, id)
	d.cnt = append(d.cnt, 1)
	return y
}

// ToIndex returns false if id has never been added.
func (d *Dict) ToIndex(id int64) (int, bool) {
	y, ok := d.si[id]
	return y, ok
}

func (d *Dict) ToID(index int) (int64, bool) {
	if index < 0 || index >= len(d.is) {
		return 0, false
	}
	return d.is[index], true
}

func (d *Dict) Freq(index int) int {
	if index < 0 || index >= len(d.cnt) {
		return 0
	}
	return d.cnt[index]
}

// IDs returns identifiers ordered by index.
func (d *Dict) IDs() []int64 {
	return d.is
}
