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
	"math"
	"time"

	"github.com/juju/errors"
)

// Interaction is a single (user, item) event. A zero weight means the weight
// is unspecified and counts as 1.
type Interaction struct {
	UserId    int64     `json:"user_id"`
	ItemId    int64     `json:"item_id"`
	Weight    float32   `json:"weight,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GetWeight returns the weight of the interaction, 1 if unspecified.
func (i Interaction) GetWeight() float32 {
	if i.Weight == 0 {
		return 1
	}
	return i.Weight
}

// Validate checks every interaction and returns a NotValid error for the first
// malformed one.
func Validate(interactions []Interaction) error {
	for i, interaction := range interactions {
		w := float64(interaction.Weight)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.NotValidf("weight %v of interaction %d", interaction.Weight, i)
		}
		if w < 0 {
			return errors.NotValidf("negative weight %v of interaction %d", interaction.Weight, i)
		}
	}
	return nil
}
