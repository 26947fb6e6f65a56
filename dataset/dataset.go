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

import "github.com/juju/errors"

// Dataset is a training set of interactions with its id mappings and the
// user-item matrix.
type Dataset struct {
	interactions []Interaction
	userDict     *Dict
	itemDict     *Dict
	matrix       *Matrix
}

// NewDataset validates interactions and builds mappings and the matrix.
func NewDataset(interactions []Interaction) (*Dataset, error) {
	if err := Validate(interactions); err != nil {
		return nil, errors.Trace(err)
	}
	d := &Dataset{
		interactions: interactions,
		userDict:     NewDict(),
		itemDict:     NewDict(),
	}
	for _, interaction := range interactions {
		d.userDict.Add(interaction.UserId)
		d.itemDict.Add(interaction.ItemId)
	}
	d.matrix = NewMatrix(interactions, d.userDict, d.itemDict)
	return d, nil
}

func (d *Dataset) GetInteractions() []Interaction {
	return d.interactions
}

func (d *Dataset) CountInteractions() int {
	return len(d.interactions)
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

func (d *Dataset) GetUserDict() *Dict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *Dict {
	return d.itemDict
}

func (d *Dataset) GetMatrix() *Matrix {
	return d.matrix
}
