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

	"github.com/gorse-io/userknn/base/log"
	"github.com/gorse-io/userknn/config"
	"github.com/gorse-io/userknn/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Recommender recommends n items for a user. Unknown users are not errors.
type Recommender interface {
	Recommend(userId int64, n int) ([]int64, error)
}

type ModelType string

const (
	TypeRange   ModelType = config.ModelRange
	TypePopular ModelType = config.ModelPopular
	TypeUserKNN ModelType = config.ModelUserKNN
)

// Range recommends 0, 1, ..., n-1 to every user.
type Range struct{}

func NewRange() Range {
	return Range{}
}

func (Range) Recommend(_ int64, n int) ([]int64, error) {
	items := make([]int64, max(n, 0))
	for i := range items {
		items[i] = int64(i)
	}
	return items, nil
}

// Models is a registry of recommenders by name.
type Models map[string]Recommender

// Get returns false if there is no model with the name.
func (m Models) Get(name string) (Recommender, bool) {
	model, ok := m[name]
	return model, ok
}

// NewModels creates and fits the recommenders listed in the configuration.
func NewModels(ctx context.Context, cfg config.RecommendConfig, interactions []dataset.Interaction) (Models, error) {
	models := make(Models, len(cfg.Models))
	for _, modelConfig := range cfg.Models {
		switch ModelType(modelConfig.Type) {
		case TypeRange:
			models[modelConfig.Name] = NewRange()
		case TypePopular:
			models[modelConfig.Name] = NewPopular(interactions, cfg.NumPopular)
		case TypeUserKNN:
			model, err := NewUserKNN(cfg.Neighbor, cfg.NumPopular)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if err = model.Fit(ctx, interactions); err != nil {
				return nil, errors.Trace(err)
			}
			models[modelConfig.Name] = model
		default:
			return nil, errors.NotSupportedf("model type %q", modelConfig.Type)
		}
		log.Logger().Info("load model",
			zap.String("name", modelConfig.Name),
			zap.String("type", modelConfig.Type))
	}
	return models, nil
}
