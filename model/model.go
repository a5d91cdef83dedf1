// Copyright 2026 reclab Project Authors
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

package model

import (
	"github.com/reclab-io/reclab/base"
)

// Model is the interface shared by all scoring models.
type Model interface {
	// SetParams sets hyper-parameters.
	SetParams(params Params)
	// GetParams returns hyper-parameters.
	GetParams() Params
	// Clear model weights.
	Clear()
	// Invalid reports whether the model has no weights.
	Invalid() bool
}

// BaseModel is embedded by every scoring model. It owns hyper-parameters and
// the per-model random generator. Each trial constructs its own model, so no
// random state is ever shared between concurrent trials.
type BaseModel struct {
	Params    Params
	rng       base.RandomGenerator
	randState int64
}

// SetParams sets hyper-parameters and reseeds the random generator.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
	model.rng = base.NewRandomGenerator(model.randState)
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return model.rng
}

// Tracker is the metric reporting boundary. The trainer emits per-epoch
// metrics through it; implementations forward to logging or dashboarding
// backends. Correctness never depends on a Tracker.
type Tracker interface {
	// Start is called once before the first epoch with the planned epoch count.
	Start(total int)
	// Update is called after every epoch with the validation metrics.
	Update(epoch int, metrics map[string]float32)
	// Finish is called once with the best metrics when the run terminates.
	Finish(metrics map[string]float32)
}

// NopTracker discards all metric reports.
type NopTracker struct{}

func (NopTracker) Start(int)                        {}
func (NopTracker) Update(int, map[string]float32)   {}
func (NopTracker) Finish(map[string]float32)        {}
