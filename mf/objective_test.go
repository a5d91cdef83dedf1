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

package mf

import (
	"testing"

	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/model"
	"github.com/stretchr/testify/assert"
)

// twoItemWorld returns a model, sampler and batch where user 0 has item 0 as
// its only positive, so every sampled negative is item 1.
func twoItemWorld(t *testing.T, params model.Params) (*MF, *dataset.NegativeSampler, []dataset.Interaction) {
	train := dataset.NewDataset(1, 2)
	assert.NoError(t, train.Add(dataset.Interaction{UserId: 0, ItemId: 0, Label: 1}))
	m := NewMF(params)
	m.Init(train)
	positives := dataset.NewPositiveSet(1, 2)
	positives.Add(0, 0)
	sampler := dataset.NewNegativeSampler(positives, 0)
	return m, sampler, train.Interactions()
}

func margin(m *MF) float32 {
	return m.Score(0, 0) - m.Score(0, 1)
}

func TestPairwiseStepWidensMargin(t *testing.T) {
	params := model.Params{
		model.NFactors:    4,
		model.LossType:    model.LossBPR,
		model.NegRatio:    1,
		model.Reg:         0.0,
		model.Lr:          0.1,
		model.RandomState: int64(3),
	}
	m, sampler, batch := twoItemWorld(t, params)
	objective, err := NewObjective(params, sampler)
	assert.NoError(t, err)
	optimizer, err := NewOptimizer(params)
	assert.NoError(t, err)

	grads := NewGradients(4)
	before := margin(m)
	var lastLoss float32 = 1e10
	for i := 0; i < 10; i++ {
		grads.Reset()
		loss, err := objective.ComputeBatch(m, batch, grads)
		assert.NoError(t, err)
		assert.Less(t, loss, lastLoss)
		lastLoss = loss
		optimizer.Step(m, grads)
	}
	assert.Greater(t, margin(m), before)
}

func TestPointwiseStepRaisesPositive(t *testing.T) {
	params := model.Params{
		model.NFactors:    4,
		model.LossType:    model.LossBCE,
		model.NegRatio:    1,
		model.Reg:         0.0,
		model.Lr:          0.1,
		model.UseBias:     true,
		model.RandomState: int64(3),
	}
	m, sampler, batch := twoItemWorld(t, params)
	objective, err := NewObjective(params, sampler)
	assert.NoError(t, err)
	optimizer, err := NewOptimizer(params)
	assert.NoError(t, err)

	grads := NewGradients(4)
	posBefore, negBefore := m.Score(0, 0), m.Score(0, 1)
	for i := 0; i < 10; i++ {
		grads.Reset()
		_, err := objective.ComputeBatch(m, batch, grads)
		assert.NoError(t, err)
		optimizer.Step(m, grads)
	}
	assert.Greater(t, m.Score(0, 0), posBefore)
	assert.Less(t, m.Score(0, 1), negBefore)
}

func TestObjectiveSamplingErrorPropagates(t *testing.T) {
	params := model.Params{
		model.NFactors: 2,
		model.LossType: model.LossBPR,
		model.NegRatio: 2, // only one admissible negative exists
	}
	m, sampler, batch := twoItemWorld(t, params)
	objective, err := NewObjective(params, sampler)
	assert.NoError(t, err)
	grads := NewGradients(2)
	_, err = objective.ComputeBatch(m, batch, grads)
	assert.True(t, dataset.IsSamplingError(err))
}

func TestGradientsTouchOnlyBatchRows(t *testing.T) {
	train := dataset.NewDataset(3, 3)
	assert.NoError(t, train.Add(dataset.Interaction{UserId: 0, ItemId: 0, Label: 1}))
	assert.NoError(t, train.Add(dataset.Interaction{UserId: 2, ItemId: 2, Label: 1}))
	params := model.Params{
		model.NFactors: 2,
		model.LossType: model.LossBPR,
		model.NegRatio: 1,
		model.Lr:       0.1,
	}
	m := NewMF(params)
	m.Init(train)
	positives := dataset.NewPositiveSet(3, 3)
	positives.Add(0, 0)
	positives.Add(2, 2)
	sampler := dataset.NewNegativeSampler(positives, 0)
	objective, err := NewObjective(params, sampler)
	assert.NoError(t, err)
	optimizer, err := NewOptimizer(params)
	assert.NoError(t, err)

	// user 1 never appears in the batch, so its row must not move
	frozen := make([]float32, 2)
	copy(frozen, m.UserFactor[1])
	grads := NewGradients(2)
	_, err = objective.ComputeBatch(m, train.Interactions(), grads)
	assert.NoError(t, err)
	_, touched := grads.UserGrad[1]
	assert.False(t, touched)
	optimizer.Step(m, grads)
	assert.Equal(t, frozen, m.UserFactor[1])
}
