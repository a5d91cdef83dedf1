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
	"bytes"
	"testing"

	"github.com/chewxy/math32"
	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/model"
	"github.com/stretchr/testify/assert"
)

func trainFixture(t *testing.T) *dataset.Dataset {
	d := dataset.NewDataset(4, 5)
	pairs := [][2]int32{
		{0, 0}, {0, 1}, {0, 2},
		{1, 1}, {1, 2}, {1, 3},
		{2, 0}, {2, 3}, {2, 4},
		{3, 0}, {3, 2}, {3, 4},
	}
	for _, p := range pairs {
		assert.NoError(t, d.Add(dataset.Interaction{UserId: p[0], ItemId: p[1], Label: 1}))
	}
	return d
}

func TestMFInit(t *testing.T) {
	m := NewMF(model.Params{
		model.NFactors:    8,
		model.RandomState: int64(42),
	})
	m.Init(trainFixture(t))
	assert.Len(t, m.UserFactor, 4)
	assert.Len(t, m.ItemFactor, 5)
	assert.Len(t, m.UserFactor[0], 8)
	assert.Equal(t, float32(1)/math32.Sqrt(8), m.initStdDev)
	assert.True(t, m.IsUserPredictable(0))
	assert.True(t, m.IsItemPredictable(4))
	assert.False(t, m.IsUserPredictable(99))

	// the same seed produces the same initial embeddings
	n := NewMF(model.Params{
		model.NFactors:    8,
		model.RandomState: int64(42),
	})
	n.Init(trainFixture(t))
	assert.Equal(t, m.UserFactor, n.UserFactor)
	assert.Equal(t, m.ItemFactor, n.ItemFactor)
}

func TestMFScore(t *testing.T) {
	m := NewMF(model.Params{model.NFactors: 2, model.UseBias: true})
	m.UserFactor = [][]float32{{1, 2}}
	m.ItemFactor = [][]float32{{3, 4}}
	m.UserBias = []float32{0.5}
	m.ItemBias = []float32{0.25}
	m.GlobalBias = 0.125
	assert.Equal(t, float32(11.875), m.Score(0, 0))
	// out-of-range ids never panic
	assert.Equal(t, float32(0), m.Score(1, 0))
	assert.Equal(t, float32(0), m.Score(0, -1))
	assert.Equal(t, []float32{11.875}, m.ScoreBatch([]int32{0}, []int32{0}))
}

func TestModelStateDeepCopy(t *testing.T) {
	m := NewMF(model.Params{model.NFactors: 4, model.RandomState: int64(1)})
	m.Init(trainFixture(t))
	state := m.State()
	original := state.UserFactor[0][0]
	// mutating the live model must not leak into the snapshot
	m.UserFactor[0][0] += 100
	assert.Equal(t, original, state.UserFactor[0][0])
	// and loading must not alias the snapshot either
	assert.NoError(t, m.LoadState(state))
	m.UserFactor[0][0] += 100
	assert.Equal(t, original, state.UserFactor[0][0])
}

func TestModelStateRoundTrip(t *testing.T) {
	m := NewMF(model.Params{
		model.NFactors:    4,
		model.UseBias:     true,
		model.RandomState: int64(7),
	})
	m.Init(trainFixture(t))
	m.GlobalBias = 0.5
	state := m.State()

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, state.Marshal(buf))
	decoded, err := UnmarshalModelState(buf)
	assert.NoError(t, err)
	assert.Equal(t, state.NFactors, decoded.NFactors)
	assert.Equal(t, state.UserFactor, decoded.UserFactor)
	assert.Equal(t, state.ItemFactor, decoded.ItemFactor)
	assert.Equal(t, state.UserBias, decoded.UserBias)
	assert.Equal(t, state.ItemBias, decoded.ItemBias)
	assert.Equal(t, state.GlobalBias, decoded.GlobalBias)

	// a model rebuilt from the snapshot scores identically
	restored, err := NewMFFromState(decoded)
	assert.NoError(t, err)
	for userId := int32(0); userId < 4; userId++ {
		for itemId := int32(0); itemId < 5; itemId++ {
			assert.Equal(t, m.Score(userId, itemId), restored.Score(userId, itemId))
		}
	}
}

func TestLoadStateDimensionMismatch(t *testing.T) {
	m := NewMF(model.Params{model.NFactors: 4})
	m.Init(trainFixture(t))
	state := m.State()
	n := NewMF(model.Params{model.NFactors: 8})
	assert.Error(t, n.LoadState(state))
}
