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

package search

import (
	"context"
	"testing"

	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/mf"
	"github.com/reclab-io/reclab/model"
	"github.com/stretchr/testify/assert"
)

func splitsFixture(t *testing.T) *dataset.Splits {
	pairs := [][2]int32{
		{0, 0}, {0, 1}, {0, 2},
		{1, 1}, {1, 2}, {1, 3},
		{2, 0}, {2, 3}, {2, 4},
		{3, 0}, {3, 2}, {3, 4},
	}
	interactions := make([]dataset.Interaction, 0, len(pairs))
	for _, p := range pairs {
		interactions = append(interactions, dataset.Interaction{UserId: p[0], ItemId: p[1], Label: 1})
	}
	splits, err := dataset.Split(interactions, 4, 5, 8.0/12, 4.0/12, 0)
	assert.NoError(t, err)
	return splits
}

func searchTrainConfig() *mf.TrainConfig {
	config := mf.NewTrainConfig()
	config.TopK = 5
	config.Candidates = 10
	config.Verbose = 0
	return config
}

func fixedParams() model.Params {
	return model.Params{
		model.NEpochs:   5,
		model.LossType:  model.LossBPR,
		model.BatchSize: 4,
	}
}

func TestSearchGridEnumeration(t *testing.T) {
	splits := splitsFixture(t)
	search, err := NewSearch(&Config{
		Space: Space{
			model.NFactors: Choice{Values: []interface{}{2, 4}},
			model.Lr:       Choice{Values: []interface{}{0.01, 0.1}},
		},
		Budget:   4,
		Strategy: StrategyRandom,
		Fixed:    fixedParams(),
		Train:    searchTrainConfig(),
		Seed:     1,
	}, splits)
	assert.NoError(t, err)

	result, err := search.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, result.Trials, 4)
	assert.NotNil(t, result.Best)
	// a discrete 2x2 space with budget 4 covers each combination exactly once
	seen := make(map[[2]interface{}]bool)
	for _, trial := range result.Trials {
		assert.True(t, trial.State.Terminal())
		key := [2]interface{}{trial.Params[model.NFactors], trial.Params[model.Lr]}
		assert.False(t, seen[key])
		seen[key] = true
	}
	// the winner carries the highest primary metric
	for _, trial := range result.Trials {
		if trial.State != mf.StateFailed {
			assert.LessOrEqual(t, trial.Score.NDCG, result.Best.Score.NDCG)
		}
	}
}

func TestSearchBudgetIsUpperBound(t *testing.T) {
	// a discrete 2x2 space under a budget of 10 stops after 4 trials
	splits := splitsFixture(t)
	search, err := NewSearch(&Config{
		Space: Space{
			model.NFactors: Choice{Values: []interface{}{2, 4}},
			model.Lr:       Choice{Values: []interface{}{0.01, 0.1}},
		},
		Budget:   10,
		Strategy: StrategyRandom,
		Fixed:    fixedParams(),
		Train:    searchTrainConfig(),
		Seed:     1,
	}, splits)
	assert.NoError(t, err)

	result, err := search.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, result.Trials, 4)
	assert.NotNil(t, result.Best)
}

func TestSearchConcurrent(t *testing.T) {
	splits := splitsFixture(t)
	search, err := NewSearch(&Config{
		Space: Space{
			model.NFactors: Choice{Values: []interface{}{2, 4, 8}},
			model.Lr:       Choice{Values: []interface{}{0.01, 0.1}},
		},
		Budget:      6,
		Concurrency: 3,
		Strategy:    StrategyRandom,
		Fixed:       fixedParams(),
		Train:       searchTrainConfig(),
		Seed:        1,
	}, splits)
	assert.NoError(t, err)

	result, err := search.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, result.Trials, 6)
	// indices are dense and every trial is recorded in order
	for i, trial := range result.Trials {
		assert.Equal(t, i, trial.Index)
	}
	assert.NotNil(t, result.Best)
}

func TestSearchTPE(t *testing.T) {
	splits := splitsFixture(t)
	search, err := NewSearch(&Config{
		Space: Space{
			model.Lr:  LogUniform{Low: 0.001, High: 0.1},
			model.Reg: LogUniform{Low: 0.0001, High: 0.1},
		},
		Budget:   5,
		Strategy: StrategyTPE,
		Fixed:    fixedParams(),
		Train:    searchTrainConfig(),
		Seed:     2,
	}, splits)
	assert.NoError(t, err)

	result, err := search.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, result.Trials, 5)
	assert.NotNil(t, result.Best)
	for _, trial := range result.Trials {
		lr := trial.Params.GetFloat32(model.Lr, 0)
		assert.GreaterOrEqual(t, lr, float32(0.001))
		assert.LessOrEqual(t, lr, float32(0.1))
	}
}

func TestSearchAccountsForFailedTrials(t *testing.T) {
	splits := splitsFixture(t)
	// one loss name is invalid, so exactly half the grid must fail
	search, err := NewSearch(&Config{
		Space: Space{
			model.LossType: Choice{Values: []interface{}{model.LossBPR, "hinge"}},
		},
		Budget:   2,
		Strategy: StrategyRandom,
		Fixed:    fixedParams(),
		Train:    searchTrainConfig(),
		Seed:     3,
	}, splits)
	assert.NoError(t, err)

	result, err := search.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, result.Trials, 2)
	failed := 0
	for _, trial := range result.Trials {
		if trial.State == mf.StateFailed {
			failed++
			assert.Error(t, trial.Err)
		}
	}
	assert.Equal(t, 1, failed)
	assert.NotNil(t, result.Best)
	assert.Equal(t, model.LossBPR, result.Best.Params.GetString(model.LossType, ""))
}

func TestSearchInvalidConfig(t *testing.T) {
	splits := splitsFixture(t)
	_, err := NewSearch(&Config{
		Space:    Space{},
		Budget:   1,
		Strategy: StrategyRandom,
	}, splits)
	assert.True(t, IsConfigError(err))

	_, err = NewSearch(&Config{
		Space:    Space{model.Lr: LogUniform{Low: 0.1, High: 0.01}},
		Budget:   1,
		Strategy: StrategyRandom,
	}, splits)
	assert.True(t, IsConfigError(err))

	_, err = NewSearch(&Config{
		Space:    Space{model.Lr: Choice{Values: []interface{}{0.1}}},
		Budget:   0,
		Strategy: StrategyRandom,
	}, splits)
	assert.True(t, IsConfigError(err))

	_, err = NewSearch(&Config{
		Space:    Space{model.Lr: Choice{Values: []interface{}{0.1}}},
		Budget:   1,
		Strategy: Strategy("bayes"),
	}, splits)
	assert.True(t, IsConfigError(err))

	_, err = NewSearch(&Config{
		Space:    Space{model.NFactors: IntRange{Low: 8, High: 4}},
		Budget:   1,
		Strategy: StrategyRandom,
	}, splits)
	assert.True(t, IsConfigError(err))
}

func TestEnumerate(t *testing.T) {
	grid := model.ParamsGrid{
		model.NFactors: {2, 4},
		model.Lr:       {0.01, 0.1},
	}
	combinations := enumerate(grid)
	assert.Len(t, combinations, 4)
	// stable order: names sorted, values in declaration order
	assert.Equal(t, enumerate(grid), combinations)
	seen := make(map[string]bool)
	for _, params := range combinations {
		assert.False(t, seen[params.ToString()])
		seen[params.ToString()] = true
	}
}

func TestSearchCancellation(t *testing.T) {
	splits := splitsFixture(t)
	search, err := NewSearch(&Config{
		Space: Space{
			model.NFactors: Choice{Values: []interface{}{2, 4}},
		},
		Budget:   2,
		Strategy: StrategyRandom,
		Fixed:    fixedParams(),
		Train:    searchTrainConfig(),
		Seed:     4,
	}, splits)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := search.Run(ctx)
	assert.NoError(t, err)
	// no new work is started under a cancelled context
	assert.Empty(t, result.Trials)
	assert.Nil(t, result.Best)
}
