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
	"testing"

	"github.com/reclab-io/reclab/model"
	"github.com/stretchr/testify/assert"
)

func TestSpaceGrid(t *testing.T) {
	space := Space{
		model.NFactors: IntRange{Low: 2, High: 4},
		model.LossType: Choice{Values: []interface{}{model.LossBPR, model.LossBCE}},
	}
	assert.NoError(t, space.Validate())
	grid, ok := space.Grid()
	assert.True(t, ok)
	assert.Equal(t, 6, grid.NumCombinations())
	assert.Equal(t, []interface{}{2, 3, 4}, grid[model.NFactors])

	// a continuous domain rules out grid enumeration
	space[model.Lr] = LogUniform{Low: 0.001, High: 0.1}
	_, ok = space.Grid()
	assert.False(t, ok)
}

func TestSpaceNamesStable(t *testing.T) {
	space := Space{
		model.Reg:      LogUniform{Low: 0.001, High: 0.1},
		model.Lr:       LogUniform{Low: 0.001, High: 0.1},
		model.NFactors: IntRange{Low: 2, High: 4},
	}
	assert.Equal(t, space.names(), space.names())
	assert.Len(t, space.names(), 3)
}
