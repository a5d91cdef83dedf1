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

package base

import (
	"sync/atomic"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestParallel(t *testing.T) {
	var count int64
	err := Parallel(100, 4, func(workerId, taskId int) error {
		assert.Less(t, workerId, 4)
		atomic.AddInt64(&count, 1)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(100), count)
}

func TestParallelError(t *testing.T) {
	err := Parallel(10, 2, func(workerId, taskId int) error {
		if taskId == 5 {
			return errors.New("boom")
		}
		return nil
	})
	assert.Error(t, err)
}

func TestParallelMean(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	mean := ParallelMean(len(values), 3, func(begin, end int) (sum float64) {
		for i := begin; i < end; i++ {
			sum += values[i]
		}
		return
	})
	assert.InDelta(t, 49.5, mean, 1e-6)

	// more executors than tasks leaves empty slices with zero weight
	mean = ParallelMean(2, 8, func(begin, end int) (sum float64) {
		for i := begin; i < end; i++ {
			sum += 3
		}
		return
	})
	assert.InDelta(t, 3, mean, 1e-6)
}
