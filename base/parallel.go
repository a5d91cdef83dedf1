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
	"sync"

	"gonum.org/v1/gonum/stat"
)

/* Parallel Schedulers */

// Parallel schedules and runs tasks in parallel. nTask is the number of tasks,
// nJob the number of executors. worker receives the executor id and a task id.
func Parallel(nTask, nJob int, worker func(workerId, taskId int) error) error {
	if nJob < 1 {
		nJob = 1
	}
	var wg sync.WaitGroup
	wg.Add(nJob)
	errs := make([]error, nJob)
	for j := 0; j < nJob; j++ {
		go func(jobId int) {
			defer wg.Done()
			begin := nTask * jobId / nJob
			end := nTask * (jobId + 1) / nJob
			for i := begin; i < end; i++ {
				if errs[jobId] = worker(jobId, i); errs[jobId] != nil {
					return
				}
			}
		}(j)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ParallelMean schedules tasks over nJob executors and returns the weighted
// mean of the per-executor means.
func ParallelMean(nTask, nJob int, worker func(begin, end int) (sum float64)) float64 {
	if nJob < 1 {
		nJob = 1
	}
	var wg sync.WaitGroup
	wg.Add(nJob)
	results := make([]float64, nJob)
	weights := make([]float64, nJob)
	for j := 0; j < nJob; j++ {
		go func(jobId int) {
			begin := nTask * jobId / nJob
			end := nTask * (jobId + 1) / nJob
			size := end - begin
			if size > 0 {
				results[jobId] = worker(begin, end) / float64(size)
			}
			weights[jobId] = float64(size) / float64(nTask)
			wg.Done()
		}(j)
	}
	wg.Wait()
	return stat.Mean(results, weights)
}
