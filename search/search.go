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

// Package search orchestrates hyper-parameter searches: it draws trial
// configurations from a declared space, runs one independent trainer per
// trial and accounts for every outcome, failures included.
package search

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/juju/errors"
	"github.com/reclab-io/reclab/base"
	"github.com/reclab-io/reclab/base/log"
	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/mf"
	"github.com/reclab-io/reclab/model"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

// Strategy selects how trial configurations are drawn.
type Strategy string

const (
	// StrategyRandom samples configurations independently. When the space is
	// fully discrete and no larger than the budget it degrades to grid
	// enumeration, so no combination is wasted on duplicates.
	StrategyRandom Strategy = "random"
	// StrategyTPE proposes configurations with a tree-structured Parzen
	// estimator fitted to completed trials.
	StrategyTPE Strategy = "tpe"
)

// Config declares one hyper-parameter search.
type Config struct {
	// Space is the set of searched domains.
	Space Space
	// Budget is the maximum number of trials. A random search over a fully
	// discrete space with fewer combinations than the budget enumerates each
	// combination once and runs fewer trials.
	Budget int
	// Concurrency is the number of trials running at once.
	Concurrency int
	// Strategy picks the proposal mechanism.
	Strategy Strategy
	// Fixed parameters are merged into every trial, searched values winning.
	Fixed model.Params
	// Train carries the non-searched training knobs shared by all trials.
	Train *mf.TrainConfig
	// Seed derives all trial seeds, making the whole search reproducible.
	Seed int64
}

// Result is the outcome of a search: every trial accounted for, plus the
// winner.
type Result struct {
	// Trials holds one entry per started trial, ordered by trial index.
	Trials []*mf.TrialResult
	// Best points at the winning trial; nil when every trial failed.
	Best *mf.TrialResult
}

// Search runs trials over a shared read-only split. Each trial owns its
// model, sampler and random state.
type Search struct {
	config *Config
	splits *dataset.Splits
	mu     sync.Mutex
	trials []*mf.TrialResult
	next   atomic.Int64
}

// NewSearch validates the configuration and prepares a search.
func NewSearch(config *Config, splits *dataset.Splits) (*Search, error) {
	if err := config.Space.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Budget < 1 {
		return nil, NewConfigError("search budget %d, want at least 1", config.Budget)
	}
	if config.Strategy != StrategyRandom && config.Strategy != StrategyTPE {
		return nil, NewConfigError("unknown strategy %q", config.Strategy)
	}
	if config.Train == nil {
		config.Train = mf.NewTrainConfig()
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Search{config: config, splits: splits}, nil
}

// runTrial trains one configuration and records its outcome under the next
// trial index. Always returns a well-formed result.
func (s *Search) runTrial(ctx context.Context, params model.Params) *mf.TrialResult {
	index := int(s.next.Add(1)) - 1
	params = s.config.Fixed.Overwrite(params)
	params[model.RandomState] = s.config.Seed + int64(index)
	trainConfig := *s.config.Train
	if s.config.Concurrency > 1 {
		// a shared tracker is not safe across concurrent trials
		trainConfig.Tracker = model.NopTracker{}
	}
	var result *mf.TrialResult
	trainer, err := mf.NewTrainer(params, s.splits, &trainConfig)
	if err != nil {
		result = &mf.TrialResult{
			Params: params,
			State:  mf.StateFailed,
			Err:    errors.Trace(err),
		}
	} else {
		result = trainer.Run(ctx)
	}
	result.Index = index
	s.mu.Lock()
	s.trials = append(s.trials, result)
	s.mu.Unlock()
	if result.Err != nil {
		log.Logger().Warn("trial failed",
			zap.Int("trial", index),
			zap.String("params", params.ToString()),
			zap.Error(result.Err))
	} else {
		log.Logger().Info("trial finished",
			zap.Int("trial", index),
			zap.String("params", params.ToString()),
			zap.String("state", result.State.String()),
			zap.Int("best_epoch", result.BestEpoch),
			zap.Float32(string(s.config.Train.Primary), result.Score.Get(s.config.Train.Primary)))
	}
	return result
}

func (s *Search) objective(ctx context.Context) func(trial goptuna.Trial) (float64, error) {
	return func(trial goptuna.Trial) (float64, error) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		params, err := s.config.Space.Suggest(trial)
		if err != nil {
			return 0, errors.Trace(err)
		}
		result := s.runTrial(ctx, params)
		if result.Err != nil {
			// metrics live in [0, 1], so zero is the worst possible value:
			// the study records the failure and keeps proposing
			return 0, nil
		}
		return float64(result.Score.Get(s.config.Train.Primary)), nil
	}
}

// Run executes the whole search and returns every trial plus the best one.
// The budget is an upper bound: when a random search covers a fully discrete
// space smaller than the budget, the grid is enumerated exactly once instead.
// Cancelling the context stops proposing new trials; trials already running
// finish their current epoch and report normally.
func (s *Search) Run(ctx context.Context) (*Result, error) {
	if grid, ok := s.config.Space.Grid(); ok &&
		s.config.Strategy == StrategyRandom && grid.NumCombinations() <= s.config.Budget {
		return s.runGrid(ctx, grid)
	}
	return s.runStudy(ctx)
}

func (s *Search) runStudy(ctx context.Context) (*Result, error) {
	options := []goptuna.StudyOption{
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
	}
	switch s.config.Strategy {
	case StrategyTPE:
		options = append(options, goptuna.StudyOptionSampler(tpe.NewSampler()))
	default:
		options = append(options, goptuna.StudyOptionSampler(
			goptuna.NewRandomSampler(goptuna.RandomSamplerOptionSeed(s.config.Seed))))
	}
	study, err := goptuna.CreateStudy("reclab", options...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	objective := s.objective(ctx)
	nJobs := min(s.config.Concurrency, s.config.Budget)
	var wg sync.WaitGroup
	wg.Add(nJobs)
	errs := make([]error, nJobs)
	for j := 0; j < nJobs; j++ {
		// split the budget across executors sharing one study
		begin := s.config.Budget * j / nJobs
		end := s.config.Budget * (j + 1) / nJobs
		go func(jobId, nTrials int) {
			defer wg.Done()
			errs[jobId] = study.Optimize(objective, nTrials)
		}(j, end-begin)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Trace(err)
		}
	}
	return s.collect(), nil
}

// runGrid enumerates every combination of a finite space exactly once.
func (s *Search) runGrid(ctx context.Context, grid model.ParamsGrid) (*Result, error) {
	combinations := enumerate(grid)
	err := base.Parallel(len(combinations), s.config.Concurrency, func(_, taskId int) error {
		if ctx.Err() != nil {
			return nil
		}
		s.runTrial(ctx, combinations[taskId])
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s.collect(), nil
}

// enumerate expands a grid into the full cartesian product, in a stable
// order.
func enumerate(grid model.ParamsGrid) []model.Params {
	names := maps.Keys(grid)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	combinations := make([]model.Params, 0, grid.NumCombinations())
	var dfs func(depth int, params model.Params)
	dfs = func(depth int, params model.Params) {
		if depth == len(names) {
			combinations = append(combinations, params.Copy())
			return
		}
		for _, value := range grid[names[depth]] {
			params[names[depth]] = value
			dfs(depth+1, params)
		}
	}
	dfs(0, make(model.Params))
	return combinations
}

// collect snapshots the trial records and selects the winner: highest
// primary metric, ties broken by the earliest best epoch and then the lowest
// trial index. Failed trials never win.
func (s *Search) collect() *Result {
	s.mu.Lock()
	trials := make([]*mf.TrialResult, len(s.trials))
	copy(trials, s.trials)
	s.mu.Unlock()
	sort.Slice(trials, func(i, j int) bool { return trials[i].Index < trials[j].Index })
	result := &Result{Trials: trials}
	primary := s.config.Train.Primary
	for _, trial := range trials {
		if trial.State == mf.StateFailed {
			continue
		}
		if result.Best == nil ||
			trial.Score.Get(primary) > result.Best.Score.Get(primary) ||
			(trial.Score.Get(primary) == result.Best.Score.Get(primary) &&
				trial.BestEpoch < result.Best.BestEpoch) {
			result.Best = trial
		}
	}
	if result.Best != nil {
		log.Logger().Info("search finished",
			zap.Int("n_trials", len(trials)),
			zap.Int("best_trial", result.Best.Index),
			zap.String("best_params", result.Best.Params.ToString()),
			zap.Float32(string(primary), result.Best.Score.Get(primary)))
	} else {
		log.Logger().Warn("search finished without a successful trial",
			zap.Int("n_trials", len(trials)))
	}
	return result
}
