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
	"context"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/reclab-io/reclab/base"
	"github.com/reclab-io/reclab/base/log"
	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/model"
	"go.uber.org/zap"
)

// TrainerState is the lifecycle state of a training run. A trainer moves from
// Initialized to Running and ends in exactly one terminal state.
type TrainerState int

const (
	StateInitialized TrainerState = iota
	StateRunning
	StateConverged
	StateEarlyStopped
	StateMaxEpochsReached
	StateFailed
)

func (s TrainerState) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateConverged:
		return "Converged"
	case StateEarlyStopped:
		return "EarlyStopped"
	case StateMaxEpochsReached:
		return "MaxEpochsReached"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("TrainerState(%d)", int(s))
	}
}

// Terminal reports whether the state ends a run.
func (s TrainerState) Terminal() bool {
	return s != StateInitialized && s != StateRunning
}

// NumericalError reports a non-finite loss or metric during training. The
// trial fails but keeps its last good checkpoint.
type NumericalError struct {
	Epoch   int
	Message string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("numerical error at epoch %d: %s", e.Epoch, e.Message)
}

// IsNumericalError reports whether err is a NumericalError.
func IsNumericalError(err error) bool {
	var numericalErr *NumericalError
	return errors.As(err, &numericalErr)
}

// TrainConfig carries the knobs of one training run that are not model
// hyper-parameters.
type TrainConfig struct {
	// Primary is the validation metric watched for checkpointing,
	// convergence and early stopping.
	Primary Metric
	// Patience is the number of consecutive non-improving epochs tolerated
	// before stopping.
	Patience int
	// Epsilon is the minimum improvement of the primary metric counted as
	// progress.
	Epsilon float32
	// TopK is the ranking cutoff of Recall and NDCG.
	TopK int
	// Candidates is the number of sampled negatives per evaluated user.
	Candidates int
	// Jobs is the evaluation parallelism.
	Jobs int
	// Tracker receives per-epoch metrics.
	Tracker model.Tracker
	// Verbose suppresses per-epoch logging when zero.
	Verbose int
}

// NewTrainConfig returns a config with production defaults.
func NewTrainConfig() *TrainConfig {
	return &TrainConfig{
		Primary:    NDCG,
		Patience:   10,
		Epsilon:    1e-4,
		TopK:       10,
		Candidates: 100,
		Jobs:       1,
		Tracker:    model.NopTracker{},
		Verbose:    1,
	}
}

func (config *TrainConfig) copyWithDefaults() *TrainConfig {
	c := *config
	if c.Primary == "" {
		c.Primary = NDCG
	}
	if c.Patience <= 0 {
		c.Patience = 10
	}
	if c.Epsilon <= 0 {
		c.Epsilon = 1e-4
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.Candidates <= 0 {
		c.Candidates = 100
	}
	if c.Jobs <= 0 {
		c.Jobs = 1
	}
	if c.Tracker == nil {
		c.Tracker = model.NopTracker{}
	}
	return &c
}

// TrialResult is the well-formed outcome of one training run, produced on
// every termination path including failure and cancellation.
type TrialResult struct {
	// Index is assigned by the search orchestrator; -1 for standalone runs.
	Index int
	// Params are the hyper-parameters of the run.
	Params model.Params
	// Score holds the best validation metrics observed.
	Score Score
	// BestEpoch is the epoch that produced Score; 0 means the initial model.
	BestEpoch int
	// Epochs is the number of epochs actually run.
	Epochs int
	// State is the terminal trainer state.
	State TrainerState
	// ModelState is the checkpoint taken at BestEpoch.
	ModelState *ModelState
	// Err is set when State is Failed.
	Err error
}

// Trainer owns one epoch-based training run over a fixed split: shuffle,
// batch, step, evaluate, checkpoint. Each trial builds its own trainer, so
// concurrent trials share nothing mutable.
type Trainer struct {
	config      *TrainConfig
	splits      *dataset.Splits
	mfModel     *MF
	objective   Objective
	optimizer   Optimizer
	evalSampler *dataset.NegativeSampler
	rng         base.RandomGenerator
	batchSize   int
	maxEpochs   int
	state       TrainerState
}

// NewTrainer builds a trainer from hyper-parameters. Unknown loss or
// optimizer names fail here, before any epoch runs.
func NewTrainer(params model.Params, splits *dataset.Splits, config *TrainConfig) (*Trainer, error) {
	config = config.copyWithDefaults()
	seed := params.GetInt64(model.RandomState, 0)
	rng := base.NewRandomGenerator(seed)
	trainSampler := dataset.NewNegativeSampler(splits.Positives, rng.Int63())
	evalSampler := dataset.NewNegativeSampler(splits.Positives, rng.Int63())
	objective, err := NewObjective(params, trainSampler)
	if err != nil {
		return nil, errors.Trace(err)
	}
	optimizer, err := NewOptimizer(params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Trainer{
		config:      config,
		splits:      splits,
		mfModel:     NewMF(params),
		objective:   objective,
		optimizer:   optimizer,
		evalSampler: evalSampler,
		rng:         rng,
		batchSize:   params.GetInt(model.BatchSize, 128),
		maxEpochs:   params.GetInt(model.NEpochs, 100),
		state:       StateInitialized,
	}, nil
}

// State returns the current lifecycle state.
func (t *Trainer) State() TrainerState {
	return t.state
}

// Model returns the trained model. Valid after Run.
func (t *Trainer) Model() *MF {
	return t.mfModel
}

func (t *Trainer) evaluate() (Score, error) {
	return Evaluate(t.mfModel, t.splits.Valid, t.splits.Positives, t.evalSampler,
		t.config.TopK, t.config.Candidates, t.config.Jobs)
}

func (t *Trainer) result(bestScore Score, bestEpoch, epochs int, best *ModelState, err error) *TrialResult {
	return &TrialResult{
		Index:      -1,
		Params:     t.mfModel.GetParams(),
		Score:      bestScore,
		BestEpoch:  bestEpoch,
		Epochs:     epochs,
		State:      t.state,
		ModelState: best,
		Err:        err,
	}
}

// Run trains until convergence, early stop, failure or the epoch limit,
// whichever comes first. The run is bounded by NEpochs regardless of any
// external signal. Cancelling the context stops after the current epoch and
// still yields a well-formed result carrying the best checkpoint so far.
func (t *Trainer) Run(ctx context.Context) *TrialResult {
	t.state = StateRunning
	t.mfModel.Init(t.splits.Train)
	t.config.Tracker.Start(t.maxEpochs)

	bestScore, err := t.evaluate()
	if err != nil {
		t.state = StateFailed
		return t.result(Score{}, 0, 0, nil, errors.Trace(err))
	}
	best := t.mfModel.State()
	bestEpoch := 0

	interactions := make([]dataset.Interaction, t.splits.Train.Count())
	copy(interactions, t.splits.Train.Interactions())
	grads := NewGradients(t.mfModel.NFactors())

	noImprove, smallImprove := 0, 0
	epochsRun := 0
	for epoch := 1; epoch <= t.maxEpochs; epoch++ {
		if ctx.Err() != nil {
			t.state = StateEarlyStopped
			log.Logger().Info("training cancelled", zap.Int("epoch", epochsRun))
			break
		}
		start := time.Now()
		t.rng.Shuffle(len(interactions), func(i, j int) {
			interactions[i], interactions[j] = interactions[j], interactions[i]
		})
		var epochLoss float32
		for begin := 0; begin < len(interactions); begin += t.batchSize {
			end := min(begin+t.batchSize, len(interactions))
			grads.Reset()
			loss, err := t.objective.ComputeBatch(t.mfModel, interactions[begin:end], grads)
			if err != nil {
				t.state = StateFailed
				t.restore(best)
				return t.result(bestScore, bestEpoch, epoch-1, best, errors.Trace(err))
			}
			if math32.IsNaN(loss) || math32.IsInf(loss, 0) {
				t.state = StateFailed
				t.restore(best)
				numErr := &NumericalError{Epoch: epoch, Message: "non-finite training loss"}
				log.Logger().Error("training diverged", zap.Int("epoch", epoch), zap.Error(numErr))
				return t.result(bestScore, bestEpoch, epoch, best, numErr)
			}
			epochLoss += loss
			t.optimizer.Step(t.mfModel, grads)
		}
		score, err := t.evaluate()
		if err != nil {
			t.state = StateFailed
			t.restore(best)
			return t.result(bestScore, bestEpoch, epoch, best, errors.Trace(err))
		}
		primary := score.Get(t.config.Primary)
		if math32.IsNaN(primary) || math32.IsInf(primary, 0) {
			t.state = StateFailed
			t.restore(best)
			numErr := &NumericalError{Epoch: epoch, Message: "non-finite validation metric"}
			return t.result(bestScore, bestEpoch, epoch, best, numErr)
		}
		epochsRun = epoch
		t.config.Tracker.Update(epoch, score.Metrics(t.config.TopK))
		if t.config.Verbose > 0 {
			log.Logger().Debug(fmt.Sprintf("epoch %d/%d", epoch, t.maxEpochs),
				zap.Float32("loss", epochLoss),
				zap.Float32(string(t.config.Primary), primary),
				zap.Duration("duration", time.Since(start)))
		}
		improvement := primary - bestScore.Get(t.config.Primary)
		if improvement > 0 {
			bestScore = score
			bestEpoch = epoch
			best = t.mfModel.State()
			noImprove = 0
		} else {
			noImprove++
		}
		if improvement >= t.config.Epsilon {
			smallImprove = 0
		} else {
			smallImprove++
		}
		if epoch == t.maxEpochs {
			// the epoch budget ended; reaching it outranks patience
			break
		}
		if noImprove >= t.config.Patience {
			t.state = StateEarlyStopped
			break
		}
		if smallImprove >= t.config.Patience {
			t.state = StateConverged
			break
		}
	}
	if !t.state.Terminal() {
		t.state = StateMaxEpochsReached
	}
	t.restore(best)
	t.config.Tracker.Finish(bestScore.Metrics(t.config.TopK))
	if t.config.Verbose > 0 {
		log.Logger().Info("training finished",
			zap.String("state", t.state.String()),
			zap.Int("best_epoch", bestEpoch),
			zap.Float32(string(t.config.Primary), bestScore.Get(t.config.Primary)))
	}
	return t.result(bestScore, bestEpoch, epochsRun, best, nil)
}

func (t *Trainer) restore(best *ModelState) {
	if best == nil {
		return
	}
	if err := t.mfModel.LoadState(best); err != nil {
		log.Logger().Error("failed to restore checkpoint", zap.Error(err))
	}
}
