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
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/reclab-io/reclab/base/log"
	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/mf"
	"github.com/reclab-io/reclab/model"
	"github.com/reclab-io/reclab/search"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "reclab",
	Short: "Matrix factorization recommender with hyper-parameter search.",
	Run: func(cmd *cobra.Command, args []string) {
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)
		// load interactions
		dataPath, _ := cmd.PersistentFlags().GetString("data")
		sep, _ := cmd.PersistentFlags().GetString("sep")
		hasHeader, _ := cmd.PersistentFlags().GetBool("header")
		interactions, numUsers, numItems, err := dataset.LoadCSV(dataPath, sep, hasHeader)
		if err != nil {
			log.Logger().Fatal("failed to load interactions", zap.Error(err))
		}
		log.Logger().Info("loaded interactions",
			zap.String("path", dataPath),
			zap.Int("n_interactions", len(interactions)),
			zap.Int("n_users", numUsers),
			zap.Int("n_items", numItems))
		// split
		trainRatio, _ := cmd.PersistentFlags().GetFloat64("train-ratio")
		validRatio, _ := cmd.PersistentFlags().GetFloat64("valid-ratio")
		seed, _ := cmd.PersistentFlags().GetInt64("seed")
		splits, err := dataset.Split(interactions, numUsers, numItems, trainRatio, validRatio, seed)
		if err != nil {
			log.Logger().Fatal("failed to split interactions", zap.Error(err))
		}
		// search configuration
		epochs, _ := cmd.PersistentFlags().GetInt("epochs")
		topK, _ := cmd.PersistentFlags().GetInt("top-k")
		candidates, _ := cmd.PersistentFlags().GetInt("candidates")
		patience, _ := cmd.PersistentFlags().GetInt("patience")
		jobs, _ := cmd.PersistentFlags().GetInt("jobs")
		trials, _ := cmd.PersistentFlags().GetInt("trials")
		concurrency, _ := cmd.PersistentFlags().GetInt("concurrency")
		strategy, _ := cmd.PersistentFlags().GetString("strategy")
		trainConfig := mf.NewTrainConfig()
		trainConfig.TopK = topK
		trainConfig.Candidates = candidates
		trainConfig.Patience = patience
		trainConfig.Jobs = jobs
		if concurrency <= 1 {
			trainConfig.Tracker = &progressTracker{}
		}
		searcher, err := search.NewSearch(&search.Config{
			Space: search.Space{
				model.NFactors: search.Choice{Values: []interface{}{8, 16, 32, 64}},
				model.Lr:       search.LogUniform{Low: 0.001, High: 0.1},
				model.Reg:      search.LogUniform{Low: 0.0001, High: 0.1},
				model.LossType: search.Choice{Values: []interface{}{model.LossBPR, model.LossBCE}},
				model.NegRatio: search.IntRange{Low: 1, High: 4},
			},
			Budget:      trials,
			Concurrency: concurrency,
			Strategy:    search.Strategy(strategy),
			Fixed:       model.Params{model.NEpochs: epochs},
			Train:       trainConfig,
			Seed:        seed,
		}, splits)
		if err != nil {
			log.Logger().Fatal("invalid search configuration", zap.Error(err))
		}
		// stop proposing trials on SIGINT, finish the ones running
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		result, err := searcher.Run(ctx)
		if err != nil {
			log.Logger().Fatal("search failed", zap.Error(err))
		}
		if result.Best == nil {
			log.Logger().Fatal("no trial succeeded")
		}
		// save the winning checkpoint
		outputPath, _ := cmd.PersistentFlags().GetString("output")
		if outputPath != "" {
			file, err := os.Create(outputPath)
			if err != nil {
				log.Logger().Fatal("failed to create checkpoint file", zap.Error(err))
			}
			defer file.Close()
			if err = result.Best.ModelState.Marshal(file); err != nil {
				log.Logger().Fatal("failed to write checkpoint", zap.Error(err))
			}
			log.Logger().Info("saved checkpoint", zap.String("path", outputPath))
		}
	},
}

// progressTracker renders per-epoch metrics as a progress bar. Only used for
// sequential searches: concurrent trials would interleave their bars.
type progressTracker struct {
	bar *progressbar.ProgressBar
}

func (t *progressTracker) Start(total int) {
	t.bar = progressbar.Default(int64(total))
}

func (t *progressTracker) Update(epoch int, metrics map[string]float32) {
	_ = t.bar.Add(1)
}

func (t *progressTracker) Finish(metrics map[string]float32) {
	_ = t.bar.Finish()
}

func init() {
	rootCommand.PersistentFlags().String("data", "", "path of the interaction file")
	rootCommand.PersistentFlags().String("sep", ",", "field separator of the interaction file")
	rootCommand.PersistentFlags().Bool("header", false, "skip the first line of the interaction file")
	rootCommand.PersistentFlags().Float64("train-ratio", 0.8, "fraction of interactions used for training")
	rootCommand.PersistentFlags().Float64("valid-ratio", 0.1, "fraction of interactions used for validation")
	rootCommand.PersistentFlags().Int64("seed", 0, "random seed of splitting, sampling and search")
	rootCommand.PersistentFlags().Int("epochs", 100, "maximum training epochs per trial")
	rootCommand.PersistentFlags().Int("top-k", 10, "ranking cutoff of Recall and NDCG")
	rootCommand.PersistentFlags().Int("candidates", 100, "sampled negatives per evaluated user")
	rootCommand.PersistentFlags().Int("patience", 10, "non-improving epochs tolerated before stopping")
	rootCommand.PersistentFlags().Int("jobs", 1, "evaluation parallelism within a trial")
	rootCommand.PersistentFlags().Int("trials", 10, "number of search trials")
	rootCommand.PersistentFlags().Int("concurrency", 1, "number of trials running at once")
	rootCommand.PersistentFlags().String("strategy", string(search.StrategyRandom), "search strategy: random or tpe")
	rootCommand.PersistentFlags().String("output", "", "path of the saved checkpoint")
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(rootCommand.PersistentFlags())
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
