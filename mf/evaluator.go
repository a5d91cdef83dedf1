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
	"fmt"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/reclab-io/reclab/base"
	"github.com/reclab-io/reclab/dataset"
)

// Metric names a ranking metric tracked by the evaluator.
type Metric string

const (
	NDCG   Metric = "NDCG"
	Recall Metric = "Recall"
	MRR    Metric = "MRR"
)

// Score holds the ranking metrics of one evaluation pass, each averaged per
// user and then across users.
type Score struct {
	NDCG   float32
	Recall float32
	MRR    float32
}

// Get returns a metric by name.
func (score Score) Get(metric Metric) float32 {
	switch metric {
	case NDCG:
		return score.NDCG
	case Recall:
		return score.Recall
	case MRR:
		return score.MRR
	default:
		panic(fmt.Sprintf("unknown metric %q", metric))
	}
}

// Metrics renders the score as a name-to-value map for trackers and logs.
func (score Score) Metrics(topK int) map[string]float32 {
	return map[string]float32{
		fmt.Sprintf("NDCG@%d", topK):   score.NDCG,
		fmt.Sprintf("Recall@%d", topK): score.Recall,
		"MRR":                          score.MRR,
	}
}

// rank returns the 1-based rank of the positive among the candidates. Ties
// are broken by item id, lower id ranked first, so evaluation never depends
// on candidate order.
func rank(posScore float32, posId int32, negScores []float32, negIds []int32) int {
	r := 1
	for i, negScore := range negScores {
		if negScore > posScore || (negScore == posScore && negIds[i] < posId) {
			r++
		}
	}
	return r
}

// Evaluate ranks every held-out positive of evalSet against sampled negatives
// and returns Recall@topK, NDCG@topK and MRR. Negatives are drawn outside the
// user's global positive set; when fewer than numCandidates items are
// admissible all of them are used. Users without held-out positives are
// excluded from the averages.
func Evaluate(m *MF, evalSet *dataset.Dataset, positives *dataset.PositiveSet,
	sampler *dataset.NegativeSampler, topK, numCandidates, nJobs int) (Score, error) {
	userFeedback := evalSet.GetUserFeedback()
	evalUsers := make([]int32, 0, len(userFeedback))
	for userId := range userFeedback {
		if len(userFeedback[userId]) > 0 {
			evalUsers = append(evalUsers, int32(userId))
		}
	}
	if len(evalUsers) == 0 {
		return Score{}, nil
	}
	// draw candidate negatives sequentially so the sampler state stays
	// deterministic, then score users in parallel
	negatives := make([][]int32, len(evalUsers))
	for i, userId := range evalUsers {
		available := positives.CountItems() - positives.Count(userId)
		k := min(numCandidates, available)
		sampled, err := sampler.SampleNegatives(userId, k)
		if err != nil {
			return Score{}, errors.Trace(err)
		}
		negatives[i] = sampled
	}
	userNDCG := make([]float32, len(evalUsers))
	userRecall := make([]float32, len(evalUsers))
	userMRR := make([]float32, len(evalUsers))
	err := base.Parallel(len(evalUsers), nJobs, func(_, taskId int) error {
		userId := evalUsers[taskId]
		negIds := negatives[taskId]
		negScores := make([]float32, len(negIds))
		for i, negId := range negIds {
			negScores[i] = m.Score(userId, negId)
		}
		heldOut := userFeedback[userId]
		var ndcg, recall, mrr float32
		for _, posId := range heldOut {
			r := rank(m.Score(userId, posId), posId, negScores, negIds)
			if r <= topK {
				recall++
				ndcg += 1 / math32.Log2(float32(r)+1)
			}
			mrr += 1 / float32(r)
		}
		n := float32(len(heldOut))
		userNDCG[taskId] = ndcg / n
		userRecall[taskId] = recall / n
		userMRR[taskId] = mrr / n
		return nil
	})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	mean := func(perUser []float32) float32 {
		return float32(base.ParallelMean(len(evalUsers), nJobs, func(begin, end int) (sum float64) {
			for i := begin; i < end; i++ {
				sum += float64(perUser[i])
			}
			return
		}))
	}
	return Score{
		NDCG:   mean(userNDCG),
		Recall: mean(userRecall),
		MRR:    mean(userMRR),
	}, nil
}
