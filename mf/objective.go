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
	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/reclab-io/reclab/common/floats"
	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/model"
)

// Gradients accumulates sparse gradients for one batch: only embedding rows
// touched by the batch appear, so a step never writes untouched rows.
type Gradients struct {
	nFactors       int
	UserGrad       map[int32][]float32
	ItemGrad       map[int32][]float32
	UserBiasGrad   map[int32]float32
	ItemBiasGrad   map[int32]float32
	GlobalBiasGrad float32
}

// NewGradients creates an empty gradient accumulator.
func NewGradients(nFactors int) *Gradients {
	g := &Gradients{nFactors: nFactors}
	g.Reset()
	return g
}

// Reset drops all accumulated gradients.
func (g *Gradients) Reset() {
	g.UserGrad = make(map[int32][]float32)
	g.ItemGrad = make(map[int32][]float32)
	g.UserBiasGrad = make(map[int32]float32)
	g.ItemBiasGrad = make(map[int32]float32)
	g.GlobalBiasGrad = 0
}

func (g *Gradients) userRow(userId int32) []float32 {
	row, exist := g.UserGrad[userId]
	if !exist {
		row = make([]float32, g.nFactors)
		g.UserGrad[userId] = row
	}
	return row
}

func (g *Gradients) itemRow(itemId int32) []float32 {
	row, exist := g.ItemGrad[itemId]
	if !exist {
		row = make([]float32, g.nFactors)
		g.ItemGrad[itemId] = row
	}
	return row
}

// scale multiplies every accumulated gradient by c, turning batch sums into
// batch means.
func (g *Gradients) scale(c float32) {
	for _, row := range g.UserGrad {
		floats.MulConst(row, c)
	}
	for _, row := range g.ItemGrad {
		floats.MulConst(row, c)
	}
	for id := range g.UserBiasGrad {
		g.UserBiasGrad[id] *= c
	}
	for id := range g.ItemBiasGrad {
		g.ItemBiasGrad[id] *= c
	}
	g.GlobalBiasGrad *= c
}

// Objective turns a batch of positive interactions into a scalar loss and
// accumulated gradients. Implementations draw their own negatives.
type Objective interface {
	// ComputeBatch accumulates gradients for one batch and returns its loss.
	ComputeBatch(m *MF, batch []dataset.Interaction, grads *Gradients) (float32, error)
}

// NewObjective selects an objective by the LossType parameter: "bce" and
// "mse" are pointwise against sampled negatives with target zero, "bpr" is
// pairwise.
func NewObjective(params model.Params, sampler *dataset.NegativeSampler) (Objective, error) {
	negRatio := params.GetInt(model.NegRatio, 1)
	if negRatio < 1 {
		return nil, errors.NotValidf("negative ratio %d", negRatio)
	}
	reg := params.GetFloat32(model.Reg, 0.01)
	lossType := params.GetString(model.LossType, model.LossBPR)
	switch lossType {
	case model.LossBCE, model.LossMSE:
		return &PointwiseObjective{lossType: lossType, negRatio: negRatio, reg: reg, sampler: sampler}, nil
	case model.LossBPR:
		return &PairwiseObjective{negRatio: negRatio, reg: reg, sampler: sampler}, nil
	default:
		return nil, errors.NotValidf("loss type %q", lossType)
	}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// PointwiseObjective treats each observed interaction as a positive example
// and pairs it with sampled negatives labeled zero. With "bce" the score goes
// through a sigmoid and the loss is binary cross-entropy; with "mse" the loss
// is the squared error against the label.
type PointwiseObjective struct {
	lossType string
	negRatio int
	reg      float32
	sampler  *dataset.NegativeSampler
}

// ComputeBatch accumulates pointwise gradients for one batch.
func (o *PointwiseObjective) ComputeBatch(m *MF, batch []dataset.Interaction, grads *Gradients) (float32, error) {
	var loss float32
	for _, interaction := range batch {
		loss += o.example(m, grads, interaction.UserId, interaction.ItemId, interaction.Label)
		negatives, err := o.sampler.SampleNegatives(interaction.UserId, o.negRatio)
		if err != nil {
			return 0, errors.Trace(err)
		}
		for _, negId := range negatives {
			loss += o.example(m, grads, interaction.UserId, negId, 0)
		}
	}
	// mean over all scored examples
	n := float32(len(batch) * (1 + o.negRatio))
	grads.scale(1 / n)
	return loss / n, nil
}

func (o *PointwiseObjective) example(m *MF, grads *Gradients, userId, itemId int32, label float32) float32 {
	score := m.Score(userId, itemId)
	var loss, dLds float32
	if o.lossType == model.LossBCE {
		prediction := sigmoid(score)
		const eps = 1e-7
		if label > 0 {
			loss = -math32.Log(prediction + eps)
		} else {
			loss = -math32.Log(1 - prediction + eps)
		}
		dLds = prediction - label
	} else {
		diff := score - label
		loss = diff * diff
		dLds = 2 * diff
	}
	userFactor := m.UserFactor[userId]
	itemFactor := m.ItemFactor[itemId]
	// dL/dp_u = dLds * q_i + reg * p_u, symmetric for q_i
	userGrad := grads.userRow(userId)
	floats.MulConstAdd(itemFactor, dLds, userGrad)
	floats.MulConstAdd(userFactor, o.reg, userGrad)
	itemGrad := grads.itemRow(itemId)
	floats.MulConstAdd(userFactor, dLds, itemGrad)
	floats.MulConstAdd(itemFactor, o.reg, itemGrad)
	if m.UseBias() {
		grads.UserBiasGrad[userId] += dLds
		grads.ItemBiasGrad[itemId] += dLds
		grads.GlobalBiasGrad += dLds
	}
	return loss + o.reg*(floats.SquaredNorm(userFactor)+floats.SquaredNorm(itemFactor))
}

// PairwiseObjective is Bayesian personalized ranking: each positive is paired
// with sampled negatives and the loss is -log sigmoid(s_pos - s_neg).
type PairwiseObjective struct {
	negRatio int
	reg      float32
	sampler  *dataset.NegativeSampler
}

// ComputeBatch accumulates pairwise gradients for one batch.
func (o *PairwiseObjective) ComputeBatch(m *MF, batch []dataset.Interaction, grads *Gradients) (float32, error) {
	var loss float32
	for _, interaction := range batch {
		userId, posId := interaction.UserId, interaction.ItemId
		negatives, err := o.sampler.SampleNegatives(userId, o.negRatio)
		if err != nil {
			return 0, errors.Trace(err)
		}
		userFactor := m.UserFactor[userId]
		posFactor := m.ItemFactor[posId]
		for _, negId := range negatives {
			diff := m.Score(userId, posId) - m.Score(userId, negId)
			// -log sigmoid(diff), stable for large |diff|
			loss += math32.Log1p(math32.Exp(-diff))
			grad := -sigmoid(-diff)
			negFactor := m.ItemFactor[negId]
			userGrad := grads.userRow(userId)
			floats.MulConstAdd(posFactor, grad, userGrad)
			floats.MulConstAdd(negFactor, -grad, userGrad)
			floats.MulConstAdd(userFactor, o.reg, userGrad)
			posGrad := grads.itemRow(posId)
			floats.MulConstAdd(userFactor, grad, posGrad)
			floats.MulConstAdd(posFactor, o.reg, posGrad)
			negGrad := grads.itemRow(negId)
			floats.MulConstAdd(userFactor, -grad, negGrad)
			floats.MulConstAdd(negFactor, o.reg, negGrad)
			if m.UseBias() {
				// the user and global biases cancel in the score difference
				grads.ItemBiasGrad[posId] += grad
				grads.ItemBiasGrad[negId] += -grad
			}
			loss += o.reg * (floats.SquaredNorm(userFactor) +
				floats.SquaredNorm(posFactor) + floats.SquaredNorm(negFactor))
		}
	}
	// mean over all (positive, negative) pairs
	n := float32(len(batch) * o.negRatio)
	grads.scale(1 / n)
	return loss / n, nil
}
