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
	"github.com/reclab-io/reclab/model"
)

// Optimizer applies accumulated gradients to model weights. Only rows present
// in the gradients are touched.
type Optimizer interface {
	Step(m *MF, grads *Gradients)
}

// NewOptimizer selects an optimizer by the Optimizer parameter.
func NewOptimizer(params model.Params) (Optimizer, error) {
	lr := params.GetFloat32(model.Lr, 0.01)
	switch name := params.GetString(model.Optimizer, model.OptimizerSGD); name {
	case model.OptimizerSGD:
		return &SGD{lr: lr}, nil
	case model.OptimizerAdam:
		return NewAdam(lr), nil
	default:
		return nil, errors.NotValidf("optimizer %q", name)
	}
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	lr float32
}

// Step subtracts lr-scaled gradients from the touched rows.
func (o *SGD) Step(m *MF, grads *Gradients) {
	for userId, grad := range grads.UserGrad {
		floats.MulConstAdd(grad, -o.lr, m.UserFactor[userId])
	}
	for itemId, grad := range grads.ItemGrad {
		floats.MulConstAdd(grad, -o.lr, m.ItemFactor[itemId])
	}
	for userId, grad := range grads.UserBiasGrad {
		m.UserBias[userId] -= o.lr * grad
	}
	for itemId, grad := range grads.ItemBiasGrad {
		m.ItemBias[itemId] -= o.lr * grad
	}
	m.GlobalBias -= o.lr * grads.GlobalBiasGrad
}

// Adam keeps first and second moment estimates per embedding row and bias,
// allocated lazily so untouched rows cost nothing.
type Adam struct {
	lr    float32
	beta1 float32
	beta2 float32
	eps   float32
	t     int

	userM     map[int32][]float32
	userV     map[int32][]float32
	itemM     map[int32][]float32
	itemV     map[int32][]float32
	userBiasM map[int32]float32
	userBiasV map[int32]float32
	itemBiasM map[int32]float32
	itemBiasV map[int32]float32
	globalM   float32
	globalV   float32
}

// NewAdam creates an Adam optimizer with the usual moment decays.
func NewAdam(lr float32) *Adam {
	return &Adam{
		lr:        lr,
		beta1:     0.9,
		beta2:     0.999,
		eps:       1e-8,
		userM:     make(map[int32][]float32),
		userV:     make(map[int32][]float32),
		itemM:     make(map[int32][]float32),
		itemV:     make(map[int32][]float32),
		userBiasM: make(map[int32]float32),
		userBiasV: make(map[int32]float32),
		itemBiasM: make(map[int32]float32),
		itemBiasV: make(map[int32]float32),
	}
}

func moment(table map[int32][]float32, id int32, n int) []float32 {
	row, exist := table[id]
	if !exist {
		row = make([]float32, n)
		table[id] = row
	}
	return row
}

func (o *Adam) updateRow(weights, grad, m, v []float32, c1, c2 float32) {
	for i := range weights {
		m[i] = o.beta1*m[i] + (1-o.beta1)*grad[i]
		v[i] = o.beta2*v[i] + (1-o.beta2)*grad[i]*grad[i]
		weights[i] -= o.lr * (m[i] / c1) / (math32.Sqrt(v[i]/c2) + o.eps)
	}
}

func (o *Adam) updateScalar(weight *float32, grad float32, m, v *float32, c1, c2 float32) {
	*m = o.beta1**m + (1-o.beta1)*grad
	*v = o.beta2**v + (1-o.beta2)*grad*grad
	*weight -= o.lr * (*m / c1) / (math32.Sqrt(*v/c2) + o.eps)
}

// Step applies bias-corrected Adam updates to the touched rows.
func (o *Adam) Step(m *MF, grads *Gradients) {
	o.t++
	c1 := 1 - math32.Pow(o.beta1, float32(o.t))
	c2 := 1 - math32.Pow(o.beta2, float32(o.t))
	for userId, grad := range grads.UserGrad {
		o.updateRow(m.UserFactor[userId], grad,
			moment(o.userM, userId, m.NFactors()), moment(o.userV, userId, m.NFactors()), c1, c2)
	}
	for itemId, grad := range grads.ItemGrad {
		o.updateRow(m.ItemFactor[itemId], grad,
			moment(o.itemM, itemId, m.NFactors()), moment(o.itemV, itemId, m.NFactors()), c1, c2)
	}
	for userId, grad := range grads.UserBiasGrad {
		mm, vv := o.userBiasM[userId], o.userBiasV[userId]
		o.updateScalar(&m.UserBias[userId], grad, &mm, &vv, c1, c2)
		o.userBiasM[userId], o.userBiasV[userId] = mm, vv
	}
	for itemId, grad := range grads.ItemBiasGrad {
		mm, vv := o.itemBiasM[itemId], o.itemBiasV[itemId]
		o.updateScalar(&m.ItemBias[itemId], grad, &mm, &vv, c1, c2)
		o.itemBiasM[itemId], o.itemBiasV[itemId] = mm, vv
	}
	if grads.GlobalBiasGrad != 0 {
		o.updateScalar(&m.GlobalBias, grads.GlobalBiasGrad, &o.globalM, &o.globalV, c1, c2)
	}
}
