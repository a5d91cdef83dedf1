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

package model

import (
	"encoding/gob"
	"encoding/json"

	"github.com/reclab-io/reclab/base/log"
	"go.uber.org/zap"
)

func init() {
	// parameter values cross the checkpoint boundary inside interface slots
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float32(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
}

/* ParamName */

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	Lr          ParamName = "Lr"          // learning rate
	Reg         ParamName = "Reg"         // regularization strength
	NEpochs     ParamName = "NEpochs"     // number of epochs
	NFactors    ParamName = "NFactors"    // embedding dimension
	NegRatio    ParamName = "NegRatio"    // negatives sampled per positive
	LossType    ParamName = "LossType"    // "bce", "mse" or "bpr"
	Optimizer   ParamName = "Optimizer"   // "sgd" or "adam"
	UseBias     ParamName = "UseBias"     // enable user/item/global biases
	BatchSize   ParamName = "BatchSize"   // training batch size
	RandomState ParamName = "RandomState" // random seed
	InitMean    ParamName = "InitMean"    // mean of gaussian initial parameter
	InitStdDev  ParamName = "InitStdDev"  // standard deviation of gaussian initial parameter
)

// Loss type values for the LossType parameter.
const (
	LossBCE = "bce"
	LossMSE = "mse"
	LossBPR = "bpr"
)

// Optimizer values for the Optimizer parameter.
const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"
)

// Params stores hyper-parameters of one trial. It is an immutable mapping
// from names to values: callers copy before overwriting.
//
//	model.Params{
//		model.Lr:       0.01,
//		model.NEpochs:  100,
//		model.NFactors: 16,
//		model.Reg:      0.01,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets an integer parameter by name. Returns defaultValue if absent.
// Float values produced by search strategies are truncated.
func (parameters Params) GetInt(name ParamName, defaultValue int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		default:
			log.Logger().Error("invalid int parameter", zap.String("name", string(name)), zap.Any("value", val))
		}
	}
	return defaultValue
}

// GetInt64 gets an int64 parameter by name. Returns defaultValue if absent.
func (parameters Params) GetInt64(name ParamName, defaultValue int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("invalid int64 parameter", zap.String("name", string(name)), zap.Any("value", val))
		}
	}
	return defaultValue
}

// GetBool gets a bool parameter by name. Returns defaultValue if absent.
func (parameters Params) GetBool(name ParamName, defaultValue bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			log.Logger().Error("invalid bool parameter", zap.String("name", string(name)), zap.Any("value", val))
		}
	}
	return defaultValue
}

// GetFloat32 gets a float32 parameter by name. Returns defaultValue if absent.
func (parameters Params) GetFloat32(name ParamName, defaultValue float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("invalid float32 parameter", zap.String("name", string(name)), zap.Any("value", val))
		}
	}
	return defaultValue
}

// GetString gets a string parameter by name. Returns defaultValue if absent.
func (parameters Params) GetString(name ParamName, defaultValue string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("invalid string parameter", zap.String("name", string(name)), zap.Any("value", val))
		}
	}
	return defaultValue
}

// Overwrite returns the merge of the receiver and params, params winning.
func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func (parameters Params) ToString() string {
	b, err := json.Marshal(parameters)
	if err != nil {
		log.Logger().Fatal("failed to marshal params", zap.Error(err))
	}
	return string(b)
}

// ParamsGrid contains discrete candidates for grid search.
type ParamsGrid map[ParamName][]interface{}

func (grid ParamsGrid) Len() int {
	return len(grid)
}

// NumCombinations returns the size of the cartesian product of the grid.
func (grid ParamsGrid) NumCombinations() int {
	count := 1
	for _, values := range grid {
		count *= len(values)
	}
	return count
}

// Fill adds defaults for parameters missing from the grid.
func (grid ParamsGrid) Fill(defaultGrid ParamsGrid) {
	for param, values := range defaultGrid {
		if _, exist := grid[param]; !exist {
			grid[param] = values
		}
	}
}
