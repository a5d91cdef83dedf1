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
	"fmt"
	"sort"

	"github.com/c-bata/goptuna"
	"github.com/juju/errors"
	"github.com/reclab-io/reclab/model"
	"github.com/samber/lo"
	"golang.org/x/exp/maps"
)

// ConfigError reports an invalid search configuration, rejected before any
// trial runs.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Message
}

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// Domain describes the admissible values of one hyper-parameter.
type Domain interface {
	validate(name model.ParamName) error
	suggest(trial goptuna.Trial, name model.ParamName) (interface{}, error)
	// values returns the finite candidate list, or nil for continuous domains.
	values() []interface{}
}

// Choice is a discrete set of candidate values.
type Choice struct {
	Values []interface{}
}

func (c Choice) validate(name model.ParamName) error {
	if len(c.Values) == 0 {
		return NewConfigError("empty choice domain for %s", name)
	}
	return nil
}

func (c Choice) suggest(trial goptuna.Trial, name model.ParamName) (interface{}, error) {
	choices := lo.Map(c.Values, func(v interface{}, _ int) string {
		return fmt.Sprint(v)
	})
	chosen, err := trial.SuggestCategorical(string(name), choices)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i, choice := range choices {
		if choice == chosen {
			return c.Values[i], nil
		}
	}
	return nil, NewConfigError("categorical value %q outside the domain of %s", chosen, name)
}

func (c Choice) values() []interface{} {
	return c.Values
}

// IntRange is an inclusive integer interval.
type IntRange struct {
	Low  int
	High int
}

func (r IntRange) validate(name model.ParamName) error {
	if r.Low > r.High {
		return NewConfigError("empty integer range [%d, %d] for %s", r.Low, r.High, name)
	}
	return nil
}

func (r IntRange) suggest(trial goptuna.Trial, name model.ParamName) (interface{}, error) {
	value, err := trial.SuggestInt(string(name), r.Low, r.High)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return value, nil
}

func (r IntRange) values() []interface{} {
	values := make([]interface{}, 0, r.High-r.Low+1)
	for v := r.Low; v <= r.High; v++ {
		values = append(values, v)
	}
	return values
}

// LogUniform is a continuous interval sampled uniformly in log space, the
// usual shape for learning rates and regularization strengths.
type LogUniform struct {
	Low  float64
	High float64
}

func (u LogUniform) validate(name model.ParamName) error {
	if u.Low <= 0 || u.Low >= u.High {
		return NewConfigError("invalid log-uniform range (%v, %v) for %s", u.Low, u.High, name)
	}
	return nil
}

func (u LogUniform) suggest(trial goptuna.Trial, name model.ParamName) (interface{}, error) {
	value, err := trial.SuggestLogFloat(string(name), u.Low, u.High)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return value, nil
}

func (u LogUniform) values() []interface{} {
	return nil
}

// Space maps hyper-parameter names to their search domains.
type Space map[model.ParamName]Domain

// Validate rejects empty spaces and degenerate domains with a ConfigError.
func (s Space) Validate() error {
	if len(s) == 0 {
		return NewConfigError("empty search space")
	}
	for name, domain := range s {
		if err := domain.validate(name); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// names returns parameter names in a stable order, so trials suggest
// parameters identically regardless of map iteration.
func (s Space) names() []model.ParamName {
	names := maps.Keys(s)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Suggest draws one parameter assignment from the space.
func (s Space) Suggest(trial goptuna.Trial) (model.Params, error) {
	params := make(model.Params, len(s))
	for _, name := range s.names() {
		value, err := s[name].suggest(trial, name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		params[name] = value
	}
	return params, nil
}

// Grid returns the candidate grid when every domain is finite, or false when
// the space has a continuous domain.
func (s Space) Grid() (model.ParamsGrid, bool) {
	grid := make(model.ParamsGrid, len(s))
	for name, domain := range s {
		values := domain.values()
		if values == nil {
			return nil, false
		}
		grid[name] = values
	}
	return grid, true
}
