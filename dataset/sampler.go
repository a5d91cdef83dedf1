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

package dataset

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/reclab-io/reclab/base"
)

// SamplingError reports an unsatisfiable exclusion constraint: more negatives
// requested than items outside the user's positive set. Fatal to the calling
// trial.
type SamplingError struct {
	Message string
}

func (e *SamplingError) Error() string {
	return "sampling error: " + e.Message
}

// IsSamplingError reports whether err is a SamplingError.
func IsSamplingError(err error) bool {
	var samplingErr *SamplingError
	return errors.As(err, &samplingErr)
}

// NegativeSampler draws items a user has never interacted with, uniformly
// from the item universe minus the user's global positive set. Each sampler
// owns a seeded random source, so concurrent trials never correlate.
type NegativeSampler struct {
	rng       base.RandomGenerator
	positives *PositiveSet
}

// NewNegativeSampler creates a sampler over a positive set.
func NewNegativeSampler(positives *PositiveSet, seed int64) *NegativeSampler {
	return &NegativeSampler{
		rng:       base.NewRandomGenerator(seed),
		positives: positives,
	}
}

// SampleNegatives returns exactly k distinct item ids outside the user's
// positive set. Collisions with excluded ids are resampled, never clamped:
// undersampling negatives would bias the objective. Returns a SamplingError
// when k exceeds the number of admissible items.
func (s *NegativeSampler) SampleNegatives(userId int32, k int) ([]int32, error) {
	if userId < 0 || int(userId) >= s.positives.CountUsers() {
		return nil, NewDataError("user id %d out of range [0, %d)", userId, s.positives.CountUsers())
	}
	available := s.positives.CountItems() - s.positives.Count(userId)
	if k > available {
		return nil, &SamplingError{Message: fmt.Sprintf(
			"requested %d negatives for user %d but only %d items are admissible", k, userId, available)}
	}
	return s.rng.SampleInt32(0, int32(s.positives.CountItems()), k, s.positives.Set(userId)), nil
}
