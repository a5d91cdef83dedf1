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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/reclab-io/reclab/base"
	"github.com/reclab-io/reclab/base/log"
	"go.uber.org/zap"
)

// DataError reports malformed or inconsistent interaction data. It is fatal
// to the construction of the affected split and is never retried.
type DataError struct {
	Message string
}

func (e *DataError) Error() string {
	return "data error: " + e.Message
}

// NewDataError creates a DataError with a formatted message.
func NewDataError(format string, args ...interface{}) error {
	return &DataError{Message: fmt.Sprintf(format, args...)}
}

// IsDataError reports whether err is a DataError.
func IsDataError(err error) bool {
	var dataErr *DataError
	return errors.As(err, &dataErr)
}

// Interaction is a single (user, item, label) triple. The label is either an
// explicit rating or 1 for implicit feedback.
type Interaction struct {
	UserId int32
	ItemId int32
	Label  float32
}

// Dataset is an immutable, in-memory collection of interactions over dense
// contiguous user and item ids. Once built it is safe to share across
// concurrent trials.
type Dataset struct {
	numUsers     int
	numItems     int
	interactions []Interaction
	userFeedback [][]int32
	itemFeedback [][]int32
}

// NewDataset creates an empty dataset over a fixed user and item universe.
func NewDataset(numUsers, numItems int) *Dataset {
	return &Dataset{
		numUsers:     numUsers,
		numItems:     numItems,
		userFeedback: make([][]int32, numUsers),
		itemFeedback: make([][]int32, numItems),
	}
}

// Add appends an interaction. Ids outside the declared universe fail fast
// with a DataError: id mapping is an upstream concern.
func (d *Dataset) Add(interaction Interaction) error {
	if interaction.UserId < 0 || int(interaction.UserId) >= d.numUsers {
		return NewDataError("user id %d out of range [0, %d)", interaction.UserId, d.numUsers)
	}
	if interaction.ItemId < 0 || int(interaction.ItemId) >= d.numItems {
		return NewDataError("item id %d out of range [0, %d)", interaction.ItemId, d.numItems)
	}
	d.interactions = append(d.interactions, interaction)
	d.userFeedback[interaction.UserId] = append(d.userFeedback[interaction.UserId], interaction.ItemId)
	d.itemFeedback[interaction.ItemId] = append(d.itemFeedback[interaction.ItemId], interaction.UserId)
	return nil
}

// Count returns the number of interactions.
func (d *Dataset) Count() int {
	return len(d.interactions)
}

// CountUsers returns the size of the user universe.
func (d *Dataset) CountUsers() int {
	return d.numUsers
}

// CountItems returns the size of the item universe.
func (d *Dataset) CountItems() int {
	return d.numItems
}

// Get returns the i-th interaction.
func (d *Dataset) Get(i int) Interaction {
	return d.interactions[i]
}

// Interactions returns the backing interaction slice. Callers must not
// mutate it.
func (d *Dataset) Interactions() []Interaction {
	return d.interactions
}

// GetUserFeedback returns per-user item ids. Read-only.
func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

// GetItemFeedback returns per-item user ids. Read-only.
func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

// PositiveSet holds, for every user, the set of items the user interacted
// with across all splits. Built once, read-only afterwards, safe to share.
type PositiveSet struct {
	numItems int
	sets     []mapset.Set[int32]
}

// NewPositiveSet creates an empty positive set over a fixed universe.
func NewPositiveSet(numUsers, numItems int) *PositiveSet {
	sets := make([]mapset.Set[int32], numUsers)
	for i := range sets {
		sets[i] = mapset.NewThreadUnsafeSet[int32]()
	}
	return &PositiveSet{numItems: numItems, sets: sets}
}

// Add records (userId, itemId) as a positive.
func (s *PositiveSet) Add(userId, itemId int32) {
	s.sets[userId].Add(itemId)
}

// Has reports whether (userId, itemId) is a known positive.
func (s *PositiveSet) Has(userId, itemId int32) bool {
	return s.sets[userId].Contains(itemId)
}

// Count returns the number of positives of a user.
func (s *PositiveSet) Count(userId int32) int {
	return s.sets[userId].Cardinality()
}

// Set returns the positive set of a user. Read-only.
func (s *PositiveSet) Set(userId int32) mapset.Set[int32] {
	return s.sets[userId]
}

// CountUsers returns the size of the user universe.
func (s *PositiveSet) CountUsers() int {
	return len(s.sets)
}

// CountItems returns the size of the item universe.
func (s *PositiveSet) CountItems() int {
	return s.numItems
}

// Splits is the result of partitioning a dataset. Train, Valid and Test are
// disjoint in (user, item) pairs; Positives is the union over all three.
type Splits struct {
	Train     *Dataset
	Valid     *Dataset
	Test      *Dataset
	Positives *PositiveSet
	// DroppedUsers counts users removed because they had validation or test
	// interactions but none left for training (cold start is out of scope).
	DroppedUsers int
	// Duplicates counts repeated (user, item) pairs discarded while loading.
	Duplicates int
}

// Split deterministically partitions interactions into train, validation and
// test sets with a seeded shuffle. trainRatio and validRatio are fractions of
// the interaction count; the remainder becomes the test set. Duplicate
// (user, item) pairs are discarded so a pair never appears in two splits.
// Users that would end up with validation or test interactions but no
// training interactions are dropped entirely and reported as a count.
func Split(interactions []Interaction, numUsers, numItems int, trainRatio, validRatio float64, seed int64) (*Splits, error) {
	if trainRatio <= 0 || validRatio < 0 || trainRatio+validRatio > 1 {
		return nil, NewDataError("invalid split ratios: train=%v valid=%v", trainRatio, validRatio)
	}
	for _, interaction := range interactions {
		if interaction.UserId < 0 || int(interaction.UserId) >= numUsers {
			return nil, NewDataError("user id %d out of range [0, %d)", interaction.UserId, numUsers)
		}
		if interaction.ItemId < 0 || int(interaction.ItemId) >= numItems {
			return nil, NewDataError("item id %d out of range [0, %d)", interaction.ItemId, numItems)
		}
	}
	// discard duplicate pairs, keep first occurrence
	seen := make(map[int64]struct{}, len(interactions))
	deduped := make([]Interaction, 0, len(interactions))
	for _, interaction := range interactions {
		key := int64(interaction.UserId)<<32 | int64(uint32(interaction.ItemId))
		if _, exist := seen[key]; exist {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, interaction)
	}
	duplicates := len(interactions) - len(deduped)
	// stable seeded shuffle
	rng := base.NewRandomGenerator(seed)
	shuffled := make([]Interaction, len(deduped))
	copy(shuffled, deduped)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	trainEnd := int(float64(len(shuffled)) * trainRatio)
	validEnd := trainEnd + int(float64(len(shuffled))*validRatio)
	// users holding at least one training interaction
	trainedUsers := mapset.NewThreadUnsafeSet[int32]()
	for _, interaction := range shuffled[:trainEnd] {
		trainedUsers.Add(interaction.UserId)
	}
	droppedUsers := mapset.NewThreadUnsafeSet[int32]()
	for _, interaction := range shuffled[trainEnd:] {
		if !trainedUsers.Contains(interaction.UserId) {
			droppedUsers.Add(interaction.UserId)
		}
	}
	if droppedUsers.Cardinality() > 0 {
		log.Logger().Info("dropped users without training interactions",
			zap.Int("n_dropped_users", droppedUsers.Cardinality()))
	}
	splits := &Splits{
		Train:        NewDataset(numUsers, numItems),
		Valid:        NewDataset(numUsers, numItems),
		Test:         NewDataset(numUsers, numItems),
		DroppedUsers: droppedUsers.Cardinality(),
		Duplicates:   duplicates,
	}
	for i, interaction := range shuffled {
		if droppedUsers.Contains(interaction.UserId) {
			continue
		}
		var target *Dataset
		switch {
		case i < trainEnd:
			target = splits.Train
		case i < validEnd:
			target = splits.Valid
		default:
			target = splits.Test
		}
		if err := target.Add(interaction); err != nil {
			return nil, errors.Trace(err)
		}
	}
	// global positive set over the union of all splits
	splits.Positives = NewPositiveSet(numUsers, numItems)
	for _, split := range []*Dataset{splits.Train, splits.Valid, splits.Test} {
		for _, interaction := range split.interactions {
			splits.Positives.sets[interaction.UserId].Add(interaction.ItemId)
		}
	}
	return splits, nil
}

// LoadCSV reads interaction triples from a CSV-like file:
//
//	<userId> <sep> <itemId> <sep> <label> [<sep> <extras>]
//
// Ids must already be dense integers; lines with fewer than two fields are
// skipped; a missing label defaults to 1 (implicit feedback).
func LoadCSV(fileName, sep string, hasHeader bool) ([]Interaction, int, int, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, 0, 0, errors.Trace(err)
	}
	defer file.Close()
	var (
		interactions []Interaction
		numUsers     int
		numItems     int
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if hasHeader {
			hasHeader = false
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) < 2 {
			continue
		}
		userId, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, 0, 0, NewDataError("invalid user id %q", fields[0])
		}
		itemId, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, 0, 0, NewDataError("invalid item id %q", fields[1])
		}
		label := 1.0
		if len(fields) > 2 {
			label, err = strconv.ParseFloat(fields[2], 32)
			if err != nil {
				return nil, 0, 0, NewDataError("invalid label %q", fields[2])
			}
		}
		interactions = append(interactions, Interaction{
			UserId: int32(userId),
			ItemId: int32(itemId),
			Label:  float32(label),
		})
		numUsers = max(numUsers, userId+1)
		numItems = max(numItems, itemId+1)
	}
	return interactions, numUsers, numItems, errors.Trace(scanner.Err())
}
