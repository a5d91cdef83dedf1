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
	"encoding/binary"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/reclab-io/reclab/base/encoding"
	"github.com/reclab-io/reclab/base/log"
	"github.com/reclab-io/reclab/common/floats"
	"github.com/reclab-io/reclab/dataset"
	"github.com/reclab-io/reclab/model"
	"go.uber.org/zap"
)

// MF is a matrix factorization scoring model. The score of a (user, item)
// pair is the inner product of their embedding vectors, optionally plus
// learned user, item and global biases:
//
//	score(u, i) = p_u^T q_i + b_u + b_i + b_g
//
// Hyper-parameters:
//
//	NFactors   - Embedding dimension. Default is 10.
//	UseBias    - Enable bias terms. Default is false.
//	InitMean   - Mean of initial embeddings. Default is 0.
//	InitStdDev - Standard deviation of initial embeddings.
//	             Default is 1/sqrt(NFactors), keeping initial scores near zero.
type MF struct {
	model.BaseModel
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
	UserBias   []float32   // b_u
	ItemBias   []float32   // b_i
	GlobalBias float32     // b_g
	// Training coverage
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Hyper parameters
	nFactors   int
	useBias    bool
	initMean   float32
	initStdDev float32
}

// NewMF creates a matrix factorization model. The embedding dimension and
// bias flag are fixed from params and immutable afterwards.
func NewMF(params model.Params) *MF {
	m := new(MF)
	m.SetParams(params)
	return m
}

// SetParams sets hyper-parameters of the MF model.
func (m *MF) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.nFactors = m.Params.GetInt(model.NFactors, 10)
	m.useBias = m.Params.GetBool(model.UseBias, false)
	m.initMean = m.Params.GetFloat32(model.InitMean, 0)
	m.initStdDev = m.Params.GetFloat32(model.InitStdDev, 1/math32.Sqrt(float32(m.nFactors)))
}

// NFactors returns the embedding dimension.
func (m *MF) NFactors() int {
	return m.nFactors
}

// UseBias reports whether bias terms are enabled.
func (m *MF) UseBias() bool {
	return m.useBias
}

// Init allocates and randomly initializes the embedding tables for the
// user and item universe of the training split.
func (m *MF) Init(trainSet *dataset.Dataset) {
	rng := m.GetRandomGenerator()
	m.UserFactor = rng.NormalMatrix(trainSet.CountUsers(), m.nFactors, m.initMean, m.initStdDev)
	m.ItemFactor = rng.NormalMatrix(trainSet.CountItems(), m.nFactors, m.initMean, m.initStdDev)
	m.UserBias = make([]float32, trainSet.CountUsers())
	m.ItemBias = make([]float32, trainSet.CountItems())
	m.GlobalBias = 0
	m.UserPredictable = bitset.New(uint(trainSet.CountUsers()))
	for userId, feedback := range trainSet.GetUserFeedback() {
		if len(feedback) > 0 {
			m.UserPredictable.Set(uint(userId))
		}
	}
	m.ItemPredictable = bitset.New(uint(trainSet.CountItems()))
	for itemId, feedback := range trainSet.GetItemFeedback() {
		if len(feedback) > 0 {
			m.ItemPredictable.Set(uint(itemId))
		}
	}
}

// Score predicts the compatibility of a (user, item) pair.
func (m *MF) Score(userId, itemId int32) float32 {
	if userId < 0 || int(userId) >= len(m.UserFactor) || itemId < 0 || int(itemId) >= len(m.ItemFactor) {
		log.Logger().Warn("unknown user or item",
			zap.Int32("user_id", userId), zap.Int32("item_id", itemId))
		return 0
	}
	ret := floats.Dot(m.UserFactor[userId], m.ItemFactor[itemId])
	if m.useBias {
		ret += m.UserBias[userId] + m.ItemBias[itemId] + m.GlobalBias
	}
	return ret
}

// ScoreBatch predicts scores for parallel slices of user and item ids.
func (m *MF) ScoreBatch(userIds, itemIds []int32) []float32 {
	if len(userIds) != len(itemIds) {
		panic("mf: user and item id slices must have the same length")
	}
	ret := make([]float32, len(userIds))
	for i := range userIds {
		ret[i] = m.Score(userIds[i], itemIds[i])
	}
	return ret
}

// IsUserPredictable returns false if the user had no training feedback, so
// its embedding was never updated.
func (m *MF) IsUserPredictable(userId int32) bool {
	if userId < 0 || int(userId) >= len(m.UserFactor) {
		return false
	}
	return m.UserPredictable.Test(uint(userId))
}

// IsItemPredictable returns false if the item had no training feedback.
func (m *MF) IsItemPredictable(itemId int32) bool {
	if itemId < 0 || int(itemId) >= len(m.ItemFactor) {
		return false
	}
	return m.ItemPredictable.Test(uint(itemId))
}

// Clear frees model weights.
func (m *MF) Clear() {
	m.UserFactor = nil
	m.ItemFactor = nil
	m.UserBias = nil
	m.ItemBias = nil
	m.UserPredictable = nil
	m.ItemPredictable = nil
}

// Invalid reports whether the model holds no weights.
func (m *MF) Invalid() bool {
	return m == nil || m.UserFactor == nil || m.ItemFactor == nil
}

// ModelState is an immutable, self-describing snapshot of a scoring model:
// enough to reconstruct the model and resume scoring without retraining.
// Snapshots are always deep copies, never aliases of live weights.
type ModelState struct {
	NFactors   int
	NumUsers   int
	NumItems   int
	UseBias    bool
	UserFactor [][]float32
	ItemFactor [][]float32
	UserBias   []float32
	ItemBias   []float32
	GlobalBias float32
	Params     model.Params
}

func copyMatrix(m [][]float32) [][]float32 {
	if m == nil {
		return nil
	}
	ret := make([][]float32, len(m))
	for i := range m {
		ret[i] = make([]float32, len(m[i]))
		copy(ret[i], m[i])
	}
	return ret
}

func copyVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	ret := make([]float32, len(v))
	copy(ret, v)
	return ret
}

// Copy returns a deep copy of the snapshot.
func (s *ModelState) Copy() *ModelState {
	if s == nil {
		return nil
	}
	return &ModelState{
		NFactors:   s.NFactors,
		NumUsers:   s.NumUsers,
		NumItems:   s.NumItems,
		UseBias:    s.UseBias,
		UserFactor: copyMatrix(s.UserFactor),
		ItemFactor: copyMatrix(s.ItemFactor),
		UserBias:   copyVector(s.UserBias),
		ItemBias:   copyVector(s.ItemBias),
		GlobalBias: s.GlobalBias,
		Params:     s.Params.Copy(),
	}
}

// State returns a deep snapshot of the model.
func (m *MF) State() *ModelState {
	return &ModelState{
		NFactors:   m.nFactors,
		NumUsers:   len(m.UserFactor),
		NumItems:   len(m.ItemFactor),
		UseBias:    m.useBias,
		UserFactor: copyMatrix(m.UserFactor),
		ItemFactor: copyMatrix(m.ItemFactor),
		UserBias:   copyVector(m.UserBias),
		ItemBias:   copyVector(m.ItemBias),
		GlobalBias: m.GlobalBias,
		Params:     m.Params.Copy(),
	}
}

// LoadState replaces the model weights with a copy of the snapshot. The
// snapshot itself is never aliased and stays immutable.
func (m *MF) LoadState(state *ModelState) error {
	if state.NFactors != m.nFactors {
		return errors.NotValidf("snapshot dimension %d, model dimension %d", state.NFactors, m.nFactors)
	}
	m.UserFactor = copyMatrix(state.UserFactor)
	m.ItemFactor = copyMatrix(state.ItemFactor)
	m.UserBias = copyVector(state.UserBias)
	m.ItemBias = copyVector(state.ItemBias)
	m.GlobalBias = state.GlobalBias
	return nil
}

// NewMFFromState reconstructs a scoring model from a snapshot.
func NewMFFromState(state *ModelState) (*MF, error) {
	m := NewMF(state.Params)
	if err := m.LoadState(state); err != nil {
		return nil, errors.Trace(err)
	}
	m.UserPredictable = bitset.New(uint(state.NumUsers))
	m.ItemPredictable = bitset.New(uint(state.NumItems))
	for i := 0; i < state.NumUsers; i++ {
		m.UserPredictable.Set(uint(i))
	}
	for i := 0; i < state.NumItems; i++ {
		m.ItemPredictable.Set(uint(i))
	}
	return m, nil
}

// Marshal writes a snapshot to a byte stream.
func (s *ModelState) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, s.Params); err != nil {
		return errors.Trace(err)
	}
	header := []int64{int64(s.NFactors), int64(s.NumUsers), int64(s.NumItems)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.UseBias); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, s.UserFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, s.ItemFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, s.UserBias); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, s.ItemBias); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, s.GlobalBias))
}

// UnmarshalModelState reads a snapshot from a byte stream.
func UnmarshalModelState(r io.Reader) (*ModelState, error) {
	s := new(ModelState)
	if err := encoding.ReadGob(r, &s.Params); err != nil {
		return nil, errors.Trace(err)
	}
	header := make([]int64, 3)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return nil, errors.Trace(err)
	}
	s.NFactors, s.NumUsers, s.NumItems = int(header[0]), int(header[1]), int(header[2])
	if err := binary.Read(r, binary.LittleEndian, &s.UseBias); err != nil {
		return nil, errors.Trace(err)
	}
	s.UserFactor = make([][]float32, s.NumUsers)
	for i := range s.UserFactor {
		s.UserFactor[i] = make([]float32, s.NFactors)
	}
	if err := encoding.ReadMatrix(r, s.UserFactor); err != nil {
		return nil, errors.Trace(err)
	}
	s.ItemFactor = make([][]float32, s.NumItems)
	for i := range s.ItemFactor {
		s.ItemFactor[i] = make([]float32, s.NFactors)
	}
	if err := encoding.ReadMatrix(r, s.ItemFactor); err != nil {
		return nil, errors.Trace(err)
	}
	s.UserBias = make([]float32, s.NumUsers)
	if err := encoding.ReadVector(r, s.UserBias); err != nil {
		return nil, errors.Trace(err)
	}
	s.ItemBias = make([]float32, s.NumItems)
	if err := encoding.ReadVector(r, s.ItemBias); err != nil {
		return nil, errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.GlobalBias); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}
