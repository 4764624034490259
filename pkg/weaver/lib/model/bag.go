// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/weaver/pkg/weaver/lib/batch"
	"github.com/antflydb/weaver/pkg/weaver/lib/beam"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

// BagModel is a linear softmax model over the source bag of tokens: the
// predicted target distribution is softmax(W^T x) with x the normalized
// source token counts. It has no recurrence and no attention; it exists to
// exercise the whole bucketing, batching, scheduling and decoding pipeline
// (self-test mode and the test suite) without a neural network backend.
type BagModel struct {
	sourceVocab int
	targetVocab int

	weights *mat.Dense // sourceVocab x targetVocab
	opt     Optimizer

	learningRate float64
	globalStep   atomic.Int64
}

// NewBagModel builds a bag model with zero weights and the given
// optimizer.
func NewBagModel(sourceVocab, targetVocab int, optCfg OptimizerConfig, learningRate float64) (*BagModel, error) {
	if sourceVocab <= 0 || targetVocab <= 0 {
		return nil, fmt.Errorf("vocabulary sizes must be positive, got %d and %d", sourceVocab, targetVocab)
	}
	opt, err := optCfg.New(sourceVocab * targetVocab)
	if err != nil {
		return nil, err
	}
	return &BagModel{
		sourceVocab:  sourceVocab,
		targetVocab:  targetVocab,
		weights:      mat.NewDense(sourceVocab, targetVocab, nil),
		opt:          opt,
		learningRate: learningRate,
	}, nil
}

// sourceBag builds the normalized source count vector for batch element i,
// ignoring padding. Token ids come straight out of the corpus, so they are
// range-checked here rather than trusted.
func (m *BagModel) sourceBag(b *batch.Batch, i int) ([]float64, error) {
	x := make([]float64, m.sourceVocab)
	total := 0.0
	for _, row := range b.EncoderInputs {
		id := row[i]
		if id == vocab.PadID {
			continue
		}
		if id < 0 || int(id) >= m.sourceVocab {
			return nil, fmt.Errorf("source token id %d outside vocabulary of size %d", id, m.sourceVocab)
		}
		x[id]++
		total++
	}
	if total > 0 {
		floats.Scale(1/total, x)
	}
	return x, nil
}

// predict computes softmax(W^T x).
func (m *BagModel) predict(x []float64) []float64 {
	scores := make([]float64, m.targetVocab)
	xVec := mat.NewVecDense(m.sourceVocab, x)
	out := mat.NewVecDense(m.targetVocab, scores)
	out.MulVec(m.weights.T(), xVec)

	maxScore := floats.Max(scores)
	sum := 0.0
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	floats.Scale(1/sum, scores)
	return scores
}

// forward computes the weighted cross-entropy loss of the batch and, when
// grads is non-nil, accumulates dLoss/dW into it.
func (m *BagModel) forward(b *batch.Batch, grads []float64) (loss float64, logits [][]float32, err error) {
	decLen := len(b.DecoderInputs)
	logits = make([][]float32, decLen)
	weighted := 0.0

	for i := 0; i < b.Size; i++ {
		x, err := m.sourceBag(b, i)
		if err != nil {
			return 0, nil, err
		}
		p := m.predict(x)

		if i == 0 {
			row := make([]float32, m.targetVocab)
			for w, pw := range p {
				row[w] = float32(pw)
			}
			// A bag model predicts the same distribution at every
			// timestep; the decode path only needs the shape.
			for t := 0; t < decLen; t++ {
				logits[t] = row
			}
		}

		for t := 0; t < decLen-1; t++ {
			w := float64(b.TargetWeights[t][i])
			if w == 0 {
				continue
			}
			target := b.DecoderInputs[t+1][i]
			if target < 0 || int(target) >= m.targetVocab {
				return 0, nil, fmt.Errorf("target token id %d outside vocabulary of size %d", target, m.targetVocab)
			}
			weighted += w
			loss -= w * math.Log(math.Max(p[target], 1e-12))

			if grads != nil {
				for tok := 0; tok < m.targetVocab; tok++ {
					delta := p[tok]
					if int32(tok) == target {
						delta -= 1
					}
					if delta == 0 {
						continue
					}
					for src, xs := range x {
						if xs == 0 {
							continue
						}
						grads[src*m.targetVocab+tok] += w * xs * delta
					}
				}
			}
		}
	}

	if weighted > 0 {
		loss /= weighted
		if grads != nil {
			floats.Scale(1/weighted, grads)
		}
	}
	return loss, logits, nil
}

// ForwardBackward runs one training step and applies the update.
func (m *BagModel) ForwardBackward(ctx context.Context, b *batch.Batch, bucketID int) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	grads := make([]float64, m.sourceVocab*m.targetVocab)
	loss, _, err := m.forward(b, grads)
	if err != nil {
		return 0, 0, err
	}
	gradNorm := floats.Norm(grads, 2)
	m.opt.Apply(m.weights.RawMatrix().Data, grads, m.learningRate)
	m.globalStep.Add(1)
	return gradNorm, loss, nil
}

// ForwardOnly runs inference without a parameter update.
func (m *BagModel) ForwardOnly(ctx context.Context, b *batch.Batch, bucketID int) (float64, [][]float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	loss, logits, err := m.forward(b, nil)
	if err != nil {
		return 0, nil, err
	}
	return loss, logits, nil
}

// bagSnapshot is the gob checkpoint layout.
type bagSnapshot struct {
	SourceVocab  int
	TargetVocab  int
	Weights      []float64
	LearningRate float64
	GlobalStep   int64
}

// Save writes a parameter snapshot.
func (m *BagModel) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	defer func() { _ = f.Close() }()

	snap := bagSnapshot{
		SourceVocab:  m.sourceVocab,
		TargetVocab:  m.targetVocab,
		Weights:      m.weights.RawMatrix().Data,
		LearningRate: m.learningRate,
		GlobalStep:   m.globalStep.Load(),
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return nil
}

// Restore loads a snapshot written by Save.
func (m *BagModel) Restore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening checkpoint: %w", err)
	}
	defer func() { _ = f.Close() }()

	var snap bagSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}
	if snap.SourceVocab != m.sourceVocab || snap.TargetVocab != m.targetVocab {
		return fmt.Errorf("checkpoint shape (%d, %d) does not match model (%d, %d)",
			snap.SourceVocab, snap.TargetVocab, m.sourceVocab, m.targetVocab)
	}
	m.weights = mat.NewDense(m.sourceVocab, m.targetVocab, snap.Weights)
	m.learningRate = snap.LearningRate
	m.globalStep.Store(snap.GlobalStep)
	return nil
}

// EncoderInit "encodes" the source by building its bag vector, which is
// the only context the model carries.
func (m *BagModel) EncoderInit(ctx context.Context, source []int32) (beam.State, beam.EncoderContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	x := make([]float64, m.sourceVocab)
	total := 0.0
	for _, id := range source {
		if id == vocab.PadID {
			continue
		}
		if id < 0 || int(id) >= m.sourceVocab {
			return nil, nil, fmt.Errorf("source token id %d outside vocabulary of size %d", id, m.sourceVocab)
		}
		x[id]++
		total++
	}
	if total > 0 {
		floats.Scale(1/total, x)
	}
	return nil, x, nil
}

// Step scores the next token for every live hypothesis. A bag model has
// no decoder state, so the distribution depends on the source alone.
func (m *BagModel) Step(ctx context.Context, prevTokens []int32, encCtx beam.EncoderContext, states []beam.State) ([][]float32, []beam.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	x, ok := encCtx.([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected encoder context %T", encCtx)
	}
	p := m.predict(x)
	row := make([]float32, m.targetVocab)
	for w, pw := range p {
		row[w] = float32(pw)
	}
	probs := make([][]float32, len(prevTokens))
	for i := range probs {
		probs[i] = row
	}
	return probs, states, nil
}

// LearningRate returns the current learning rate.
func (m *BagModel) LearningRate() float64 {
	return m.learningRate
}

// SetLearningRate replaces the learning rate.
func (m *BagModel) SetLearningRate(lr float64) {
	m.learningRate = lr
}

// GlobalStep returns the number of training steps taken.
func (m *BagModel) GlobalStep() int64 {
	return m.globalStep.Load()
}

var (
	_ Model   = (*BagModel)(nil)
	_ Stepper = (*BagModel)(nil)
)
