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

// Package model defines the external collaborator that owns all tensor
// compute: forward/backward passes over padded batches and parameter
// snapshots. The training scheduler and the decoders only ever talk to
// this interface; how gradients flow is not their concern.
package model

import (
	"context"

	"github.com/antflydb/weaver/pkg/weaver/lib/batch"
	"github.com/antflydb/weaver/pkg/weaver/lib/beam"
)

// Model is the trainable sequence model. Implementations own one mutable
// parameter state, so all calls must be serialized by the caller.
type Model interface {
	// ForwardBackward runs one training step on the batch and applies the
	// parameter update. Returns the gradient norm and the step loss.
	ForwardBackward(ctx context.Context, b *batch.Batch, bucketID int) (gradNorm, loss float64, err error)

	// ForwardOnly runs inference on the batch without touching the
	// parameters. Returns the loss and per-timestep output logits for the
	// first batch element.
	ForwardOnly(ctx context.Context, b *batch.Batch, bucketID int) (loss float64, logits [][]float32, err error)

	// Save persists a parameter snapshot. The scheduler decides when;
	// the model decides how.
	Save(path string) error

	// Restore loads a parameter snapshot written by Save.
	Restore(path string) error

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// SetLearningRate replaces the learning rate; the scheduler only ever
	// decays it.
	SetLearningRate(lr float64)

	// GlobalStep returns the monotonic count of ForwardBackward calls.
	GlobalStep() int64
}

// Stepper is the optional capability a model exposes for beam search:
// encoding the source once and scoring single decoding steps for a batch
// of live hypotheses. Models without it decode greedily.
type Stepper interface {
	// EncoderInit encodes the source tokens, returning the initial
	// decoder state and the encoder context.
	EncoderInit(ctx context.Context, source []int32) (beam.State, beam.EncoderContext, error)

	// Step scores the next token for every live hypothesis.
	Step(ctx context.Context, prevTokens []int32, encCtx beam.EncoderContext, states []beam.State) ([][]float32, []beam.State, error)
}
