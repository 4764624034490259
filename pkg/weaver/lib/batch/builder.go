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

// Package batch assembles padded, timestep-major batches from a bucketed
// dataset for the model's per-timestep tensors.
package batch

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
	"github.com/antflydb/weaver/pkg/weaver/lib/dataset"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

// ErrBucketOverflow is returned when an example does not fit the bucket it
// was assigned to. The dataset loader guarantees fit by construction, so
// hitting this means a bucket/dataset invariant was violated upstream.
var ErrBucketOverflow = errors.New("example exceeds its bucket's length bound")

// Batch holds one padded batch in timestep-major layout: row t column b is
// the token the model sees at timestep t for batch element b.
//
// EncoderInputs and EncoderInputsReversed have one row per encoder
// timestep; DecoderInputs starts with a GO row followed by the target ids.
// TargetWeights masks the training loss: weight[t][b] is 0 whenever the
// implicit target at t (the decoder input shifted one position forward) is
// padding, and always 0 on the last row, which has no forward target.
type Batch struct {
	EncoderInputs         [][]int32
	EncoderInputsReversed [][]int32
	DecoderInputs         [][]int32
	TargetWeights         [][]float32
	Size                  int
}

// Builder draws random batches from a dataset.
type Builder struct {
	rng *rand.Rand
}

// NewBuilder creates a builder drawing randomness from the given source.
// A nil rng falls back to an unseeded private source.
func NewBuilder(rng *rand.Rand) *Builder {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Builder{rng: rng}
}

// Build samples batchSize examples uniformly (with replacement) from the
// given bucket and packs them into a padded timestep-major batch.
func (b *Builder) Build(ds *dataset.Dataset, bucketID, batchSize int) (*Batch, error) {
	examples := make([]dataset.Example, batchSize)
	for i := range examples {
		ex, err := ds.SampleUniform(b.rng, bucketID)
		if err != nil {
			return nil, err
		}
		examples[i] = ex
	}
	return Pack(ds.Table().Bucket(bucketID), examples)
}

// BuildForInput packs a single classified source sentence with an empty
// target into a batch-size-1 inference batch.
func BuildForInput(table *bucket.Table, bucketID int, source []int32) (*Batch, error) {
	reversed := make([]int32, len(source))
	for i, id := range source {
		reversed[len(source)-1-i] = id
	}
	return Pack(table.Bucket(bucketID), []dataset.Example{{
		Source:         source,
		SourceReversed: reversed,
	}})
}

// Pack pads the examples to the bucket's bounds and transposes them into
// per-timestep rows.
func Pack(b bucket.Bucket, examples []dataset.Example) (*Batch, error) {
	encLen, decLen := b.Source, b.Target
	batchSize := len(examples)

	// Per-example padded rows first, transposed below.
	encoderRows := make([][]int32, batchSize)
	encoderRowsReversed := make([][]int32, batchSize)
	decoderRows := make([][]int32, batchSize)
	for i, ex := range examples {
		if len(ex.Source) > encLen {
			return nil, fmt.Errorf("%w: source length %d > %d", ErrBucketOverflow, len(ex.Source), encLen)
		}
		if len(ex.Target) > decLen-1 {
			return nil, fmt.Errorf("%w: target length %d > %d", ErrBucketOverflow, len(ex.Target), decLen-1)
		}
		encoderRows[i] = padRight(ex.Source, encLen)
		encoderRowsReversed[i] = padRight(ex.SourceReversed, encLen)

		decoderRow := make([]int32, 0, decLen)
		decoderRow = append(decoderRow, vocab.GoID)
		decoderRow = append(decoderRow, ex.Target...)
		decoderRows[i] = padRight(decoderRow, decLen)
	}

	out := &Batch{
		EncoderInputs:         make([][]int32, encLen),
		EncoderInputsReversed: make([][]int32, encLen),
		DecoderInputs:         make([][]int32, decLen),
		TargetWeights:         make([][]float32, decLen),
		Size:                  batchSize,
	}

	for t := 0; t < encLen; t++ {
		out.EncoderInputs[t] = make([]int32, batchSize)
		out.EncoderInputsReversed[t] = make([]int32, batchSize)
		for i := 0; i < batchSize; i++ {
			out.EncoderInputs[t][i] = encoderRows[i][t]
			out.EncoderInputsReversed[t][i] = encoderRowsReversed[i][t]
		}
	}

	for t := 0; t < decLen; t++ {
		out.DecoderInputs[t] = make([]int32, batchSize)
		out.TargetWeights[t] = make([]float32, batchSize)
		for i := 0; i < batchSize; i++ {
			out.DecoderInputs[t][i] = decoderRows[i][t]

			// The implicit target for timestep t is the decoder input at
			// t+1. The last row has no forward target and is always masked.
			weight := float32(1)
			if t == decLen-1 || decoderRows[i][t+1] == vocab.PadID {
				weight = 0
			}
			out.TargetWeights[t][i] = weight
		}
	}

	return out, nil
}

// padRight returns ids extended to length n with PadID.
func padRight(ids []int32, n int) []int32 {
	out := make([]int32, n)
	copy(out, ids)
	for i := len(ids); i < n; i++ {
		out[i] = vocab.PadID
	}
	return out
}
