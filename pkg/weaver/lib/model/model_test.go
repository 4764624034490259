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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antflydb/weaver/pkg/weaver/lib/batch"
	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
	"github.com/antflydb/weaver/pkg/weaver/lib/dataset"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

func TestParseOptimizerKind(t *testing.T) {
	for _, name := range []string{"sgd", "adagrad", "adam", "rmsprop"} {
		kind, err := ParseOptimizerKind(name)
		require.NoError(t, err)
		require.Equal(t, name, kind.String())
	}
	_, err := ParseOptimizerKind("momentum")
	require.Error(t, err)
}

func TestOptimizersDescendTheGradient(t *testing.T) {
	kinds := []OptimizerKind{SGD, Adagrad, Adam, RMSProp}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			opt, err := DefaultOptimizerConfig(kind).New(2)
			require.NoError(t, err)

			params := []float64{1.0, -1.0}
			grads := []float64{0.5, -0.5}
			opt.Apply(params, grads, 0.1)

			// A positive gradient moves the parameter down, and vice versa.
			require.Less(t, params[0], 1.0)
			require.Greater(t, params[1], -1.0)
		})
	}
}

// trainingBatch packs one fixed example into a batch.
func trainingBatch(t *testing.T, ex dataset.Example) *batch.Batch {
	t.Helper()
	b, err := batch.Pack(bucket.Bucket{Source: 5, Target: 10}, []dataset.Example{ex})
	require.NoError(t, err)
	return b
}

func TestBagModelLearnsAMapping(t *testing.T) {
	m, err := NewBagModel(8, 8, DefaultOptimizerConfig(SGD), 2.0)
	require.NoError(t, err)

	ex := dataset.Example{
		Source:         []int32{4, 5},
		SourceReversed: []int32{5, 4},
		Target:         []int32{6, vocab.EOSID},
	}
	b := trainingBatch(t, ex)

	ctx := context.Background()
	firstLoss, _, err := m.ForwardOnly(ctx, b, 0)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		gradNorm, loss, err := m.ForwardBackward(ctx, b, 0)
		require.NoError(t, err)
		require.GreaterOrEqual(t, gradNorm, 0.0)
		require.GreaterOrEqual(t, loss, 0.0)
	}

	finalLoss, logits, err := m.ForwardOnly(ctx, b, 0)
	require.NoError(t, err)
	require.Less(t, finalLoss, firstLoss)
	require.Len(t, logits, 10)

	require.EqualValues(t, 50, m.GlobalStep())
}

func TestBagModelRejectsOutOfRangeTokenIDs(t *testing.T) {
	ctx := context.Background()
	m, err := NewBagModel(8, 8, DefaultOptimizerConfig(SGD), 1.0)
	require.NoError(t, err)

	// A target id past the vocabulary is reported, not indexed.
	b := trainingBatch(t, dataset.Example{
		Source:         []int32{4},
		SourceReversed: []int32{4},
		Target:         []int32{9, vocab.EOSID},
	})
	_, _, err = m.ForwardBackward(ctx, b, 0)
	require.ErrorContains(t, err, "target token id 9")

	// A negative source id is caught on both the training and the
	// inference path.
	b = trainingBatch(t, dataset.Example{
		Source:         []int32{-5},
		SourceReversed: []int32{-5},
		Target:         []int32{5, vocab.EOSID},
	})
	_, _, err = m.ForwardBackward(ctx, b, 0)
	require.ErrorContains(t, err, "source token id -5")
	_, _, err = m.ForwardOnly(ctx, b, 0)
	require.ErrorContains(t, err, "source token id -5")

	// Same check on the decode path's bag construction.
	_, _, err = m.EncoderInit(ctx, []int32{-5})
	require.ErrorContains(t, err, "source token id -5")
}

func TestBagModelSaveRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "weaver.ckpt")

	m, err := NewBagModel(6, 6, DefaultOptimizerConfig(SGD), 1.0)
	require.NoError(t, err)

	b := trainingBatch(t, dataset.Example{
		Source:         []int32{4},
		SourceReversed: []int32{4},
		Target:         []int32{5, vocab.EOSID},
	})
	_, _, err = m.ForwardBackward(ctx, b, 0)
	require.NoError(t, err)
	lossBefore, _, err := m.ForwardOnly(ctx, b, 0)
	require.NoError(t, err)

	require.NoError(t, m.Save(path))

	restored, err := NewBagModel(6, 6, DefaultOptimizerConfig(SGD), 1.0)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(path))

	lossAfter, _, err := restored.ForwardOnly(ctx, b, 0)
	require.NoError(t, err)
	require.InDelta(t, lossBefore, lossAfter, 1e-12)
	require.EqualValues(t, 1, restored.GlobalStep())
	require.Equal(t, 1.0, restored.LearningRate())

	// Shape mismatch is rejected.
	wrong, err := NewBagModel(4, 4, DefaultOptimizerConfig(SGD), 1.0)
	require.NoError(t, err)
	require.Error(t, wrong.Restore(path))
}
