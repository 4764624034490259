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

package beam

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

// statelessInit is an EncoderInitFunc for models whose step callback
// ignores the encoder context.
func statelessInit(context.Context, []int32) (State, EncoderContext, error) {
	return nil, nil, nil
}

// distStep builds a StepFunc that returns the same distribution for every
// hypothesis at every step.
func distStep(dist []float32) StepFunc {
	return func(_ context.Context, prevTokens []int32, _ EncoderContext, states []State) ([][]float32, []State, error) {
		probs := make([][]float32, len(prevTokens))
		for i := range probs {
			probs[i] = dist
		}
		return probs, states, nil
	}
}

func TestSearchWidthOneIsGreedy(t *testing.T) {
	// Distribution depends on the previous token, so the greedy path is
	// forced: GO -> 5, 5 -> 4, 4 -> EOS.
	step := func(_ context.Context, prevTokens []int32, _ EncoderContext, states []State) ([][]float32, []State, error) {
		probs := make([][]float32, len(prevTokens))
		for i, prev := range prevTokens {
			dist := make([]float32, 6)
			switch prev {
			case vocab.GoID:
				dist[5] = 0.9
				dist[4] = 0.1
			case 5:
				dist[4] = 0.8
				dist[3] = 0.2
			default:
				dist[vocab.EOSID] = 0.99
				dist[3] = 0.01
			}
			probs[i] = dist
		}
		return probs, states, nil
	}

	cfg := Config{BeamWidth: 1, MaxLength: 10}
	hyps, err := Search(context.Background(), cfg, statelessInit, step, []int32{1, 2})
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	require.Equal(t, []int32{5, 4, vocab.EOSID}, hyps[0].Tokens)
}

func TestSearchFlushesLiveAtMaxLength(t *testing.T) {
	// EOS never gets probability mass, so nothing finishes on its own.
	dist := []float32{0.5, 0.3, 0, 0.2}

	cfg := Config{BeamWidth: 3, MaxLength: 4}
	hyps, err := Search(context.Background(), cfg, statelessInit, distStep(dist), []int32{1})
	require.NoError(t, err)
	require.Len(t, hyps, 3)
	for _, h := range hyps {
		require.Len(t, h.Tokens, 4)
		require.NotEqual(t, vocab.EOSID, h.Tokens[len(h.Tokens)-1])
	}
}

func TestSearchUniformDistributionIsDeterministic(t *testing.T) {
	// Uniform probabilities leave the stable flattened-index tie-break in
	// full control, so the output is exactly reproducible.
	dist := []float32{0.25, 0.25, 0.25, 0.25}

	cfg := Config{BeamWidth: 3, MaxLength: 2}
	hyps, err := Search(context.Background(), cfg, statelessInit, distStep(dist), []int32{1})
	require.NoError(t, err)
	require.Len(t, hyps, 3)
	for _, h := range hyps {
		require.LessOrEqual(t, len(h.Tokens), 2)
	}

	// Step 1 keeps words 0, 1, 2 in flat order; word 2 is EOS and
	// finishes. Step 2 extends parent 0 with words 0 and 1, then the
	// length cap flushes both.
	require.Equal(t, []int32{vocab.EOSID}, hyps[0].Tokens)
	require.Equal(t, []int32{0, 0}, hyps[1].Tokens)
	require.Equal(t, []int32{0, 1}, hyps[2].Tokens)
}

func TestSearchCollectsBeamWidthFinished(t *testing.T) {
	// Everything flows into EOS immediately; the search must stop after a
	// single step with exactly k finished hypotheses.
	dist := []float32{0.01, 0.01, 0.97, 0.01}

	stepCalls := 0
	step := func(ctx context.Context, prevTokens []int32, encCtx EncoderContext, states []State) ([][]float32, []State, error) {
		stepCalls++
		return distStep(dist)(ctx, prevTokens, encCtx, states)
	}

	cfg := Config{BeamWidth: 1, MaxLength: 10}
	hyps, err := Search(context.Background(), cfg, statelessInit, step, []int32{1})
	require.NoError(t, err)
	require.Equal(t, 1, stepCalls)
	require.Len(t, hyps, 1)
	require.Equal(t, []int32{vocab.EOSID}, hyps[0].Tokens)
}

func TestSearchPropagatesCallbackErrors(t *testing.T) {
	sentinel := errors.New("forward pass failed")

	t.Run("encoder init", func(t *testing.T) {
		init := func(context.Context, []int32) (State, EncoderContext, error) {
			return nil, nil, sentinel
		}
		_, err := Search(context.Background(), DefaultConfig(), init, distStep([]float32{1}), []int32{1})
		require.ErrorIs(t, err, sentinel)
	})

	t.Run("step", func(t *testing.T) {
		step := func(context.Context, []int32, EncoderContext, []State) ([][]float32, []State, error) {
			return nil, nil, sentinel
		}
		_, err := Search(context.Background(), DefaultConfig(), statelessInit, step, []int32{1})
		require.ErrorIs(t, err, sentinel)
	})
}

func TestBest(t *testing.T) {
	require.Equal(t, -1, Best(nil))
	hyps := []Hypothesis{{Score: 2.5}, {Score: 0.5}, {Score: 1.0}}
	require.Equal(t, 1, Best(hyps))
}

func TestGreedyFromLogits(t *testing.T) {
	logits := [][]float32{
		{0.1, 0.2, 0.1, 0.9}, // 3
		{0.1, 0.8, 0.1, 0.2}, // 1
		{0.1, 0.1, 0.9, 0.1}, // EOS, cut here
		{0.9, 0.1, 0.1, 0.1},
	}
	require.Equal(t, []int32{3, 1}, GreedyFromLogits(logits, vocab.EOSID))

	// No EOS: the whole sequence survives.
	noEOS := [][]float32{logits[0], logits[1], logits[3]}
	require.Equal(t, []int32{3, 1, 0}, GreedyFromLogits(noEOS, vocab.EOSID))
}
