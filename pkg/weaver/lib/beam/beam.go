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

// Package beam performs bounded best-first search over token sequences at
// inference time. The model is an external collaborator exposed through
// two callbacks: one that encodes the source sentence and one that scores
// the next token for a batch of live hypotheses.
package beam

import (
	"context"
	"math"
	"sort"

	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

// State is the opaque per-hypothesis decoder state threaded through the
// step callback. The search never inspects it.
type State any

// EncoderContext is the opaque encoder output shared by all hypotheses of
// one sentence.
type EncoderContext any

// EncoderInitFunc encodes the source tokens once, returning the initial
// decoder state and the encoder context.
type EncoderInitFunc func(ctx context.Context, source []int32) (State, EncoderContext, error)

// StepFunc scores one decoding step for the whole live set: prevTokens[i]
// and states[i] belong to live hypothesis i. It returns the next-token
// probability distribution and the successor state per hypothesis.
type StepFunc func(ctx context.Context, prevTokens []int32, encCtx EncoderContext, states []State) ([][]float32, []State, error)

// Hypothesis is one candidate output sequence. Score is the cumulative
// negative log probability, so lower is better.
type Hypothesis struct {
	Tokens []int32
	Score  float64
	state  State
}

// Config bounds the search.
type Config struct {
	// BeamWidth is the maximum number of concurrent candidates (k).
	BeamWidth int
	// MaxLength caps the number of decoding steps.
	MaxLength int
	// EOSID finishes a hypothesis. Defaults to vocab.EOSID.
	EOSID int32
	// StartToken is fed to the first step call. Defaults to vocab.GoID.
	StartToken int32
}

// DefaultConfig returns the decode defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		BeamWidth:  5,
		MaxLength:  30,
		EOSID:      vocab.EOSID,
		StartToken: vocab.GoID,
	}
}

// candidate is one (hypothesis x vocabulary word) extension considered at
// a step, kept in flattened order for the deterministic tie-break.
type candidate struct {
	flat   int
	parent int
	word   int32
	score  float64
}

// Search runs beam search for one source sentence and returns up to
// BeamWidth finished hypotheses, unsorted; the caller ranks them if it
// cares. Hypotheses still live when MaxLength is reached are flushed to
// the result without an EOS. Callback errors propagate unchanged.
func Search(ctx context.Context, cfg Config, encoderInit EncoderInitFunc, step StepFunc, source []int32) ([]Hypothesis, error) {
	if cfg.BeamWidth <= 0 {
		cfg.BeamWidth = 1
	}
	if cfg.EOSID == 0 {
		cfg.EOSID = vocab.EOSID
	}
	if cfg.StartToken == 0 {
		cfg.StartToken = vocab.GoID
	}

	initialState, encCtx, err := encoderInit(ctx, source)
	if err != nil {
		return nil, err
	}

	live := []Hypothesis{{Score: 0, state: initialState}}
	finished := make([]Hypothesis, 0, cfg.BeamWidth)

	for stepIdx := 0; stepIdx < cfg.MaxLength && len(live) > 0; stepIdx++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		prevTokens := make([]int32, len(live))
		states := make([]State, len(live))
		for i, h := range live {
			if len(h.Tokens) == 0 {
				prevTokens[i] = cfg.StartToken
			} else {
				prevTokens[i] = h.Tokens[len(h.Tokens)-1]
			}
			states[i] = h.state
		}

		probs, nextStates, err := step(ctx, prevTokens, encCtx, states)
		if err != nil {
			return nil, err
		}

		// Score every (live hypothesis x word) pair and keep the
		// k - |finished| lowest. The sort is stable over the flattened
		// index so ties resolve deterministically.
		var candidates []candidate
		for i, dist := range probs {
			for w, p := range dist {
				candidates = append(candidates, candidate{
					flat:   len(candidates),
					parent: i,
					word:   int32(w),
					score:  live[i].Score - math.Log(float64(p)),
				})
			}
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			return candidates[a].score < candidates[b].score
		})
		keep := cfg.BeamWidth - len(finished)
		if keep > len(candidates) {
			keep = len(candidates)
		}

		next := make([]Hypothesis, 0, keep)
		for _, c := range candidates[:keep] {
			parent := live[c.parent]
			tokens := make([]int32, 0, len(parent.Tokens)+1)
			tokens = append(tokens, parent.Tokens...)
			tokens = append(tokens, c.word)
			h := Hypothesis{Tokens: tokens, Score: c.score, state: nextStates[c.parent]}
			if c.word == cfg.EOSID {
				finished = append(finished, h)
			} else {
				next = append(next, h)
			}
		}
		live = next

		if len(finished) >= cfg.BeamWidth {
			break
		}
	}

	// Length cap reached: whatever is still live ends without EOS.
	finished = append(finished, live...)
	return finished, nil
}

// Best returns the index of the lowest-score hypothesis, -1 when empty.
// Search output is unsorted; this is the usual final ranking.
func Best(hyps []Hypothesis) int {
	best := -1
	for i, h := range hyps {
		if best < 0 || h.Score < hyps[best].Score {
			best = i
		}
	}
	return best
}

// GreedyFromLogits reduces per-timestep output logits to the argmax token
// sequence, cut at the first EOS. This is the greedy decode path, which
// needs only one forward pass over the whole bucket length.
func GreedyFromLogits(logits [][]float32, eosID int32) []int32 {
	out := make([]int32, 0, len(logits))
	for _, dist := range logits {
		tok := Argmax(dist)
		if tok == eosID {
			break
		}
		out = append(out, tok)
	}
	return out
}

// Argmax returns the index of the maximum value, the first one on ties.
func Argmax(values []float32) int32 {
	maxIdx := 0
	maxVal := values[0]
	for i, v := range values[1:] {
		if v > maxVal {
			maxVal = v
			maxIdx = i + 1
		}
	}
	return int32(maxIdx)
}
