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

package training

import "math"

// State carries the mutable accumulators of one training run. It is an
// explicit struct passed by pointer so that tests can drive and inspect
// the scheduler without ambient globals.
type State struct {
	// CurrentStep counts steps taken by this run (distinct from the
	// model's global step, which survives restarts).
	CurrentStep int

	// IntervalLoss is the running per-checkpoint-interval average loss;
	// zeroed at every checkpoint.
	IntervalLoss float64

	// TotalLoss accumulates raw step losses for the whole run.
	TotalLoss float64

	// PreviousLosses records the interval loss at each checkpoint, in
	// order. The decay and early-stop policies compare against its tail.
	PreviousLosses []float64
}

// AvgLoss returns the average raw loss over the whole run.
func (s *State) AvgLoss() float64 {
	if s.CurrentStep == 0 {
		return 0
	}
	return s.TotalLoss / float64(s.CurrentStep)
}

// Perplexity converts a loss to a perplexity for reporting. Loss values
// large enough to overflow are reported as +Inf.
func Perplexity(loss float64) float64 {
	if loss >= 300 {
		return math.Inf(1)
	}
	return math.Exp(loss)
}

// maxTail returns the maximum of the last n entries of losses. The caller
// guarantees len(losses) >= n > 0.
func maxTail(losses []float64, n int) float64 {
	tail := losses[len(losses)-n:]
	max := tail[0]
	for _, l := range tail[1:] {
		if l > max {
			max = l
		}
	}
	return max
}

// BucketScale converts per-bucket populations into cumulative fractions
// in (0, 1]. Interval widths are proportional to population, so a uniform
// draw against the scale picks buckets proportionally and empty buckets
// are unreachable (their interval has zero width).
func BucketScale(sizes []int) []float64 {
	total := 0
	for _, s := range sizes {
		total += s
	}
	scale := make([]float64, len(sizes))
	running := 0
	for i, s := range sizes {
		running += s
		if total > 0 {
			scale[i] = float64(running) / float64(total)
		}
	}
	return scale
}

// PickBucket returns the smallest index whose cumulative fraction exceeds
// the draw. draw must be in [0, 1).
func PickBucket(scale []float64, draw float64) int {
	for i, s := range scale {
		if s > draw {
			return i
		}
	}
	// Unreachable for a well-formed scale; fall back to the last bucket.
	return len(scale) - 1
}
