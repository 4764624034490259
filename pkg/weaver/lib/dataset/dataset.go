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

// Package dataset holds bucketed parallel corpora as token-id triples and
// supports uniform random sampling for batch construction.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
)

// ErrEmptyBucket is returned when sampling from a bucket with no examples.
// The scheduler must never request a batch from an empty bucket; hitting
// this indicates a dataset/bucket-population mismatch upstream.
var ErrEmptyBucket = errors.New("cannot sample from an empty bucket")

// Example is one sentence pair: source token ids, the same ids reversed
// (the encoder consumes both directions), and target ids with a trailing
// end-of-sequence id. Never mutated after insertion.
type Example struct {
	Source         []int32
	SourceReversed []int32
	Target         []int32
}

// Dataset maps bucket index to the examples that fit it. Built once per
// corpus split and read-only afterwards; insertion order is preserved.
type Dataset struct {
	table   *bucket.Table
	buckets [][]Example
}

// New creates an empty dataset over the given bucket table.
func New(table *bucket.Table) *Dataset {
	return &Dataset{
		table:   table,
		buckets: make([][]Example, table.Len()),
	}
}

// Table returns the bucket table the dataset was built over.
func (d *Dataset) Table() *bucket.Table {
	return d.table
}

// Add appends an example to the given bucket.
func (d *Dataset) Add(bucketID int, ex Example) {
	d.buckets[bucketID] = append(d.buckets[bucketID], ex)
}

// Size returns the number of examples in the given bucket.
func (d *Dataset) Size(bucketID int) int {
	return len(d.buckets[bucketID])
}

// TotalSize returns the number of examples across all buckets.
func (d *Dataset) TotalSize() int {
	total := 0
	for _, b := range d.buckets {
		total += len(b)
	}
	return total
}

// Sizes returns the per-bucket populations, indexed by bucket.
func (d *Dataset) Sizes() []int {
	sizes := make([]int, len(d.buckets))
	for i, b := range d.buckets {
		sizes[i] = len(b)
	}
	return sizes
}

// SampleUniform picks one example from the given bucket, independently and
// uniformly at random with replacement.
func (d *Dataset) SampleUniform(rng *rand.Rand, bucketID int) (Example, error) {
	examples := d.buckets[bucketID]
	if len(examples) == 0 {
		return Example{}, fmt.Errorf("%w: bucket %d", ErrEmptyBucket, bucketID)
	}
	return examples[rng.Intn(len(examples))], nil
}
