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

// Package bucket defines the length buckets used to batch variable-length
// sentence pairs with a bounded amount of padding.
//
// Sequence models compile one computation graph per distinct input shape,
// so instead of padding every pair to the global maximum we keep a small
// set of (source, target) length caps and pad each pair to the smallest
// bucket it fits in.
package bucket

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBuckets is returned when a table is constructed with no buckets.
	ErrNoBuckets = errors.New("bucket table requires at least one bucket")

	// ErrUnsortedBuckets is returned when the configured buckets are not
	// ascending in both the source and target dimension.
	ErrUnsortedBuckets = errors.New("buckets must be sorted ascending in both dimensions")
)

// Bucket is a (max source length, max target length) cap. A sentence pair
// fits a bucket when its source length is strictly below Source and its
// target length, including the end-of-sequence marker, is strictly below
// Target.
type Bucket struct {
	Source int
	Target int
}

// DefaultBuckets mirrors the bucket set used for WMT-scale corpora.
var DefaultBuckets = []Bucket{{5, 10}, {10, 15}, {20, 25}, {40, 50}}

// Table classifies sentence pairs into length buckets. Immutable once
// constructed.
type Table struct {
	buckets []Bucket
}

// NewTable validates the bucket list and builds a table. The caller must
// supply the buckets pre-sorted ascending in both dimensions; the table
// does not sort them.
func NewTable(buckets []Bucket) (*Table, error) {
	if len(buckets) == 0 {
		return nil, ErrNoBuckets
	}
	for _, b := range buckets {
		if b.Source <= 0 || b.Target <= 0 {
			return nil, fmt.Errorf("bucket (%d, %d) has a non-positive bound", b.Source, b.Target)
		}
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i].Source <= buckets[i-1].Source || buckets[i].Target <= buckets[i-1].Target {
			return nil, fmt.Errorf("%w: bucket %d (%d, %d) does not grow both bounds of bucket %d (%d, %d)",
				ErrUnsortedBuckets, i, buckets[i].Source, buckets[i].Target, i-1, buckets[i-1].Source, buckets[i-1].Target)
		}
	}
	table := &Table{buckets: make([]Bucket, len(buckets))}
	copy(table.buckets, buckets)
	return table, nil
}

// Classify returns the index of the smallest bucket whose bounds strictly
// exceed both lengths, or false when the pair exceeds even the largest
// bucket. targetLen must already include the appended end-of-sequence id.
func (t *Table) Classify(sourceLen, targetLen int) (int, bool) {
	for i, b := range t.buckets {
		if sourceLen < b.Source && targetLen < b.Target {
			return i, true
		}
	}
	return 0, false
}

// ClassifySource returns the smallest bucket able to hold a source of the
// given length regardless of target length. Used on the decode path, where
// the target side is generated.
func (t *Table) ClassifySource(sourceLen int) (int, bool) {
	for i, b := range t.buckets {
		if sourceLen < b.Source {
			return i, true
		}
	}
	return 0, false
}

// Bucket returns the bucket at the given index.
func (t *Table) Bucket(i int) Bucket {
	return t.buckets[i]
}

// Len returns the number of buckets.
func (t *Table) Len() int {
	return len(t.buckets)
}

// Largest returns the last (largest) bucket.
func (t *Table) Largest() Bucket {
	return t.buckets[len(t.buckets)-1]
}
