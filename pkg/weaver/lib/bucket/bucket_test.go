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

package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name    string
		buckets []Bucket
		wantErr error
	}{
		{name: "empty", buckets: nil, wantErr: ErrNoBuckets},
		{name: "single", buckets: []Bucket{{5, 10}}},
		{name: "default set", buckets: DefaultBuckets},
		{name: "source not ascending", buckets: []Bucket{{10, 10}, {10, 15}}, wantErr: ErrUnsortedBuckets},
		{name: "target not ascending", buckets: []Bucket{{5, 15}, {10, 15}}, wantErr: ErrUnsortedBuckets},
		{name: "descending", buckets: []Bucket{{20, 25}, {5, 10}}, wantErr: ErrUnsortedBuckets},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewTable(tt.buckets)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, len(tt.buckets), table.Len())
		})
	}
}

func TestClassifySmallestBucket(t *testing.T) {
	table, err := NewTable(DefaultBuckets)
	require.NoError(t, err)

	tests := []struct {
		sourceLen, targetLen int
		want                 int
		ok                   bool
	}{
		{2, 4, 0, true},
		{4, 9, 0, true},
		// Bounds are strict: a length equal to the cap overflows to the next bucket.
		{5, 9, 1, true},
		{4, 10, 1, true},
		{9, 14, 1, true},
		{19, 24, 2, true},
		{39, 49, 3, true},
		// Exceeds the largest bucket.
		{40, 10, 0, false},
		{3, 50, 0, false},
	}

	for _, tt := range tests {
		got, ok := table.Classify(tt.sourceLen, tt.targetLen)
		require.Equal(t, tt.ok, ok, "classify(%d, %d)", tt.sourceLen, tt.targetLen)
		if ok {
			require.Equal(t, tt.want, got, "classify(%d, %d)", tt.sourceLen, tt.targetLen)
		}
	}
}

func TestClassifySource(t *testing.T) {
	table, err := NewTable(DefaultBuckets)
	require.NoError(t, err)

	id, ok := table.ClassifySource(7)
	require.True(t, ok)
	require.Equal(t, 1, id)

	_, ok = table.ClassifySource(40)
	require.False(t, ok)
}

func TestTableIsACopy(t *testing.T) {
	buckets := []Bucket{{5, 10}, {10, 15}}
	table, err := NewTable(buckets)
	require.NoError(t, err)

	buckets[0] = Bucket{1, 1}
	require.Equal(t, Bucket{5, 10}, table.Bucket(0))
	require.Equal(t, Bucket{10, 15}, table.Largest())
}
