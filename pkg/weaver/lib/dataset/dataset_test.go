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

package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

func testTable(t *testing.T) *bucket.Table {
	t.Helper()
	table, err := bucket.NewTable([]bucket.Bucket{{Source: 5, Target: 10}, {Source: 10, Target: 15}})
	require.NoError(t, err)
	return table
}

func writeLines(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestReadCorpus(t *testing.T) {
	table := testTable(t)
	src := writeLines(t, "train.src",
		"4 5 6",       // bucket 0
		"4 5 6 7 8 9", // bucket 1 (source 6 overflows the first bound)
		"4 5",         // long target pushes it to bucket 1
	)
	tgt := writeLines(t, "train.tgt",
		"7 8",
		"7 8 9",
		"7 8 9 10 11 12 13 14 15 16 17",
	)

	ds, err := ReadCorpus(table, src, tgt, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 3, ds.TotalSize())
	require.Equal(t, []int{1, 2}, ds.Sizes())

	ex, err := ds.SampleUniform(rand.New(rand.NewSource(1)), 0)
	require.NoError(t, err)
	require.Equal(t, []int32{4, 5, 6}, ex.Source)
	require.Equal(t, []int32{6, 5, 4}, ex.SourceReversed)
	// EOS is appended before classification.
	require.Equal(t, []int32{7, 8, vocab.EOSID}, ex.Target)
}

func TestReadCorpusDropsOversize(t *testing.T) {
	table := testTable(t)
	src := writeLines(t, "train.src",
		"4 5 6 7 8 9 10 11 12 13 14", // 11 source tokens exceed every bucket
		"4",
	)
	tgt := writeLines(t, "train.tgt", "7", "8")

	ds, err := ReadCorpus(table, src, tgt, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 1, ds.TotalSize())
}

func TestReadCorpusMaxSize(t *testing.T) {
	table := testTable(t)
	src := writeLines(t, "train.src", "4", "5", "6")
	tgt := writeLines(t, "train.tgt", "7", "8", "9")

	ds, err := ReadCorpus(table, src, tgt, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 2, ds.TotalSize())
}

func TestReadCorpusMisaligned(t *testing.T) {
	table := testTable(t)
	src := writeLines(t, "train.src", "4", "5")
	tgt := writeLines(t, "train.tgt", "7")

	_, err := ReadCorpus(table, src, tgt, 0, zaptest.NewLogger(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not aligned")
}

func TestReadCorpusBadToken(t *testing.T) {
	table := testTable(t)
	src := writeLines(t, "train.src", "4 x 6")
	tgt := writeLines(t, "train.tgt", "7")

	_, err := ReadCorpus(table, src, tgt, 0, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestReadCorpusNegativeToken(t *testing.T) {
	table := testTable(t)
	src := writeLines(t, "train.src", "4 -5 6")
	tgt := writeLines(t, "train.tgt", "7")

	_, err := ReadCorpus(table, src, tgt, 0, zaptest.NewLogger(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "negative token id")
}

func TestSampleUniformEmptyBucket(t *testing.T) {
	ds := New(testTable(t))
	_, err := ds.SampleUniform(rand.New(rand.NewSource(1)), 1)
	require.ErrorIs(t, err, ErrEmptyBucket)
}
