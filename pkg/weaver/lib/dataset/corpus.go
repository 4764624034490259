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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

// scannerBufferSize bounds the longest corpus line we accept.
const scannerBufferSize = 1 << 20

// ReadCorpus reads a pair of line-aligned tokenized corpus files (each line
// whitespace-separated integer token ids) into a bucketed dataset.
//
// For every pair the source ids are stored forward and reversed, and the
// target gets a trailing EOS before classification. Pairs that exceed even
// the largest bucket are dropped; that is expected for long-tail sentences,
// not an error. maxSize > 0 caps the number of pairs read.
func ReadCorpus(table *bucket.Table, sourcePath, targetPath string, maxSize int, logger *zap.Logger) (*Dataset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("opening source corpus: %w", err)
	}
	defer func() { _ = sourceFile.Close() }()

	targetFile, err := os.Open(targetPath)
	if err != nil {
		return nil, fmt.Errorf("opening target corpus: %w", err)
	}
	defer func() { _ = targetFile.Close() }()

	ds := New(table)

	sourceScanner := bufio.NewScanner(sourceFile)
	sourceScanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), scannerBufferSize)
	targetScanner := bufio.NewScanner(targetFile)
	targetScanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), scannerBufferSize)

	count, dropped := 0, 0
	for sourceScanner.Scan() {
		if !targetScanner.Scan() {
			return nil, fmt.Errorf("corpus files are not aligned: %s ended at line %d", targetPath, count+1)
		}
		if maxSize > 0 && count >= maxSize {
			break
		}
		count++
		if count%10000 == 0 {
			logger.Info("Reading corpus", zap.Int("lines", count))
		}

		source, err := parseIDs(sourceScanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", sourcePath, count, err)
		}
		target, err := parseIDs(targetScanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", targetPath, count, err)
		}
		target = append(target, vocab.EOSID)

		bucketID, ok := table.Classify(len(source), len(target))
		if !ok {
			dropped++
			continue
		}
		ds.Add(bucketID, Example{
			Source:         source,
			SourceReversed: reverse(source),
			Target:         target,
		})
	}
	if err := sourceScanner.Err(); err != nil {
		return nil, fmt.Errorf("reading source corpus: %w", err)
	}
	if err := targetScanner.Err(); err != nil {
		return nil, fmt.Errorf("reading target corpus: %w", err)
	}

	logger.Info("Corpus loaded",
		zap.String("source", sourcePath),
		zap.String("target", targetPath),
		zap.Int("pairs", ds.TotalSize()),
		zap.Int("dropped_oversize", dropped),
		zap.Ints("bucket_sizes", ds.Sizes()))
	return ds, nil
}

// parseIDs parses one whitespace-separated token-id line.
func parseIDs(line string) ([]int32, error) {
	fields := strings.Fields(line)
	ids := make([]int32, len(fields))
	for i, f := range fields {
		id, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing token id %q: %w", f, err)
		}
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		ids[i] = int32(id)
	}
	return ids, nil
}

// reverse returns a reversed copy of ids.
func reverse(ids []int32) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}
