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

// Package vocab maps surface tokens to the integer ids consumed by the
// model. Vocabulary files are one token per line; the 0-indexed line
// number is the token id, with the first four ids reserved.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/antflydb/weaver/pkg/weaver/lib/tokenizers"
)

// Reserved token ids. These are an external contract shared with the
// model and must never be assigned to real words.
const (
	PadID int32 = 0
	GoID  int32 = 1
	EOSID int32 = 2
	UnkID int32 = 3
)

// reservedTokens are the surface forms of the reserved ids, in id order.
var reservedTokens = []string{"_PAD", "_GO", "_EOS", "_UNK"}

// Vocabulary is an immutable token <-> id mapping.
type Vocabulary struct {
	ids    map[string]int32
	tokens []string
}

// Load reads a vocabulary file. The file must start with the four
// reserved tokens.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vocabulary: %w", err)
	}
	defer func() { _ = f.Close() }()

	v := &Vocabulary{ids: make(map[string]int32)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\n")
		if _, dup := v.ids[token]; dup {
			return nil, fmt.Errorf("duplicate token %q at line %d of %s", token, len(v.tokens)+1, path)
		}
		v.ids[token] = int32(len(v.tokens))
		v.tokens = append(v.tokens, token)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}

	if len(v.tokens) < len(reservedTokens) {
		return nil, fmt.Errorf("vocabulary %s is missing the reserved tokens", path)
	}
	for i, want := range reservedTokens {
		if v.tokens[i] != want {
			return nil, fmt.Errorf("vocabulary %s: id %d is %q, want reserved token %q", path, i, v.tokens[i], want)
		}
	}
	return v, nil
}

// Size returns the number of tokens, reserved ids included.
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// ID returns the id of a token, or UnkID for unknown tokens.
func (v *Vocabulary) ID(token string) int32 {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return UnkID
}

// Token returns the surface form of an id.
func (v *Vocabulary) Token(id int32) (string, bool) {
	if id < 0 || int(id) >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

// SentenceToIDs tokenizes a sentence and maps each token to its id,
// substituting UnkID for out-of-vocabulary tokens.
func (v *Vocabulary) SentenceToIDs(sentence string, tok tokenizers.Tokenizer) ([]int32, error) {
	tokens, err := tok.Tokenize(sentence)
	if err != nil {
		return nil, err
	}
	ids := make([]int32, len(tokens))
	for i, t := range tokens {
		ids[i] = v.ID(t)
	}
	return ids, nil
}

// IDsToSentence renders decoded ids back to a space-joined sentence,
// skipping ids outside the vocabulary.
func (v *Vocabulary) IDsToSentence(ids []int32) string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if t, ok := v.Token(id); ok {
			tokens = append(tokens, t)
		}
	}
	return strings.Join(tokens, " ")
}

// Create builds a vocabulary of at most maxSize tokens (reserved ids
// included) from a raw-text corpus and writes it to vocabPath. Tokens are
// ordered by descending frequency after the reserved block; ties follow
// lexicographic order so the output is reproducible.
func Create(corpusPath, vocabPath string, maxSize int, tok tokenizers.Tokenizer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= len(reservedTokens) {
		return fmt.Errorf("vocabulary size %d leaves no room for real tokens", maxSize)
	}

	f, err := os.Open(corpusPath)
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	counts := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1<<20)
	lines := 0
	for scanner.Scan() {
		lines++
		if lines%100000 == 0 {
			logger.Info("Building vocabulary", zap.Int("lines", lines))
		}
		tokens, err := tok.Tokenize(scanner.Text())
		if err != nil {
			return fmt.Errorf("tokenizing line %d: %w", lines, err)
		}
		for _, t := range tokens {
			counts[t]++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading corpus: %w", err)
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > maxSize-len(reservedTokens) {
		words = words[:maxSize-len(reservedTokens)]
	}

	out, err := os.Create(vocabPath)
	if err != nil {
		return fmt.Errorf("creating vocabulary file: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := bufio.NewWriter(out)
	for _, t := range reservedTokens {
		fmt.Fprintln(w, t)
	}
	for _, t := range words {
		fmt.Fprintln(w, t)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing vocabulary file: %w", err)
	}

	logger.Info("Vocabulary written",
		zap.String("path", vocabPath),
		zap.Int("tokens", len(words)+len(reservedTokens)))
	return nil
}
