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

// Package tokenizers splits raw sentences into surface tokens before
// vocabulary lookup.
//
// Three backings are supported and auto-detected from the data directory:
// a HuggingFace tokenizer.json (pure Go, via sugarme/tokenizer), a
// SentencePiece tokenizer.model, and a whitespace/punctuation tokenizer
// matching the classic WMT preprocessing, which is the default when no
// tokenizer file is present.
package tokenizers

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	sugarme "github.com/sugarme/tokenizer"
	sugarmepretrained "github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer splits a sentence into surface tokens. Implementations must be
// safe for sequential reuse across sentences.
type Tokenizer interface {
	// Tokenize returns the surface tokens of one sentence.
	Tokenize(text string) ([]string, error)
}

// Detect picks a tokenizer for the given data directory: tokenizer.json
// (HuggingFace), then tokenizer.model (SentencePiece), then the basic
// whitespace/punctuation tokenizer.
func Detect(dir string) (Tokenizer, error) {
	hfPath := filepath.Join(dir, "tokenizer.json")
	if _, err := os.Stat(hfPath); err == nil {
		return NewHuggingFace(hfPath)
	}

	spPath := filepath.Join(dir, "tokenizer.model")
	if _, err := os.Stat(spPath); err == nil {
		return NewSentencePiece(spPath)
	}

	return NewBasic(), nil
}

// wordSplitPattern peels punctuation off whitespace-separated words, the
// same way the classic WMT preprocessing does.
var wordSplitPattern = regexp.MustCompile(`([.,!?"':;)(])`)

// basicTokenizer splits on whitespace and separates punctuation into
// standalone tokens.
type basicTokenizer struct{}

// NewBasic returns the whitespace/punctuation tokenizer.
func NewBasic() Tokenizer {
	return basicTokenizer{}
}

// Tokenize splits the sentence on whitespace and punctuation.
func (basicTokenizer) Tokenize(text string) ([]string, error) {
	var tokens []string
	for _, word := range strings.Fields(text) {
		split := wordSplitPattern.ReplaceAllString(word, " $1 ")
		tokens = append(tokens, strings.Fields(split)...)
	}
	return tokens, nil
}

// hfTokenizer wraps a HuggingFace tokenizer.json loaded with
// sugarme/tokenizer.
type hfTokenizer struct {
	tok *sugarme.Tokenizer
}

// NewHuggingFace loads a HuggingFace tokenizer.json.
func NewHuggingFace(path string) (Tokenizer, error) {
	tok, err := sugarmepretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer.json: %w", err)
	}
	return &hfTokenizer{tok: tok}, nil
}

// Tokenize encodes the sentence and returns its subword tokens.
func (t *hfTokenizer) Tokenize(text string) ([]string, error) {
	enc, err := t.tok.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("encoding sentence: %w", err)
	}
	return enc.Tokens, nil
}

// spTokenizer wraps a SentencePiece processor.
type spTokenizer struct {
	proc *esentencepiece.Processor
}

// NewSentencePiece loads a SentencePiece tokenizer.model.
func NewSentencePiece(path string) (Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer.model: %w", err)
	}
	return &spTokenizer{proc: proc}, nil
}

// Tokenize encodes the sentence and returns its piece strings.
func (t *spTokenizer) Tokenize(text string) ([]string, error) {
	pieces := t.proc.Encode(text)
	tokens := make([]string, len(pieces))
	for i, p := range pieces {
		tokens[i] = p.Text
	}
	return tokens, nil
}
