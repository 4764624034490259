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

package weaver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/antflydb/weaver/pkg/weaver/lib/batch"
	"github.com/antflydb/weaver/pkg/weaver/lib/beam"
	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
	"github.com/antflydb/weaver/pkg/weaver/lib/model"
	"github.com/antflydb/weaver/pkg/weaver/lib/tokenizers"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

// ErrDecodeInput is returned when an input sentence, after tokenization,
// exceeds every configured bucket and the oversize policy is reject.
var ErrDecodeInput = errors.New("input sentence exceeds every configured bucket")

// TranslatorConfig wires a Translator.
type TranslatorConfig struct {
	Table       *bucket.Table
	Model       model.Model
	SourceVocab *vocab.Vocabulary
	TargetVocab *vocab.Vocabulary
	Tokenizer   tokenizers.Tokenizer

	// BeamWidth <= 1 selects greedy decoding.
	BeamWidth       int
	MaxDecodeLength int
	OversizePolicy  OversizePolicy

	Logger *zap.Logger
}

// Translator decodes source sentences one at a time: tokenize, classify
// into a bucket, run the model, and render the output ids back to text.
type Translator struct {
	cfg    TranslatorConfig
	logger *zap.Logger
}

// NewTranslator validates the wiring and builds a translator.
func NewTranslator(cfg TranslatorConfig) (*Translator, error) {
	if cfg.Table == nil || cfg.Model == nil || cfg.SourceVocab == nil || cfg.TargetVocab == nil {
		return nil, errors.New("translator requires a bucket table, a model and both vocabularies")
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = tokenizers.NewBasic()
	}
	if cfg.MaxDecodeLength <= 0 {
		cfg.MaxDecodeLength = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BeamWidth > 1 {
		if _, ok := cfg.Model.(model.Stepper); !ok {
			return nil, fmt.Errorf("beam width %d requires a model with single-step decoding", cfg.BeamWidth)
		}
	}
	return &Translator{cfg: cfg, logger: cfg.Logger}, nil
}

// LoadTranslator builds a translator for an existing training run: the
// bucket table and vocabularies from the configuration, the tokenizer
// detected in the data directory, and the model restored from the
// latest checkpoint.
func LoadTranslator(cfg Config, logger *zap.Logger) (*Translator, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	table, err := bucket.NewTable(cfg.Buckets)
	if err != nil {
		return nil, err
	}
	sourceVocab, err := vocab.Load(cfg.SourceVocab)
	if err != nil {
		return nil, fmt.Errorf("loading source vocabulary: %w", err)
	}
	targetVocab, err := vocab.Load(cfg.TargetVocab)
	if err != nil {
		return nil, fmt.Errorf("loading target vocabulary: %w", err)
	}

	tok, err := tokenizers.Detect(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("detecting tokenizer: %w", err)
	}

	kind, err := model.ParseOptimizerKind(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	m, err := model.NewBagModel(sourceVocab.Size(), targetVocab.Size(), model.DefaultOptimizerConfig(kind), cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	checkpointPath := filepath.Join(cfg.TrainDir, checkpointName)
	if err := m.Restore(checkpointPath); err != nil {
		return nil, fmt.Errorf("restoring checkpoint: %w", err)
	}
	logger.Info("Model restored", zap.String("path", checkpointPath))

	policy, err := ParseOversizePolicy(cfg.OversizePolicy)
	if err != nil {
		return nil, err
	}
	return NewTranslator(TranslatorConfig{
		Table:           table,
		Model:           m,
		SourceVocab:     sourceVocab,
		TargetVocab:     targetVocab,
		Tokenizer:       tok,
		BeamWidth:       cfg.BeamWidth,
		MaxDecodeLength: cfg.MaxDecodeLength,
		OversizePolicy:  policy,
		Logger:          logger,
	})
}

// TranslateLine decodes one raw source sentence.
func (t *Translator) TranslateLine(ctx context.Context, line string) (string, error) {
	ids, err := t.cfg.SourceVocab.SentenceToIDs(line, t.cfg.Tokenizer)
	if err != nil {
		return "", fmt.Errorf("tokenizing input: %w", err)
	}

	bucketID, ok := t.cfg.Table.ClassifySource(len(ids))
	if !ok {
		switch t.cfg.OversizePolicy {
		case OversizeTruncate:
			// Largest bucket, minus one for the strict bound.
			ids = ids[:t.cfg.Table.Largest().Source-1]
			bucketID = t.cfg.Table.Len() - 1
			t.logger.Warn("Input truncated to largest bucket", zap.Int("tokens", len(ids)))
		default:
			return "", fmt.Errorf("%w: %d tokens", ErrDecodeInput, len(ids))
		}
	}

	var out []int32
	if t.cfg.BeamWidth > 1 {
		out, err = t.decodeBeam(ctx, ids)
	} else {
		out, err = t.decodeGreedy(ctx, bucketID, ids)
	}
	if err != nil {
		return "", err
	}
	return t.cfg.TargetVocab.IDsToSentence(out), nil
}

// decodeGreedy runs one forward pass over the bucket and takes per-step
// argmaxes, cut at EOS.
func (t *Translator) decodeGreedy(ctx context.Context, bucketID int, ids []int32) ([]int32, error) {
	b, err := batch.BuildForInput(t.cfg.Table, bucketID, ids)
	if err != nil {
		return nil, err
	}
	_, logits, err := t.cfg.Model.ForwardOnly(ctx, b, bucketID)
	if err != nil {
		return nil, err
	}
	return beam.GreedyFromLogits(logits, vocab.EOSID), nil
}

// decodeBeam runs beam search and keeps the best-scoring hypothesis.
func (t *Translator) decodeBeam(ctx context.Context, ids []int32) ([]int32, error) {
	stepper := t.cfg.Model.(model.Stepper)
	cfg := beam.Config{
		BeamWidth:  t.cfg.BeamWidth,
		MaxLength:  t.cfg.MaxDecodeLength,
		EOSID:      vocab.EOSID,
		StartToken: vocab.GoID,
	}
	hyps, err := beam.Search(ctx, cfg, stepper.EncoderInit, stepper.Step, ids)
	if err != nil {
		return nil, err
	}
	best := beam.Best(hyps)
	if best < 0 {
		return nil, nil
	}
	tokens := hyps[best].Tokens
	if n := len(tokens); n > 0 && tokens[n-1] == vocab.EOSID {
		tokens = tokens[:n-1]
	}
	return tokens, nil
}

// Interactive reads sentences from r one line at a time and writes each
// translation to w with a "> " prompt.
func (t *Translator) Interactive(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	fmt.Fprint(w, "> ")
	for scanner.Scan() {
		translation, err := t.TranslateLine(ctx, scanner.Text())
		if err != nil {
			if errors.Is(err, ErrDecodeInput) {
				fmt.Fprintf(w, "error: %v\n> ", err)
				continue
			}
			return err
		}
		fmt.Fprintf(w, "%s\n> ", translation)
	}
	return scanner.Err()
}

// TranslateFile decodes every line of path into path+".trans".
func (t *Translator) TranslateFile(ctx context.Context, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer func() { _ = in.Close() }()

	outPath := path + ".trans"
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer func() { _ = out.Close() }()

	writer := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	lines := 0
	for scanner.Scan() {
		translation, err := t.TranslateLine(ctx, scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lines+1, err)
		}
		fmt.Fprintln(writer, translation)
		lines++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	t.logger.Info("File translated",
		zap.String("input", path),
		zap.String("output", outPath),
		zap.Int("lines", lines))
	return nil
}
