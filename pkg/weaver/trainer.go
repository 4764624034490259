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
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
	"github.com/antflydb/weaver/pkg/weaver/lib/dataset"
	"github.com/antflydb/weaver/pkg/weaver/lib/model"
	"github.com/antflydb/weaver/pkg/weaver/lib/training"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

// checkpointName is the snapshot file written under TrainDir.
const checkpointName = "weaver.ckpt"

// Trainer loads the corpora, builds the model and runs the scheduler
// until early stop or cancellation.
type Trainer struct {
	cfg    Config
	logger *zap.Logger
}

// NewTrainer validates the configuration and builds a trainer.
func NewTrainer(cfg Config, logger *zap.Logger) (*Trainer, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{cfg: cfg, logger: logger}, nil
}

// Run executes one training run. All model calls happen on this
// goroutine.
func (tr *Trainer) Run(ctx context.Context) error {
	table, err := bucket.NewTable(tr.cfg.Buckets)
	if err != nil {
		return err
	}

	sourceVocab, targetVocab, err := tr.loadVocabularies()
	if err != nil {
		return err
	}

	tr.logger.Info("Reading training data", zap.Int("limit", tr.cfg.MaxTrainDataSize))
	train, err := dataset.ReadCorpus(table, tr.cfg.TrainSource, tr.cfg.TrainTarget, tr.cfg.MaxTrainDataSize, tr.logger)
	if err != nil {
		return fmt.Errorf("reading training corpus: %w", err)
	}

	var dev *dataset.Dataset
	if tr.cfg.DevSource != "" && tr.cfg.DevTarget != "" {
		dev, err = dataset.ReadCorpus(table, tr.cfg.DevSource, tr.cfg.DevTarget, 0, tr.logger)
		if err != nil {
			return fmt.Errorf("reading dev corpus: %w", err)
		}
	}

	m, err := tr.buildModel(sourceVocab.Size(), targetVocab.Size())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(tr.cfg.TrainDir, 0o755); err != nil {
		return fmt.Errorf("creating train dir: %w", err)
	}
	checkpointPath := filepath.Join(tr.cfg.TrainDir, checkpointName)
	if _, err := os.Stat(checkpointPath); err == nil {
		tr.logger.Info("Restoring model parameters", zap.String("path", checkpointPath))
		if err := m.Restore(checkpointPath); err != nil {
			return fmt.Errorf("restoring checkpoint: %w", err)
		}
	} else {
		tr.logger.Info("Created model with fresh parameters")
	}

	scheduler, err := training.New(tr.cfg.SchedulerConfig(checkpointPath), m, train, dev, nil, tr.logger)
	if err != nil {
		return err
	}
	return scheduler.Run(ctx)
}

// loadVocabularies loads both vocabulary files.
func (tr *Trainer) loadVocabularies() (*vocab.Vocabulary, *vocab.Vocabulary, error) {
	sourceVocab, err := vocab.Load(tr.cfg.SourceVocab)
	if err != nil {
		return nil, nil, fmt.Errorf("loading source vocabulary: %w", err)
	}
	targetVocab, err := vocab.Load(tr.cfg.TargetVocab)
	if err != nil {
		return nil, nil, fmt.Errorf("loading target vocabulary: %w", err)
	}
	return sourceVocab, targetVocab, nil
}

// buildModel constructs the built-in model backend. The scheduler and
// decoders only ever see the model.Model interface, so swapping in an
// external neural backend is a construction-site change.
func (tr *Trainer) buildModel(sourceVocabSize, targetVocabSize int) (model.Model, error) {
	kind, err := model.ParseOptimizerKind(tr.cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	return model.NewBagModel(sourceVocabSize, targetVocabSize, model.DefaultOptimizerConfig(kind), tr.cfg.LearningRate)
}

// SelfTest trains the built-in model on a tiny synthetic dataset and
// reports the resulting losses. It exercises bucketing, batching, the
// scheduler and both decoders without any corpus on disk.
func SelfTest(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	table, err := bucket.NewTable([]bucket.Bucket{{Source: 3, Target: 3}, {Source: 6, Target: 6}})
	if err != nil {
		return err
	}
	ds := dataset.New(table)
	pairs := []struct{ source, target []int32 }{
		{[]int32{4, 4}, []int32{5, 5}},
		{[]int32{5, 5}, []int32{6}},
		{[]int32{6}, []int32{7}},
		{[]int32{4, 4, 4, 4, 4}, []int32{5, 5, 5, 5, 5}},
		{[]int32{5, 5, 5}, []int32{6, 7}},
	}
	for _, p := range pairs {
		target := append(append([]int32{}, p.target...), vocab.EOSID)
		bucketID, ok := table.Classify(len(p.source), len(target))
		if !ok {
			continue
		}
		reversed := make([]int32, len(p.source))
		for i, id := range p.source {
			reversed[len(p.source)-1-i] = id
		}
		ds.Add(bucketID, dataset.Example{Source: p.source, SourceReversed: reversed, Target: target})
	}

	m, err := model.NewBagModel(10, 10, model.DefaultOptimizerConfig(model.SGD), 0.3)
	if err != nil {
		return err
	}
	cfg := training.Config{
		BatchSize:          4,
		StepsVerbosity:     5,
		StepsPerCheckpoint: 10,
		LRPatience:         3,
		LRDecayFactor:      0.99,
		EarlyStopPatience:  10,
		MaxSteps:           50,
	}
	scheduler, err := training.New(cfg, m, ds, nil, rand.New(rand.NewSource(1)), logger)
	if err != nil {
		return err
	}
	if err := scheduler.Run(ctx); err != nil {
		return err
	}

	logger.Info("Self-test complete",
		zap.Int("steps", scheduler.State().CurrentStep),
		zap.Float64("avg_loss", scheduler.State().AvgLoss()),
		zap.Float64("perplexity", training.Perplexity(scheduler.State().AvgLoss())))
	return nil
}
