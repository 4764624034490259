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

// Package training drives the train/eval/checkpoint cadence: it picks a
// bucket per step proportional to population, feeds batches to the model,
// decays the learning rate on stagnation and decides when to stop.
package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/antflydb/weaver/pkg/weaver/lib/batch"
	"github.com/antflydb/weaver/pkg/weaver/lib/dataset"
	"github.com/antflydb/weaver/pkg/weaver/lib/model"
)

// ErrNoTrainingData is returned when every training bucket is empty.
var ErrNoTrainingData = errors.New("training dataset has no examples")

// Config holds the scheduler cadence and policy knobs.
type Config struct {
	// BatchSize is the number of examples per training batch.
	BatchSize int

	// StepsVerbosity is the logging cadence; it changes no state.
	StepsVerbosity int

	// StepsPerCheckpoint triggers a checkpoint save plus the decay and
	// early-stop checks.
	StepsPerCheckpoint int

	// StepsPerValidation triggers a forward-only pass over the dev set.
	StepsPerValidation int

	// LRPatience is how many recorded interval losses the decay policy
	// compares against.
	LRPatience int

	// LRDecayFactor multiplies the learning rate on stagnation; must be
	// in (0, 1) so the rate only ever decreases.
	LRDecayFactor float64

	// EarlyStopPatience is how many recorded interval losses the
	// early-stop policy compares against.
	EarlyStopPatience int

	// CompareBeforeReset makes the early-stop check use the interval loss
	// from before the checkpoint reset. The historical behavior compares
	// the just-zeroed accumulator, which almost never stops; it is kept
	// as the default so training runs reproduce exactly.
	CompareBeforeReset bool

	// CheckpointPath is handed to Model.Save at every checkpoint.
	CheckpointPath string

	// MaxSteps caps the run; 0 means run until early stop or cancellation.
	MaxSteps int
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		BatchSize:          32,
		StepsVerbosity:     10,
		StepsPerCheckpoint: 100,
		StepsPerValidation: 1000,
		LRPatience:         3,
		LRDecayFactor:      0.99,
		EarlyStopPatience:  10,
	}
}

// Scheduler runs the training loop against one model. All model calls
// happen on the calling goroutine; the model's parameter state is never
// touched concurrently.
type Scheduler struct {
	cfg     Config
	model   model.Model
	builder *batch.Builder
	train   *dataset.Dataset
	dev     *dataset.Dataset
	rng     *rand.Rand
	logger  *zap.Logger

	state State
}

// New creates a scheduler. dev may be nil, disabling validation. A nil
// rng falls back to an unseeded source; a nil logger to a nop logger.
func New(cfg Config, m model.Model, train, dev *dataset.Dataset, rng *rand.Rand, logger *zap.Logger) (*Scheduler, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.StepsPerCheckpoint <= 0 {
		return nil, fmt.Errorf("steps per checkpoint must be positive, got %d", cfg.StepsPerCheckpoint)
	}
	if cfg.LRDecayFactor <= 0 || cfg.LRDecayFactor >= 1 {
		return nil, fmt.Errorf("learning-rate decay factor must be in (0, 1), got %g", cfg.LRDecayFactor)
	}
	if train.TotalSize() == 0 {
		return nil, ErrNoTrainingData
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		model:   m,
		builder: batch.NewBuilder(rng),
		train:   train,
		dev:     dev,
		rng:     rng,
		logger:  logger,
	}, nil
}

// State exposes the run accumulators, for reporting and tests.
func (s *Scheduler) State() *State {
	return &s.state
}

// Run executes training steps until early stop, MaxSteps, or context
// cancellation. Any model or batch error aborts the run.
func (s *Scheduler) Run(ctx context.Context) error {
	scale := BucketScale(s.train.Sizes())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.cfg.MaxSteps > 0 && s.state.CurrentStep >= s.cfg.MaxSteps {
			return nil
		}

		stop, err := s.step(ctx, scale)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// step runs one training step plus whatever cadence events it lands on.
// Returns true when the early-stop policy fires.
func (s *Scheduler) step(ctx context.Context, scale []float64) (bool, error) {
	bucketID := PickBucket(scale, s.rng.Float64())

	b, err := s.builder.Build(s.train, bucketID, s.cfg.BatchSize)
	if err != nil {
		return false, fmt.Errorf("building batch for bucket %d: %w", bucketID, err)
	}

	gradNorm, stepLoss, err := s.model.ForwardBackward(ctx, b, bucketID)
	if err != nil {
		return false, fmt.Errorf("training step on bucket %d: %w", bucketID, err)
	}

	s.state.CurrentStep++
	s.state.IntervalLoss += stepLoss / float64(s.cfg.StepsPerCheckpoint)
	s.state.TotalLoss += stepLoss

	if s.cfg.StepsVerbosity > 0 && s.state.CurrentStep%s.cfg.StepsVerbosity == 0 {
		s.logger.Info("Training",
			zap.Int64("global_step", s.model.GlobalStep()),
			zap.Float64("learning_rate", s.model.LearningRate()),
			zap.Float64("avg_loss", s.state.AvgLoss()),
			zap.Float64("grad_norm", gradNorm))
	}

	stop := false
	if s.state.CurrentStep%s.cfg.StepsPerCheckpoint == 0 {
		stop, err = s.checkpoint()
		if err != nil {
			return false, err
		}
	}

	// Early stop takes effect immediately: a coinciding validation is
	// skipped once the policy has fired.
	if !stop && s.cfg.StepsPerValidation > 0 && s.state.CurrentStep%s.cfg.StepsPerValidation == 0 {
		if err := s.validate(ctx); err != nil {
			return false, err
		}
	}

	return stop, nil
}

// checkpoint applies the decay policy, saves a snapshot, resets the
// interval accumulator and applies the early-stop policy. The ordering
// matters: the interval loss is recorded and zeroed before the
// early-stop comparison, so by default that comparison sees the fresh
// zero (see Config.CompareBeforeReset).
func (s *Scheduler) checkpoint() (bool, error) {
	loss := s.state.IntervalLoss

	// Decay the learning rate when this interval is worse than the worst
	// of the last LRPatience intervals.
	if p := s.cfg.LRPatience; p > 0 && len(s.state.PreviousLosses) >= p && loss > maxTail(s.state.PreviousLosses, p) {
		decayed := s.model.LearningRate() * s.cfg.LRDecayFactor
		s.model.SetLearningRate(decayed)
		s.logger.Info("Learning rate decayed",
			zap.Float64("learning_rate", decayed),
			zap.Float64("interval_loss", loss))
	}
	s.state.PreviousLosses = append(s.state.PreviousLosses, loss)

	if s.cfg.CheckpointPath != "" {
		if err := s.model.Save(s.cfg.CheckpointPath); err != nil {
			return false, fmt.Errorf("saving checkpoint: %w", err)
		}
		s.logger.Info("Checkpoint saved",
			zap.String("path", s.cfg.CheckpointPath),
			zap.Int64("global_step", s.model.GlobalStep()),
			zap.Float64("perplexity", Perplexity(loss)))
	}

	s.state.IntervalLoss = 0

	if s.earlyStop(loss) {
		s.logger.Info("Early stop",
			zap.Int("step", s.state.CurrentStep),
			zap.Float64("interval_loss", loss))
		return true, nil
	}
	return false, nil
}

// earlyStop decides whether the run should end at this checkpoint.
//
// The historical flow compares the interval accumulator after it has been
// zeroed against the last EarlyStopPatience recorded losses (which include
// the one just appended), so it fires only when recent losses went
// negative, which in practice means never. CompareBeforeReset switches to the
// evidently intended comparison: the pre-reset interval loss against the
// intervals recorded before it, the same shape as the decay check.
func (s *Scheduler) earlyStop(loss float64) bool {
	p := s.cfg.EarlyStopPatience
	if p <= 0 {
		return false
	}
	if s.cfg.CompareBeforeReset {
		history := s.state.PreviousLosses[:len(s.state.PreviousLosses)-1]
		return len(history) >= p && loss > maxTail(history, p)
	}
	return len(s.state.PreviousLosses) >= p && s.state.IntervalLoss > maxTail(s.state.PreviousLosses, p)
}

// validate runs a forward-only batch per populated dev bucket and logs the
// mean loss. Buckets without dev examples are skipped; sampling them would
// be an empty-bucket error.
func (s *Scheduler) validate(ctx context.Context) error {
	if s.dev == nil {
		return nil
	}

	totalLoss := 0.0
	evaluated := 0
	for bucketID := 0; bucketID < s.dev.Table().Len(); bucketID++ {
		if s.dev.Size(bucketID) == 0 {
			continue
		}
		b, err := s.builder.Build(s.dev, bucketID, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("building dev batch for bucket %d: %w", bucketID, err)
		}
		loss, _, err := s.model.ForwardOnly(ctx, b, bucketID)
		if err != nil {
			return fmt.Errorf("validation on bucket %d: %w", bucketID, err)
		}
		totalLoss += loss
		evaluated++
	}
	if evaluated == 0 {
		return nil
	}

	avg := totalLoss / float64(evaluated)
	s.logger.Info("Validation",
		zap.Float64("avg_loss", avg),
		zap.Float64("perplexity", Perplexity(avg)),
		zap.Int("buckets", evaluated))
	return nil
}
