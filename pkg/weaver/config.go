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

// Package weaver wires corpora, the bucketed training scheduler, the
// translation model and the decoders into the train, decode and serve
// entry points.
package weaver

import (
	"fmt"

	"github.com/antflydb/weaver/pkg/weaver/lib/bucket"
	"github.com/antflydb/weaver/pkg/weaver/lib/model"
	"github.com/antflydb/weaver/pkg/weaver/lib/paths"
	"github.com/antflydb/weaver/pkg/weaver/lib/training"
)

// Config collects every knob of a weaver run. Zero values fall back to
// the defaults applied by Normalize.
type Config struct {
	// DataDir holds corpora and vocabulary files; TrainDir holds
	// checkpoints.
	DataDir  string
	TrainDir string

	// Corpus file paths. Source and target files are line-aligned.
	TrainSource string
	TrainTarget string
	DevSource   string
	DevTarget   string

	// Vocabulary file paths.
	SourceVocab string
	TargetVocab string

	// Buckets are the (source, target) length caps, ascending in both
	// dimensions.
	Buckets []bucket.Bucket

	// MaxTrainDataSize caps the training pairs read; 0 reads everything.
	MaxTrainDataSize int

	// Optimization.
	Optimizer     string
	LearningRate  float64
	LRDecayFactor float64

	// Cadence and policy, forwarded to the training scheduler.
	BatchSize          int
	StepsVerbosity     int
	StepsPerCheckpoint int
	StepsPerValidation int
	LRPatience         int
	EarlyStopPatience  int
	CompareBeforeReset bool
	MaxSteps           int

	// Decoding.
	BeamWidth       int
	MaxDecodeLength int
	OversizePolicy  string // "reject" or "truncate"
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		DataDir:            paths.DefaultDataDir(),
		TrainDir:           paths.DefaultTrainDir(),
		Buckets:            bucket.DefaultBuckets,
		Optimizer:          "sgd",
		LearningRate:       0.5,
		LRDecayFactor:      0.99,
		BatchSize:          32,
		StepsVerbosity:     10,
		StepsPerCheckpoint: 100,
		StepsPerValidation: 1000,
		LRPatience:         3,
		EarlyStopPatience:  10,
		BeamWidth:          5,
		MaxDecodeLength:    30,
		OversizePolicy:     "reject",
	}
}

// Normalize fills zero values with defaults and validates the rest.
func (c *Config) Normalize() error {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.TrainDir == "" {
		c.TrainDir = def.TrainDir
	}
	if len(c.Buckets) == 0 {
		c.Buckets = def.Buckets
	}
	if c.Optimizer == "" {
		c.Optimizer = def.Optimizer
	}
	if c.LearningRate == 0 {
		c.LearningRate = def.LearningRate
	}
	if c.LRDecayFactor == 0 {
		c.LRDecayFactor = def.LRDecayFactor
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.StepsVerbosity == 0 {
		c.StepsVerbosity = def.StepsVerbosity
	}
	if c.StepsPerCheckpoint == 0 {
		c.StepsPerCheckpoint = def.StepsPerCheckpoint
	}
	if c.StepsPerValidation == 0 {
		c.StepsPerValidation = def.StepsPerValidation
	}
	if c.LRPatience == 0 {
		c.LRPatience = def.LRPatience
	}
	if c.EarlyStopPatience == 0 {
		c.EarlyStopPatience = def.EarlyStopPatience
	}
	if c.BeamWidth == 0 {
		c.BeamWidth = def.BeamWidth
	}
	if c.MaxDecodeLength == 0 {
		c.MaxDecodeLength = def.MaxDecodeLength
	}
	if c.OversizePolicy == "" {
		c.OversizePolicy = def.OversizePolicy
	}

	if _, err := model.ParseOptimizerKind(c.Optimizer); err != nil {
		return err
	}
	if _, err := ParseOversizePolicy(c.OversizePolicy); err != nil {
		return err
	}
	return nil
}

// SchedulerConfig projects the scheduler's slice of the configuration.
func (c *Config) SchedulerConfig(checkpointPath string) training.Config {
	return training.Config{
		BatchSize:          c.BatchSize,
		StepsVerbosity:     c.StepsVerbosity,
		StepsPerCheckpoint: c.StepsPerCheckpoint,
		StepsPerValidation: c.StepsPerValidation,
		LRPatience:         c.LRPatience,
		LRDecayFactor:      c.LRDecayFactor,
		EarlyStopPatience:  c.EarlyStopPatience,
		CompareBeforeReset: c.CompareBeforeReset,
		CheckpointPath:     checkpointPath,
		MaxSteps:           c.MaxSteps,
	}
}

// OversizePolicy decides what happens to an input sentence that exceeds
// every configured bucket. Neither choice is implied by the data; both
// are surfaced as configuration.
type OversizePolicy int

const (
	// OversizeReject fails the sentence with ErrDecodeInput.
	OversizeReject OversizePolicy = iota
	// OversizeTruncate cuts the sentence to fit the largest bucket.
	OversizeTruncate
)

// ParseOversizePolicy resolves the config-file name of a policy.
func ParseOversizePolicy(name string) (OversizePolicy, error) {
	switch name {
	case "reject":
		return OversizeReject, nil
	case "truncate":
		return OversizeTruncate, nil
	default:
		return 0, fmt.Errorf("unknown oversize policy %q (want reject or truncate)", name)
	}
}
