// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/weaver/pkg/weaver"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a translation model",
	Long: `Read the aligned source/target corpora, bucket them by length and run
the training loop until early stop, the step limit or SIGINT. Progress
is checkpointed to the train directory and training resumes from the
latest checkpoint when one exists.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("train-source", "", "tokenized source-language training corpus")
	trainCmd.Flags().String("train-target", "", "tokenized target-language training corpus")
	trainCmd.Flags().String("dev-source", "", "source-language validation corpus")
	trainCmd.Flags().String("dev-target", "", "target-language validation corpus")
	trainCmd.Flags().Int("max-train-data", 0, "cap on training pairs read (0 = all)")
	trainCmd.Flags().Int("batch-size", 32, "examples per training step")
	trainCmd.Flags().Int("max-steps", 0, "stop after this many steps (0 = until early stop)")
	trainCmd.Flags().String("optimizer", "sgd", "optimizer (sgd, adagrad, adam, rmsprop)")
	trainCmd.Flags().Float64("learning-rate", 0.5, "initial learning rate")

	mustBindPFlag("train_source", trainCmd.Flags().Lookup("train-source"))
	mustBindPFlag("train_target", trainCmd.Flags().Lookup("train-target"))
	mustBindPFlag("dev_source", trainCmd.Flags().Lookup("dev-source"))
	mustBindPFlag("dev_target", trainCmd.Flags().Lookup("dev-target"))
	mustBindPFlag("max_train_data", trainCmd.Flags().Lookup("max-train-data"))
	mustBindPFlag("batch_size", trainCmd.Flags().Lookup("batch-size"))
	mustBindPFlag("max_steps", trainCmd.Flags().Lookup("max-steps"))
	mustBindPFlag("optimizer", trainCmd.Flags().Lookup("optimizer"))
	mustBindPFlag("learning_rate", trainCmd.Flags().Lookup("learning-rate"))
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	trainer, err := weaver.NewTrainer(configFromViper(), logger)
	if err != nil {
		return err
	}
	return trainer.Run(ctx)
}

// configFromViper assembles a weaver config from flags, env and config
// file. Zero values are filled in by Config.Normalize.
func configFromViper() weaver.Config {
	return weaver.Config{
		DataDir:            viper.GetString("data_dir"),
		TrainDir:           viper.GetString("train_dir"),
		TrainSource:        viper.GetString("train_source"),
		TrainTarget:        viper.GetString("train_target"),
		DevSource:          viper.GetString("dev_source"),
		DevTarget:          viper.GetString("dev_target"),
		SourceVocab:        viper.GetString("source_vocab"),
		TargetVocab:        viper.GetString("target_vocab"),
		MaxTrainDataSize:   viper.GetInt("max_train_data"),
		Optimizer:          viper.GetString("optimizer"),
		LearningRate:       viper.GetFloat64("learning_rate"),
		LRDecayFactor:      viper.GetFloat64("lr_decay_factor"),
		BatchSize:          viper.GetInt("batch_size"),
		StepsVerbosity:     viper.GetInt("steps_verbosity"),
		StepsPerCheckpoint: viper.GetInt("steps_per_checkpoint"),
		StepsPerValidation: viper.GetInt("steps_per_validation"),
		LRPatience:         viper.GetInt("lr_patience"),
		EarlyStopPatience:  viper.GetInt("early_stop_patience"),
		CompareBeforeReset: viper.GetBool("compare_before_reset"),
		MaxSteps:           viper.GetInt("max_steps"),
		BeamWidth:          viper.GetInt("beam_width"),
		MaxDecodeLength:    viper.GetInt("max_decode_length"),
		OversizePolicy:     viper.GetString("oversize_policy"),
	}
}
