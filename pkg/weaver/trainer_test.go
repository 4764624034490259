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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSelfTest(t *testing.T) {
	require.NoError(t, SelfTest(context.Background(), zaptest.NewLogger(t)))
}

func TestTrainerRunAndLoadTranslator(t *testing.T) {
	dataDir := t.TempDir()
	trainDir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dataDir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	vocabPath := write("vocab.txt", "_PAD\n_GO\n_EOS\n_UNK\nhello\nworld\nbonjour\nmonde\n")

	cfg := Config{
		DataDir:            dataDir,
		TrainDir:           trainDir,
		TrainSource:        write("train.src", "4 5\n4\n5 4\n"),
		TrainTarget:        write("train.tgt", "6 7\n6\n7 6\n"),
		SourceVocab:        vocabPath,
		TargetVocab:        vocabPath,
		MaxSteps:           4,
		StepsPerCheckpoint: 2,
		StepsVerbosity:     1,
		BatchSize:          2,
	}

	trainer, err := NewTrainer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, trainer.Run(context.Background()))

	// Four steps at a checkpoint cadence of two leave a snapshot behind.
	_, err = os.Stat(filepath.Join(trainDir, checkpointName))
	require.NoError(t, err)

	translator, err := LoadTranslator(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = translator.TranslateLine(context.Background(), "hello world")
	require.NoError(t, err)
}

func TestTrainerRunResumesFromCheckpoint(t *testing.T) {
	dataDir := t.TempDir()
	trainDir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dataDir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	vocabPath := write("vocab.txt", "_PAD\n_GO\n_EOS\n_UNK\nhello\nworld\n")

	cfg := Config{
		DataDir:            dataDir,
		TrainDir:           trainDir,
		TrainSource:        write("train.src", "4 5\n"),
		TrainTarget:        write("train.tgt", "5 4\n"),
		SourceVocab:        vocabPath,
		TargetVocab:        vocabPath,
		MaxSteps:           2,
		StepsPerCheckpoint: 1,
		StepsVerbosity:     1,
		BatchSize:          1,
	}

	trainer, err := NewTrainer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, trainer.Run(context.Background()))

	// A second run must restore rather than reinitialize.
	trainer, err = NewTrainer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, trainer.Run(context.Background()))
}
