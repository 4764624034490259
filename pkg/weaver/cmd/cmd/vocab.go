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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/weaver/pkg/weaver/lib/tokenizers"
	"github.com/antflydb/weaver/pkg/weaver/lib/vocab"
)

var (
	vocabCorpus  string
	vocabOut     string
	vocabMaxSize int
)

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Build a vocabulary file from a raw corpus",
	Long: `Tokenize a raw-text corpus and write the most frequent tokens as a
vocabulary file, reserved tokens first. The tokenizer is detected from
the data directory (tokenizer.json, tokenizer.model or whitespace).`,
	RunE: runVocab,
}

func init() {
	rootCmd.AddCommand(vocabCmd)

	vocabCmd.Flags().StringVar(&vocabCorpus, "corpus", "", "raw-text corpus to scan")
	vocabCmd.Flags().StringVar(&vocabOut, "out", "", "vocabulary file to write")
	vocabCmd.Flags().IntVar(&vocabMaxSize, "max-size", 40000, "maximum vocabulary size, reserved tokens included")
	_ = vocabCmd.MarkFlagRequired("corpus")
	_ = vocabCmd.MarkFlagRequired("out")
}

func runVocab(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	tok, err := tokenizers.Detect(viper.GetString("data_dir"))
	if err != nil {
		return err
	}
	return vocab.Create(vocabCorpus, vocabOut, vocabMaxSize, tok, logger)
}
