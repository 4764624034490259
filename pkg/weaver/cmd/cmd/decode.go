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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antflydb/weaver/pkg/weaver"
)

var decodeFile string

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Translate sentences with a trained model",
	Long: `Restore the latest checkpoint and translate. Without --file, sentences
are read interactively from stdin; with --file, every line of the file
is translated into <file>.trans.`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().StringVar(&decodeFile, "file", "", "translate this file instead of stdin")
	decodeCmd.Flags().Int("beam-width", 5, "beam width (1 = greedy)")
	decodeCmd.Flags().Int("max-decode-length", 30, "maximum decoded sentence length")
	decodeCmd.Flags().String("oversize-policy", "reject", "oversize input handling (reject, truncate)")

	mustBindPFlag("beam_width", decodeCmd.Flags().Lookup("beam-width"))
	mustBindPFlag("max_decode_length", decodeCmd.Flags().Lookup("max-decode-length"))
	mustBindPFlag("oversize_policy", decodeCmd.Flags().Lookup("oversize-policy"))
}

func runDecode(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	translator, err := weaver.LoadTranslator(configFromViper(), logger)
	if err != nil {
		return err
	}

	if decodeFile != "" {
		return translator.TranslateFile(ctx, decodeFile)
	}
	return translator.Interactive(ctx, os.Stdin, os.Stdout)
}
