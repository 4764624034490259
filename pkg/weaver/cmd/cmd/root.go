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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/antflydb/weaver/pkg/weaver/lib/paths"
)

var (
	cfgFile string
	Version string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weaver",
	Short: "Train and serve bucketed sequence-to-sequence translation models",
	Long: `Weaver trains sequence-to-sequence translation models over bucketed
corpora and decodes with greedy or beam search.

Examples:
  # Train on a prepared corpus
  weaver train --train-source data/train.src --train-target data/train.tgt \
    --source-vocab data/vocab.src --target-vocab data/vocab.tgt

  # Decode interactively from the latest checkpoint
  weaver decode

  # Decode a whole file
  weaver decode --file input.txt

  # Serve translations over HTTP
  weaver serve --listen :7311`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = Version
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file path (e.g. weaver.yaml)")
	rootCmd.PersistentFlags().
		String("log-level", "info", "set the logging level (e.g. debug, info, warn, error)")
	rootCmd.PersistentFlags().
		String("log-style", "terminal", "set the logging output style (terminal, json, noop)")
	rootCmd.PersistentFlags().
		String("data-dir", paths.DefaultDataDir(), "directory holding corpora and vocabularies")
	rootCmd.PersistentFlags().
		String("train-dir", paths.DefaultTrainDir(), "directory holding checkpoints")
	rootCmd.PersistentFlags().
		String("source-vocab", "", "source vocabulary file")
	rootCmd.PersistentFlags().
		String("target-vocab", "", "target vocabulary file")

	// Bind to viper
	mustBindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
	mustBindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	mustBindPFlag("train_dir", rootCmd.PersistentFlags().Lookup("train-dir"))
	mustBindPFlag("source_vocab", rootCmd.PersistentFlags().Lookup("source-vocab"))
	mustBindPFlag("target_vocab", rootCmd.PersistentFlags().Lookup("target-vocab"))

	// Default values
	viper.SetDefault("data_dir", paths.DefaultDataDir())
	viper.SetDefault("train_dir", paths.DefaultTrainDir())
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.style", "terminal")
	viper.SetDefault("batch_size", 32)
	viper.SetDefault("optimizer", "sgd")
	viper.SetDefault("learning_rate", 0.5)
	viper.SetDefault("lr_decay_factor", 0.99)
	viper.SetDefault("beam_width", 5)
	viper.SetDefault("max_decode_length", 30)
	viper.SetDefault("oversize_policy", "reject")
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
			os.Exit(1)
		}

		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config file in home directory and current directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".weaver")
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("weaver")
	}

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("WEAVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		// Only error if user explicitly specified a config file
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}
