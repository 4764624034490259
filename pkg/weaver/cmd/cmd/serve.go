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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/weaver/pkg/weaver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve translations over HTTP",
	Long: `Restore the latest checkpoint and expose it over HTTP. Requests to
POST /translate are funneled through a queue that serializes access to
the model; /healthz, /readyz and /stats are also served.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":7311", "address to listen on")
	serveCmd.Flags().Int("max-queue-size", 256, "waiting requests before 503 (0 = unlimited)")
	serveCmd.Flags().Duration("request-timeout", 30*time.Second, "max wait for a model slot")

	mustBindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	mustBindPFlag("max_queue_size", serveCmd.Flags().Lookup("max-queue-size"))
	mustBindPFlag("request_timeout", serveCmd.Flags().Lookup("request-timeout"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	translator, err := weaver.LoadTranslator(configFromViper(), logger)
	if err != nil {
		return err
	}

	serverCfg := weaver.DefaultServerConfig()
	serverCfg.Addr = viper.GetString("listen")
	serverCfg.Queue.MaxQueueSize = viper.GetInt("max_queue_size")
	serverCfg.Queue.RequestTimeout = viper.GetDuration("request_timeout")

	return weaver.NewServer(serverCfg, translator, logger).Run(ctx)
}
