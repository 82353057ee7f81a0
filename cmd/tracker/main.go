// Copyright (c) 2016-2019 Uber Technologies, Inc.
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

// Command tracker implements the tracker CLI from spec section 6:
// `tracker <config-path>`, where the config file is a newline-delimited
// list of .torrent files to serve.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/andres-erbsen/clock"

	"github.com/kadircet/bitswarm/configuration"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/tracker"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid number of arguments")
		os.Exit(1)
	}
	configPath := os.Args[1]

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] building logger: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	xlog.Configure(logger)

	paths, err := configuration.LoadTrackerTorrentPaths(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] loading configuration: %s\n", err)
		os.Exit(1)
	}

	t, err := tracker.NewTracker(paths, clock.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] initializing tracker: %s\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		xlog.Infof("tracker: shutting down")
		t.Close()
	}()

	xlog.With("addr", tracker.ListenAddr, "torrents", len(paths)).Infof("tracker: listening")
	if err := t.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %s\n", err)
		os.Exit(1)
	}
}
