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

// Command client implements the leecher/seeder CLI from spec section 6:
// `client <config-path> <torrent-path> [<torrent-path> ...]`. Each
// torrent runs on its own worker goroutine, matching the reference
// implementation's one-thread-per-torrent model (BitTorrent::main.rs's
// descargar_torrent spawned per argument); a single torrent's failure is
// reported but does not stop the others.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kadircet/bitswarm/client"
	"github.com/kadircet/bitswarm/configuration"
	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/metainfo"
	"github.com/kadircet/bitswarm/storage"
	"github.com/kadircet/bitswarm/trackerclient"
	"github.com/kadircet/bitswarm/utils/memsize"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid number of arguments")
		os.Exit(1)
	}
	configPath := os.Args[1]
	torrentPaths := os.Args[2:]

	cfg, err := configuration.LoadClientConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] loading configuration: %s\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newFileLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] opening log file: %s\n", err)
		os.Exit(1)
	}
	defer closeLog()
	xlog.Configure(logger)

	var eg errgroup.Group
	errs := make([]error, len(torrentPaths))
	for i, torrentPath := range torrentPaths {
		i, torrentPath := i, torrentPath
		eg.Go(func() error {
			errs[i] = downloadTorrent(cfg, torrentPath)
			return nil // each torrent's failure is reported, not fatal to its siblings
		})
	}
	eg.Wait()

	exitCode := 0
	for i, err := range errs {
		if err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] download %d: %s\n", i, err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// downloadTorrent runs one torrent to completion: load its metafile,
// open its backing file, announce to the tracker, and drive peer
// sessions until every piece has been verified and written to disk.
func downloadTorrent(cfg configuration.ClientConfig, torrentPath string) error {
	mi, err := metainfo.LoadFromFile(torrentPath)
	if err != nil {
		return fmt.Errorf("load metainfo: %w", err)
	}

	torrent, err := storage.Open(cfg.DownloadDir, mi)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer torrent.Close()

	tracker, err := trackerclient.New(mi.Announce)
	if err != nil {
		return fmt.Errorf("tracker client: %w", err)
	}

	peerID, err := core.RandomPeerID()
	if err != nil {
		return fmt.Errorf("generate peer id: %w", err)
	}

	c, err := client.NewClient(
		client.Config{
			ListenAddr:            ":" + cfg.PortToPeers,
			AnnounceInterval:      0,
			StalledRequestTimeout: 2 * time.Minute,
		},
		peerID,
		mi,
		torrent,
		tracker,
		tally.NoopScope,
		clock.New(),
	)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer c.Close()

	return waitForCompletion(c, torrent)
}

// waitForCompletion drains c's event stream, logging progress, until
// torrent reports every piece verified.
func waitForCompletion(c *client.Client, torrent *storage.Torrent) error {
	events := c.Events()
	for !torrent.Complete() {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("client closed before torrent completed")
			}
			logEvent(torrent.Name(), ev)
		case <-time.After(30 * time.Second):
			xlog.With("torrent", torrent.Name()).Infof("still downloading: %d/%d pieces", torrent.NumPieces()-len(torrent.MissingPieces()), torrent.NumPieces())
		}
	}
	return nil
}

func logEvent(name string, ev client.Event) {
	switch e := ev.(type) {
	case client.DownloadedPieceEvent:
		xlog.With("torrent", name, "piece", e.Index).Infof("piece downloaded")
	case client.UpdateSpeedEvent:
		xlog.With("torrent", name).Infof("speed: %s/s", memsize.Format(uint64(e.MBps*float64(memsize.MB))))
	case client.UpdatePeerListEvent:
		xlog.With("torrent", name).Infof("peers: %d", len(e.Peers))
	case client.UnchokedEvent:
		xlog.With("torrent", name, "peer", e.PeerID).Infof("unchoked")
	case client.ChokedEvent:
		xlog.With("torrent", name, "peer", e.PeerID).Infof("choked")
	}
}

// newFileLogger builds a zap logger writing JSON lines to path, creating
// parent directories as needed -- the log sink the specification treats
// as an external string-consuming collaborator (spec section 1).
func newFileLogger(path string) (*zap.Logger, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}
