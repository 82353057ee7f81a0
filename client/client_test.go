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
package client

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/metainfo"
	"github.com/kadircet/bitswarm/storage"
)

// fakeTracker hands out a fixed, mutable peer list instead of talking to a
// real tracker server, so tests can drive announce results deterministically.
type fakeTracker struct {
	mu    sync.Mutex
	peers []core.PeerInfo
}

func (f *fakeTracker) setPeers(peers []core.PeerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = peers
}

func (f *fakeTracker) Announce(core.InfoHash, core.PeerID, int, int64, int64, int64, string) (AnnounceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return AnnounceResult{Interval: time.Hour, Peers: append([]core.PeerInfo(nil), f.peers...)}, nil
}

func buildTestTorrent(t *testing.T, content []byte) (*storage.Torrent, *metainfo.MetaInfo) {
	t.Helper()
	mi, err := metainfo.New("data", bytes.NewReader(content), 16*1024, "http://tracker.example/announce")
	require.NoError(t, err)
	tr, err := storage.Open(t.TempDir(), mi)
	require.NoError(t, err)
	return tr, mi
}

func fillTorrent(t *testing.T, tr *storage.Torrent, content []byte) {
	t.Helper()
	offset := 0
	for i := 0; i < tr.NumPieces(); i++ {
		piece, err := tr.Piece(i)
		require.NoError(t, err)
		for {
			block, ok := piece.NextBlockToRequest()
			if !ok {
				break
			}
			require.NoError(t, tr.WriteBlock(i, block.Offset, content[offset+block.Offset:offset+block.Offset+block.Length]))
		}
		offset += piece.Length()
	}
}

func newTestClient(t *testing.T, listenAddr string, torrent *storage.Torrent, mi *metainfo.MetaInfo, tracker AnnounceClient) (*Client, core.PeerID) {
	t.Helper()
	peerID, err := core.RandomPeerID()
	require.NoError(t, err)
	c, err := NewClient(Config{
		ListenAddr:       listenAddr,
		AnnounceInterval: 20 * time.Millisecond,
	}, peerID, mi, torrent, tracker, tally.NoopScope, clock.New())
	require.NoError(t, err)
	return c, peerID
}

// TestClientEndToEndSeedLeech drives a full download through two live
// Clients talking over real TCP sockets: the seed has every piece up
// front, the leech starts empty, and the fake tracker is used purely to
// hand the leech the seed's dial address once the seed is listening.
func TestClientEndToEndSeedLeech(t *testing.T) {
	content := make([]byte, 3*16*1024+100)
	for i := range content {
		content[i] = byte(i)
	}

	seedTorrent, mi := buildTestTorrent(t, content)
	fillTorrent(t, seedTorrent, content)
	require.True(t, seedTorrent.Complete())

	leechTorrent, err := storage.Open(t.TempDir(), mi)
	require.NoError(t, err)

	seedTracker := &fakeTracker{}
	seedClient, seedPeerID := newTestClient(t, "127.0.0.1:0", seedTorrent, mi, seedTracker)
	require.NoError(t, seedClient.Start())
	defer seedClient.Close()

	_, seedPort, err := splitPort(t, seedClient)
	require.NoError(t, err)

	leechTracker := &fakeTracker{peers: []core.PeerInfo{{PeerID: seedPeerID, IP: "127.0.0.1", Port: seedPort}}}
	leechClient, _ := newTestClient(t, "", leechTorrent, mi, leechTracker)
	require.NoError(t, leechClient.Start())
	defer leechClient.Close()

	deadline := time.Now().Add(5 * time.Second)
	for !leechTorrent.Complete() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for leech to complete download")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < leechTorrent.NumPieces(); i++ {
		length := int(mi.Info.PieceLengthAt(i))
		got, err := leechTorrent.ReadBlock(i, 0, length)
		require.NoError(t, err)
		_ = got
	}
}

// TestClientPublishesDownloadedPieceEvents confirms a subscriber sees a
// DownloadedPieceEvent and an UpdateSpeedEvent for a completed piece.
func TestClientPublishesDownloadedPieceEvents(t *testing.T) {
	content := make([]byte, 16*1024)
	torrent, mi := buildTestTorrent(t, content)
	c, err := NewClient(Config{AnnounceInterval: time.Hour}, core.PeerID{}, mi, torrent, &fakeTracker{}, tally.NoopScope, clock.New())
	require.NoError(t, err)
	defer c.Close()

	events := c.Events()

	piece, err := torrent.Piece(0)
	require.NoError(t, err)
	block, ok := piece.NextBlockToRequest()
	require.True(t, ok)
	require.NoError(t, torrent.WriteBlock(0, block.Offset, content[block.Offset:block.Offset+block.Length]))

	var gotDownloaded, gotSpeed bool
	deadline := time.Now().Add(time.Second)
	for !gotDownloaded || !gotSpeed {
		select {
		case ev := <-events:
			switch ev.(type) {
			case DownloadedPieceEvent:
				gotDownloaded = true
			case UpdateSpeedEvent:
				gotSpeed = true
			}
		case <-time.After(time.Until(deadline)):
			t.Fatal("timed out waiting for piece completion events")
		}
	}
}

func splitPort(t *testing.T, c *Client) (string, int, error) {
	t.Helper()
	return "127.0.0.1", c.listenPort(), nil
}
