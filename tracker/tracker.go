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

// Package tracker implements the custom BitTorrent tracker server
// described in spec section 4.10: an accept loop on 127.0.0.1:8080, one
// goroutine per connection, and three endpoints (announce, stats, end)
// dispatched by a lowercased substring match on the request line.
package tracker

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/andres-erbsen/clock"

	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/metainfo"
	"github.com/kadircet/bitswarm/utils/urlencode"
)

// ListenAddr is the fixed address the tracker server binds, matching
// TrackerTorrent/src/tracker.rs's hardcoded "127.0.0.1:8080".
const ListenAddr = "127.0.0.1:8080"

// torrent is one tracked .torrent file's swarm state: every peer that
// has ever announced for it, keyed by peer id for idempotent re-announce.
type torrent struct {
	mi          *metainfo.MetaInfo
	infoHashURL string // urlencode.Encode(mi.InfoHash.Bytes()), precomputed so announces match by string comparison

	// peers is guarded by the owning Tracker's mutex.
	peers map[core.PeerID]*peer
}

// Tracker owns every tracked torrent and serializes all access to them
// behind a single mutex, per spec section 4.8/5's one-mutex-per-Tracker
// design -- unlike the teacher's peerstore.LocalStore, which shards
// locking per info hash, this tracker's swarms are small enough (one
// process serving a handful of torrents from a config file) that a
// single coarse lock keeps the bookkeeping trivial to reason about.
type Tracker struct {
	clk clock.Clock

	mu       sync.Mutex
	torrents map[core.InfoHash]*torrent

	listener net.Listener
	wg       sync.WaitGroup
}

// NewTracker loads every .torrent file named in paths and returns a
// Tracker ready to serve them. A malformed or unreadable metafile fails
// the whole startup, matching BitTracker::new's behavior of bailing out
// if any configured torrent can't be loaded.
func NewTracker(paths []string, clk clock.Clock) (*Tracker, error) {
	t := &Tracker{
		clk:      clk,
		torrents: make(map[core.InfoHash]*torrent),
	}
	for _, path := range paths {
		mi, err := metainfo.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("tracker: load torrent %q: %w", path, err)
		}
		t.torrents[mi.InfoHash] = &torrent{
			mi:          mi,
			infoHashURL: urlencode.Encode(mi.InfoHash.Bytes()),
			peers:       make(map[core.PeerID]*peer),
		}
	}
	return t, nil
}

// ListenAndServe binds ListenAddr and accepts connections until Close is
// called. It blocks until the listener stops, the same shape as
// BitTracker::start's accept loop.
func (t *Tracker) ListenAndServe() error {
	ln, err := net.Listen("tcp", ListenAddr)
	if err != nil {
		return fmt.Errorf("tracker: listen: %w", err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.serveConn(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// finish.
func (t *Tracker) Close() error {
	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	t.wg.Wait()
	return err
}

func (t *Tracker) serveConn(conn net.Conn) {
	defer conn.Close()
	id := conn.RemoteAddr().String()
	for {
		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err != nil {
			xlog.With("conn", id).Infof("tracker: connection closed: %s", err)
			return
		}
		line := string(buf[:n])
		done, err := t.handleMessage(conn, line)
		if err != nil {
			xlog.With("conn", id).Errorf("tracker: %s", err)
		}
		if done {
			xlog.With("conn", id).Infof("tracker: connection finished")
			return
		}
	}
}

// handleMessage dispatches a single raw request line to the matching
// endpoint, grounded on ConnectionState::handle_message: lowercase the
// line, substring-match it against "announce"/"stats"/"end", and write a
// 400 for anything else.
func (t *Tracker) handleMessage(conn net.Conn, line string) (done bool, err error) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "announce"):
		return false, t.handleAnnounce(conn, line)
	case strings.Contains(lower, "stats"):
		return false, t.handleStats(conn)
	case strings.Contains(lower, "end"):
		return true, nil
	default:
		return false, writeBadRequest(conn)
	}
}

func (t *Tracker) handleAnnounce(conn net.Conn, line string) error {
	req, err := parseAnnounceRequest(line)
	if err != nil {
		if werr := writeBadRequest(conn); werr != nil {
			return werr
		}
		return err
	}

	resp, ok := t.receiveAndRespond(req)
	if !ok {
		return writeBadRequest(conn)
	}
	msg, err := resp.httpMessage()
	if err != nil {
		return err
	}
	_, err = conn.Write(msg)
	return err
}

// receiveAndRespond upserts req's peer into the matching torrent and
// builds that torrent's current announce response, all under one lock
// acquisition -- the coordinator's "store block"-equivalent critical
// section for the tracker side of the specification.
func (t *Tracker) receiveAndRespond(req announceRequest) (announceResponse, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tor *torrent
	for _, candidate := range t.torrents {
		if candidate.infoHashURL == req.infoHashURL {
			tor = candidate
			break
		}
	}
	if tor == nil {
		return announceResponse{}, false
	}

	now := t.clk.Now()
	if p, exists := tor.peers[req.peerID]; exists {
		p.actualize(req, now)
	} else {
		tor.peers[req.peerID] = newPeer(req, now)
	}

	resp := announceResponse{}
	for id, p := range tor.peers {
		if id == req.peerID {
			continue
		}
		if p.isSeeder() {
			resp.complete++
		} else {
			resp.incomplete++
		}
		resp.peers = append(resp.peers, peerDict{
			ip:   p.ip,
			port: p.port,
			// The id travels as the same raw 20 bytes the peer announced
			// with, not a hex rendering of them.
			id:     string(p.id.Bytes()),
			withID: req.compact == "0",
		})
	}
	return resp, true
}

func (t *Tracker) handleStats(conn net.Conn) error {
	t.mu.Lock()
	var totalPeers, totalSeeders, totalTorrents int
	var info []statsInfo
	for _, tor := range t.torrents {
		if len(tor.peers) > 0 {
			totalTorrents++
		}
		for _, p := range tor.peers {
			totalPeers++
			if p.isSeeder() {
				totalSeeders++
			}
			info = append(info, statsInfo{
				ID:              p.id.String(),
				TimeLastRequest: epochSeconds(p.lastRequest),
				Completed:       p.isSeeder(),
				Torrent:         tor.mi.Info.Name,
			})
		}
	}
	t.mu.Unlock()

	resp := newStatsResponse(totalPeers, totalSeeders, totalTorrents, info)
	msg, err := resp.httpMessage()
	if err != nil {
		return err
	}
	_, err = conn.Write(msg)
	return err
}

func writeBadRequest(conn net.Conn) error {
	_, err := conn.Write([]byte(badRequestMessage))
	return err
}
