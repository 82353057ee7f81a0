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
package tracker

import (
	"time"

	"github.com/kadircet/bitswarm/core"
)

// event names a peer's announce event, mirroring the BitTorrent
// convention of an empty string for ordinary re-announces.
const (
	eventStarted   = "started"
	eventCompleted = "completed"
	eventStopped   = "stopped"
)

// peer is one swarm member's latest announced state for a single
// torrent, grounded on TrackerTorrent/src/tracker.rs's Peer: every field
// is simply overwritten by the most recent announce from that peer id,
// with no history kept.
type peer struct {
	id          core.PeerID
	ip          string
	port        int
	event       string
	uploaded    int64
	downloaded  int64
	left        int64
	lastRequest time.Time
}

func newPeer(req announceRequest, now time.Time) *peer {
	return &peer{
		id:          req.peerID,
		ip:          req.ip,
		port:        req.port,
		event:       req.event,
		uploaded:    req.uploaded,
		downloaded:  req.downloaded,
		left:        req.left,
		lastRequest: now,
	}
}

// actualize overwrites p's fields with the latest announce, matching
// Peer::actualize_request: a second announce from the same peer id
// replaces its previous fields rather than accumulating alongside them.
func (p *peer) actualize(req announceRequest, now time.Time) {
	p.ip = req.ip
	p.port = req.port
	p.event = req.event
	p.uploaded = req.uploaded
	p.downloaded = req.downloaded
	p.left = req.left
	p.lastRequest = now
}

func (p *peer) isSeeder() bool {
	return p.event == eventCompleted
}

func (p *peer) info() core.PeerInfo {
	return core.PeerInfo{PeerID: p.id, IP: p.ip, Port: p.port}
}
