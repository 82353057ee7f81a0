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
package session

import (
	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/peerwire"
	"github.com/kadircet/bitswarm/storage"
)

// Notifier receives choke-state lifecycle events for a session, letting
// the swarm coordinator that owns many Peers publish its own Unchoked /
// Choked events (spec section 4.8) without the session package needing
// to know anything about an event bus.
type Notifier interface {
	Unchoked(peerID core.PeerID)
	Choked(peerID core.PeerID)
}

type nopNotifier struct{}

func (nopNotifier) Unchoked(core.PeerID) {}
func (nopNotifier) Choked(core.PeerID)   {}

// Peer combines the leech and seed roles for a single connection. Every
// real BitTorrent connection is bidirectional: each side simultaneously
// downloads pieces it's missing and serves pieces it already has, so a
// Peer runs both state machines over the same Conn.
type Peer struct {
	Conn  *Conn
	Leech *Leech
	Seed  *Seed
}

// NewPeer wires up a Peer and registers it as conn's message handler.
func NewPeer(conn *Conn, torrent *storage.Torrent) *Peer {
	return &Peer{
		Conn:  conn,
		Leech: NewLeech(conn, torrent),
		Seed:  NewSeed(conn, torrent),
	}
}

// WithNotifier installs notify as the target for this Peer's Unchoked /
// Choked lifecycle events, replacing the default no-op.
func (p *Peer) WithNotifier(notify Notifier) *Peer {
	p.Leech.notify = notify
	return p
}

// HandleMessage routes an incoming message to the role that owns it:
// download-side traffic (choke state, piece availability, piece data) to
// the Leech, upload-side traffic (interest declarations, block requests)
// to the Seed. A bitfield goes to both, since the Leech records it and
// the Seed answers it.
func (p *Peer) HandleMessage(msg peerwire.Message) {
	switch msg.ID {
	case peerwire.BitfieldMsg:
		if err := p.Leech.HandleMessage(msg); err != nil {
			xlog.With("peer", p.Conn.PeerID()).Errorf("leech handle %s: %s", msg.ID, err)
		}
		if err := p.Seed.HandleMessage(msg); err != nil {
			xlog.With("peer", p.Conn.PeerID()).Errorf("seed handle %s: %s", msg.ID, err)
		}
	case peerwire.Have, peerwire.Piece, peerwire.Unchoke, peerwire.Choke:
		if err := p.Leech.HandleMessage(msg); err != nil {
			xlog.With("peer", p.Conn.PeerID()).Errorf("leech handle %s: %s", msg.ID, err)
		}
	case peerwire.Interested, peerwire.NotInterested, peerwire.Request, peerwire.Cancel:
		if err := p.Seed.HandleMessage(msg); err != nil {
			xlog.With("peer", p.Conn.PeerID()).Errorf("seed handle %s: %s", msg.ID, err)
		}
	}
}

// AnnounceComplete sends a bitfield reflecting full completion, and is
// called once this side finishes downloading so already-connected peers
// learn about every piece without a flood of individual have messages.
func (p *Peer) AnnounceComplete() error {
	return p.Conn.Send(peerwire.NewBitfield(p.Leech.torrent.Bitfield().AsBytes()))
}
