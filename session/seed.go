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
	"github.com/kadircet/bitswarm/bitfield"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/peerwire"
	"github.com/kadircet/bitswarm/storage"
)

// Seed is the uploading side of a connection: it serves block requests
// from pieces this side already has, choking or unchoking based on
// whether the remote peer has declared interest. This implementation
// uses the simplest viable choking policy -- unchoke anyone who is
// interested -- rather than a tit-for-tat reciprocity scheme, which the
// specification leaves as an external, unimplemented concern.
type Seed struct {
	conn    *Conn
	torrent *storage.Torrent
}

// NewSeed creates a Seed for conn.
func NewSeed(conn *Conn, torrent *storage.Torrent) *Seed {
	return &Seed{conn: conn, torrent: torrent}
}

// HandleMessage processes a single incoming message relevant to the seed
// role: bitfield announcement, interest declarations, and block requests.
func (s *Seed) HandleMessage(msg peerwire.Message) error {
	switch msg.ID {
	case peerwire.BitfieldMsg:
		return s.handleBitfield(msg)
	case peerwire.Interested:
		return s.conn.SetChoking(false)
	case peerwire.NotInterested:
		// An uninterested peer has nothing further to ask this side for;
		// choke it so a later stray request is ignored rather than served.
		return s.conn.SetChoking(true)
	case peerwire.Request:
		return s.handleRequest(msg)
	case peerwire.Cancel:
		// Requests are served synchronously the moment they arrive, so
		// there is never an in-flight request left to cancel.
		return nil
	}
	return nil
}

// handleBitfield validates the remote peer's announced bitfield (the seed
// side does not keep it) and replies with a Have for the first piece this side already owns,
// preserving the source's redundant-but-harmless behavior.
func (s *Seed) handleBitfield(msg peerwire.Message) error {
	if _, err := bitfield.FromBytes(msg.Payload, s.torrent.NumPieces()); err != nil {
		return err
	}
	for i := 0; i < s.torrent.NumPieces(); i++ {
		if s.torrent.HasPiece(i) {
			return s.AnnounceHave(i)
		}
	}
	return nil
}

func (s *Seed) handleRequest(msg peerwire.Message) error {
	index, begin, length, err := peerwire.ParseBlockHeader(msg)
	if err != nil {
		return err
	}
	if s.conn.AmChoking() {
		xlog.With("peer", s.conn.PeerID(), "piece", index).Infof("ignoring request while choking")
		return nil
	}
	if !s.torrent.HasPiece(index) {
		return nil
	}
	block, err := s.torrent.ReadBlock(index, begin, length)
	if err != nil {
		return err
	}
	return s.conn.Send(peerwire.NewPiece(index, begin, block))
}

// AnnounceHave notifies the remote peer that a new piece has completed.
func (s *Seed) AnnounceHave(index int) error {
	return s.conn.Send(peerwire.NewHave(index))
}
