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
	"fmt"
	"sync"

	"github.com/kadircet/bitswarm/bitfield"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/peerwire"
	"github.com/kadircet/bitswarm/storage"
)

// PipelineLimit bounds how many outstanding block requests a Leech keeps
// in flight to a single peer at once.
const PipelineLimit = 8

// Leech is the downloading side of a connection: it tracks which pieces
// the remote peer claims to have, declares interest when that overlaps
// with what's still missing locally, and keeps a pipeline of block
// requests filled while unchoked.
type Leech struct {
	conn    *Conn
	torrent *storage.Torrent
	notify  Notifier

	mu           sync.Mutex
	remoteHave   *bitfield.Bitfield
	seenBitfield bool
	inFlight     map[int]bool // piece index -> request outstanding
}

// NewLeech creates a Leech for conn, initially assuming the remote peer
// has no pieces until a bitfield or have message says otherwise.
func NewLeech(conn *Conn, torrent *storage.Torrent) *Leech {
	return &Leech{
		conn:       conn,
		torrent:    torrent,
		notify:     nopNotifier{},
		remoteHave: bitfield.New(torrent.NumPieces()),
		inFlight:   make(map[int]bool),
	}
}

// HandleMessage processes a single incoming message relevant to the
// leech role: bitfield, have, piece, unchoke and choke. Other message
// types are ignored here and are expected to be handled by a Seed sharing
// the same Conn.
func (l *Leech) HandleMessage(msg peerwire.Message) error {
	switch msg.ID {
	case peerwire.BitfieldMsg:
		bf, err := bitfield.FromBytes(msg.Payload, l.torrent.NumPieces())
		if err != nil {
			return fmt.Errorf("session: malformed bitfield: %w", err)
		}
		l.mu.Lock()
		l.remoteHave = bf
		l.seenBitfield = true
		l.mu.Unlock()
		return l.maybeDeclareInterest()
	case peerwire.Have:
		idx, err := peerwire.ParseHave(msg)
		if err != nil {
			return err
		}
		l.assumeFullBitfield()
		l.mu.Lock()
		_, _ = l.remoteHave.Add(idx)
		l.mu.Unlock()
		return l.maybeDeclareInterest()
	case peerwire.Piece:
		return l.handlePiece(msg)
	case peerwire.Unchoke:
		l.assumeFullBitfield()
		l.notify.Unchoked(l.conn.PeerID())
		return l.FillPipeline()
	case peerwire.Choke:
		l.notify.Choked(l.conn.PeerID())
		l.conn.Close()
		return nil
	}
	return nil
}

func (l *Leech) handlePiece(msg peerwire.Message) error {
	index, begin, block, err := peerwire.ParsePiece(msg)
	if err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.inFlight, index)
	l.mu.Unlock()

	if err := l.torrent.WriteBlock(index, begin, block); err != nil {
		xlog.With("piece", index, "peer", l.conn.PeerID()).Errorf("write block: %s", err)
	}

	if l.torrent.Complete() {
		l.conn.Close()
		return nil
	}
	if err := l.FillPipeline(); err != nil {
		return err
	}
	if !l.hasMoreRequestableBlocks() {
		l.conn.Close()
	}
	return nil
}

// hasMoreRequestableBlocks reports whether any piece the remote peer has
// might still yield an unrequested block, i.e. whether this session has
// any further reason to stay open in the leech role.
func (l *Leech) hasMoreRequestableBlocks() bool {
	for _, pi := range l.torrent.MissingPieces() {
		has, _ := l.remoteHaveSnapshot().Has(pi)
		if has {
			return true
		}
	}
	return false
}

// maybeDeclareInterest tells the remote peer whether we're interested,
// based on whether it has any piece we're still missing.
func (l *Leech) maybeDeclareInterest() error {
	interested := false
	for _, pi := range l.torrent.MissingPieces() {
		has, _ := l.remoteHaveSnapshot().Has(pi)
		if has {
			interested = true
			break
		}
	}
	if err := l.conn.SetInterested(interested); err != nil {
		return err
	}
	if interested {
		return l.FillPipeline()
	}
	return nil
}

// assumeFullBitfield installs an all-true remote bitfield if no bitfield
// message has arrived yet, a compatibility concession for peers that skip
// the bitfield message and jump straight to have or unchoke.
func (l *Leech) assumeFullBitfield() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seenBitfield {
		return
	}
	l.seenBitfield = true
	for i := 0; i < l.remoteHave.Len(); i++ {
		_, _ = l.remoteHave.Add(i)
	}
}

func (l *Leech) remoteHaveSnapshot() *bitfield.Bitfield {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteHave
}

// ReleaseInFlight clears this session's in-flight marker for piece index
// pi, without sending anything to the remote peer. The swarm coordinator
// calls this when its stalled-request watchdog reclaims a block this
// session requested but never delivered, so the next FillPipeline can
// pick the piece back up instead of treating it as already covered.
func (l *Leech) ReleaseInFlight(pi int) {
	l.mu.Lock()
	delete(l.inFlight, pi)
	l.mu.Unlock()
}

// FillPipeline requests additional blocks up to PipelineLimit, for
// pieces the remote peer has and we're still missing, provided we're not
// currently choked.
func (l *Leech) FillPipeline() error {
	if l.conn.PeerChoking() {
		return nil
	}
	l.mu.Lock()
	slots := PipelineLimit - len(l.inFlight)
	l.mu.Unlock()

	for _, pi := range l.torrent.MissingPieces() {
		if slots <= 0 {
			break
		}
		has, _ := l.remoteHaveSnapshot().Has(pi)
		if !has {
			continue
		}
		l.mu.Lock()
		if l.inFlight[pi] {
			l.mu.Unlock()
			continue
		}
		piece, err := l.torrent.Piece(pi)
		l.mu.Unlock()
		if err != nil {
			continue
		}
		block, ok := piece.NextBlockToRequest()
		if !ok {
			continue
		}
		l.mu.Lock()
		l.inFlight[pi] = true
		l.mu.Unlock()
		if err := l.conn.Send(peerwire.NewRequest(pi, block.Offset, block.Length)); err != nil {
			return err
		}
		slots--
	}
	return nil
}
